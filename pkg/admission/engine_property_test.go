package admission

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/CellarDoorExits/mcp-server/pkg/codec"
	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
	"github.com/CellarDoorExits/mcp-server/pkg/crypto"
)

// TestAdmittedIffNoReasons checks admitted == (len(reasons) == 0) over
// generated markers and policies.
func TestAdmittedIffNoReasons(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	id, err := crypto.GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(crypto.NewEd25519Verifier())
	types := contracts.AllExitTypes()

	properties.Property("admitted iff reasons empty", prop.ForAll(
		func(typeIdx int, ageMin int64, sign, lineage, snapshot, requireSig bool, allowMask uint8, maxAgeMin int64, modMask uint8) bool {
			p := codec.ExitParams{
				Subject:   "agent",
				Origin:    "origin",
				ExitType:  types[typeIdx],
				Timestamp: now.Add(-time.Duration(ageMin) * time.Minute),
			}
			if lineage {
				p.Lineage = &contracts.Lineage{}
			}
			if snapshot {
				p.StateSnapshot = &contracts.StateSnapshot{Hash: "h"}
			}
			m, err := codec.NewExitMarker(p)
			if err != nil {
				return false
			}
			if sign {
				if err := crypto.SignExit(id, m); err != nil {
					return false
				}
			}

			pol := Policy{
				Name:                     "generated",
				RequireVerifiedDeparture: requireSig,
				MaxAge:                   time.Duration(maxAgeMin) * time.Minute,
			}
			for i, et := range types {
				if allowMask&(1<<i) != 0 {
					pol.AllowedExitTypes = append(pol.AllowedExitTypes, et)
				}
			}
			if modMask&1 != 0 {
				pol.RequiredModules = append(pol.RequiredModules, contracts.ModuleLineage)
			}
			if modMask&2 != 0 {
				pol.RequiredModules = append(pol.RequiredModules, contracts.ModuleStateSnapshot)
			}

			res := engine.Evaluate(m, pol, now)
			return res.Admitted == (len(res.Reasons) == 0) && res.Reasons != nil
		},
		gen.IntRange(0, len(types)-1),
		gen.Int64Range(0, 5000),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
		gen.UInt8Range(0, 15),
		gen.Int64Range(0, 3000),
		gen.UInt8Range(0, 3),
	))

	properties.Property("presets are deterministic for a fixed now", prop.ForAll(
		func(typeIdx int, ageMin int64) bool {
			m, err := codec.NewExitMarker(codec.ExitParams{
				Subject:   "agent",
				Origin:    "origin",
				ExitType:  types[typeIdx],
				Timestamp: now.Add(-time.Duration(ageMin) * time.Minute),
			})
			if err != nil {
				return false
			}
			for _, preset := range AllPresets() {
				pol, _ := preset.Policy()
				a := engine.Evaluate(m, pol, now)
				b := engine.Evaluate(m, pol, now)
				if a.Admitted != b.Admitted || len(a.Reasons) != len(b.Reasons) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(types)-1),
		gen.Int64Range(0, 5000),
	))

	properties.TestingRun(t)
}
