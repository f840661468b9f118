package admission

import (
	"fmt"
	"slices"
	"time"

	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
	"github.com/CellarDoorExits/mcp-server/pkg/crypto"
)

// Admission reasons.
const (
	ReasonMarkerMissing    = "marker missing"
	ReasonSignatureInvalid = "signature invalid"
	ReasonExitType         = "exit type not permitted"
	ReasonExpired          = "marker expired"
	ReasonFutureTimestamp  = "marker timestamp in the future"
	reasonMissingModule    = "missing required module: %s"
	reasonRule             = "rule not satisfied: %s"
)

// Engine evaluates exit markers against policies.
type Engine struct {
	verifier crypto.Verifier
}

// NewEngine creates an engine that checks signatures with v.
func NewEngine(v crypto.Verifier) *Engine {
	return &Engine{verifier: v}
}

// Evaluate runs every check of p against m and collects all failures in a
// fixed order. It reads no clock: now is the evaluation instant.
func (e *Engine) Evaluate(m *contracts.ExitMarker, p Policy, now time.Time) contracts.AdmissionResult {
	result := contracts.AdmissionResult{
		Reasons:     []string{},
		Policy:      p.Name,
		EvaluatedAt: now.UTC(),
	}
	if m == nil {
		result.Reasons = append(result.Reasons, ReasonMarkerMissing)
		return result
	}

	// 1. Signature
	if p.RequireVerifiedDeparture {
		if e.verifier == nil || !e.verifier.VerifyExit(m).Valid {
			result.Reasons = append(result.Reasons, ReasonSignatureInvalid)
		}
	}

	// 2. Exit type
	if len(p.AllowedExitTypes) > 0 && !exitTypePermitted(m.ExitType, p.AllowedExitTypes) {
		result.Reasons = append(result.Reasons, ReasonExitType)
	}

	// 3. Age
	age := now.Sub(m.Timestamp)
	if p.MaxAge > 0 && age > p.MaxAge {
		result.Reasons = append(result.Reasons, ReasonExpired)
	}
	if m.Timestamp.After(now) {
		result.Reasons = append(result.Reasons, ReasonFutureTimestamp)
	}

	// 4. Modules
	for _, mod := range p.RequiredModules {
		if !m.HasModule(mod) {
			result.Reasons = append(result.Reasons, fmt.Sprintf(reasonMissingModule, mod))
		}
	}

	// 5. Deployment rules
	if len(p.Rules) > 0 {
		input := ruleInput(m)
		for _, r := range p.Rules {
			if !r.satisfied(input, int64(age/time.Second)) {
				result.Reasons = append(result.Reasons, fmt.Sprintf(reasonRule, r.Name))
			}
		}
	}

	result.Admitted = len(result.Reasons) == 0
	return result
}

func exitTypePermitted(t contracts.ExitType, allowed []contracts.ExitType) bool {
	switch t {
	case contracts.ExitVoluntary, contracts.ExitForced, contracts.ExitEmergency, contracts.ExitKeyCompromise:
		return slices.Contains(allowed, t)
	default:
		return false
	}
}
