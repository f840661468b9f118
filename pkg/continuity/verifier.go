// Package continuity checks that an arrival marker causally follows a
// specific exit marker.
package continuity

import (
	"strings"

	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
	"github.com/CellarDoorExits/mcp-server/pkg/crypto"
)

// Continuity errors.
const (
	ErrReferenceMismatch = "arrival does not reference this exit"
	ErrOutOfOrder        = "arrival precedes departure"
)

// Verifier links exit and arrival markers.
type Verifier struct {
	sig crypto.Verifier
}

// NewVerifier creates a continuity verifier that checks signatures with sig.
func NewVerifier(sig crypto.Verifier) *Verifier {
	return &Verifier{sig: sig}
}

// VerifyTransfer checks both signatures, the back-reference and the
// ordering. Signature failures go to Errors; linkage failures go to
// Continuity.Errors. Every check runs.
func (v *Verifier) VerifyTransfer(exit *contracts.ExitMarker, arrival *contracts.ArrivalMarker) contracts.TransferRecord {
	rec := contracts.TransferRecord{
		Errors:     []string{},
		Continuity: contracts.ContinuityResult{Errors: []string{}},
	}
	if exit == nil || arrival == nil {
		if exit == nil {
			rec.Errors = append(rec.Errors, "exit marker missing")
		}
		if arrival == nil {
			rec.Errors = append(rec.Errors, "arrival marker missing")
		}
		return rec
	}

	if res := v.sig.VerifyExit(exit); !res.Valid {
		rec.Errors = append(rec.Errors, "exit marker signature invalid: "+detail(res))
	}
	if res := v.sig.VerifyArrival(arrival); !res.Valid {
		rec.Errors = append(rec.Errors, "arrival marker signature invalid: "+detail(res))
	}

	if arrival.ExitMarkerID != exit.ID {
		rec.Continuity.Errors = append(rec.Continuity.Errors, ErrReferenceMismatch)
	}
	if arrival.Timestamp.Before(exit.Timestamp) {
		rec.Continuity.Errors = append(rec.Continuity.Errors, ErrOutOfOrder)
	}

	rec.TransferTime = arrival.Timestamp.Sub(exit.Timestamp)
	rec.Continuity.Valid = len(rec.Continuity.Errors) == 0
	rec.Verified = len(rec.Errors) == 0 && rec.Continuity.Valid
	return rec
}

func detail(res crypto.VerificationResult) string {
	if len(res.Errors) == 0 {
		return "unknown failure"
	}
	return strings.Join(res.Errors, "; ")
}
