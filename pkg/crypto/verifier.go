package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/CellarDoorExits/mcp-server/pkg/codec"
	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
)

// VerificationResult is the single result shape for marker verification.
type VerificationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Verifier checks signed markers.
type Verifier interface {
	VerifyExit(m *contracts.ExitMarker) VerificationResult
	VerifyArrival(a *contracts.ArrivalMarker) VerificationResult
}

// Ed25519Verifier verifies markers against the key embedded in their
// signer DID. It holds no state and is safe for concurrent use.
type Ed25519Verifier struct{}

// NewEd25519Verifier creates a new verifier.
func NewEd25519Verifier() *Ed25519Verifier {
	return &Ed25519Verifier{}
}

// VerifyExit checks the content id and signature of m.
func (v *Ed25519Verifier) VerifyExit(m *contracts.ExitMarker) VerificationResult {
	if m == nil {
		return invalid("marker missing")
	}
	wantID, err := codec.ExitContentID(m)
	if err != nil {
		return invalid(err.Error())
	}
	payload, err := codec.ExitSigningPayload(m)
	if err != nil {
		return invalid(err.Error())
	}
	return check(m.ID, wantID, m.Signer, m.Signature, payload)
}

// VerifyArrival checks the content id and signature of a.
func (v *Ed25519Verifier) VerifyArrival(a *contracts.ArrivalMarker) VerificationResult {
	if a == nil {
		return invalid("marker missing")
	}
	wantID, err := codec.ArrivalContentID(a)
	if err != nil {
		return invalid(err.Error())
	}
	payload, err := codec.ArrivalSigningPayload(a)
	if err != nil {
		return invalid(err.Error())
	}
	return check(a.ID, wantID, a.Signer, a.Signature, payload)
}

func check(id, wantID, signer, signature string, payload []byte) VerificationResult {
	var errs []string
	if id != wantID {
		errs = append(errs, "id does not match marker content")
	}
	if signature == "" {
		errs = append(errs, "missing signature")
		return VerificationResult{Valid: false, Errors: errs}
	}
	pub, err := PublicKeyFromDID(signer)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid signer: %v", err))
		return VerificationResult{Valid: false, Errors: errs}
	}
	ok, err := Verify(pub, signature, payload)
	switch {
	case err != nil:
		errs = append(errs, err.Error())
	case !ok:
		errs = append(errs, "signature does not verify")
	}
	if len(errs) > 0 {
		return VerificationResult{Valid: false, Errors: errs}
	}
	return VerificationResult{Valid: true, Errors: []string{}}
}

func invalid(msg string) VerificationResult {
	return VerificationResult{Valid: false, Errors: []string{msg}}
}

// Verify checks a hex encoded signature against a public key.
func Verify(pub ed25519.PublicKey, sigHex string, data []byte) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature size: %d", len(sig))
	}
	return ed25519.Verify(pub, data, sig), nil
}
