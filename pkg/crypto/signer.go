// Package crypto is the signature collaborator for markers: Ed25519
// identities addressed by did:key, signing of canonical marker payloads and
// verification of signed markers.
package crypto

import (
	"errors"
	"fmt"

	"github.com/CellarDoorExits/mcp-server/pkg/codec"
	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
)

// ErrSignature matches every *SignatureError via errors.Is.
var ErrSignature = errors.New("signature failure")

// ErrAlreadySigned is returned when signing a marker that carries a signature.
var ErrAlreadySigned = errors.New("marker already signed")

// SignatureError reports a signing or verification failure.
type SignatureError struct {
	Op  string
	Err error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SignatureError) Unwrap() error { return e.Err }

func (e *SignatureError) Is(target error) bool { return target == ErrSignature }

// Signer produces detached signatures for a single identity.
type Signer interface {
	DID() string
	Sign(payload []byte) (string, error)
}

// SignExit seals m, binds it to the signer's DID and signs it. A marker is
// signed at most once.
func SignExit(s Signer, m *contracts.ExitMarker) error {
	if m == nil {
		return &SignatureError{Op: "sign exit", Err: codec.ErrInvalidMarker}
	}
	if m.IsSigned() {
		return &SignatureError{Op: "sign exit", Err: ErrAlreadySigned}
	}
	if err := codec.SealExit(m); err != nil {
		return &SignatureError{Op: "sign exit", Err: err}
	}
	m.Signer = s.DID()
	payload, err := codec.ExitSigningPayload(m)
	if err != nil {
		m.Signer = ""
		return &SignatureError{Op: "sign exit", Err: err}
	}
	sig, err := s.Sign(payload)
	if err != nil {
		m.Signer = ""
		return &SignatureError{Op: "sign exit", Err: err}
	}
	m.Signature = sig
	return nil
}

// SignArrival seals a, binds it to the signer's DID and signs it.
func SignArrival(s Signer, a *contracts.ArrivalMarker) error {
	if a == nil {
		return &SignatureError{Op: "sign arrival", Err: codec.ErrInvalidMarker}
	}
	if a.IsSigned() {
		return &SignatureError{Op: "sign arrival", Err: ErrAlreadySigned}
	}
	if err := codec.SealArrival(a); err != nil {
		return &SignatureError{Op: "sign arrival", Err: err}
	}
	a.Signer = s.DID()
	payload, err := codec.ArrivalSigningPayload(a)
	if err != nil {
		a.Signer = ""
		return &SignatureError{Op: "sign arrival", Err: err}
	}
	sig, err := s.Sign(payload)
	if err != nil {
		a.Signer = ""
		return &SignatureError{Op: "sign arrival", Err: err}
	}
	a.Signature = sig
	return nil
}
