package codec

import (
	"fmt"
	"strings"
	"time"

	"github.com/CellarDoorExits/mcp-server/pkg/canonicalize"
	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
)

// Content id prefixes.
const (
	ExitIDPrefix    = "urn:cellar-door:exit:"
	ArrivalIDPrefix = "urn:cellar-door:arrival:"
)

// MaxSafeInteger is the largest integer a marker may carry. Canonical JSON
// numbers are IEEE 754 doubles, so larger values would not survive.
const MaxSafeInteger = 1<<53 - 1

// ExitParams are the caller-supplied fields of a new exit marker.
type ExitParams struct {
	Subject       string
	Origin        string
	ExitType      contracts.ExitType
	Reason        string
	Lineage       *contracts.Lineage
	StateSnapshot *contracts.StateSnapshot
	Timestamp     time.Time
}

// NewExitMarker builds an unsigned, sealed exit marker. Strings are NFC
// normalized and the timestamp is truncated to milliseconds in UTC so the
// marker survives an encode/decode round trip unchanged.
func NewExitMarker(p ExitParams) (*contracts.ExitMarker, error) {
	origin := canonicalize.NormalizeString(strings.TrimSpace(p.Origin))
	if origin == "" {
		return nil, fmt.Errorf("codec: %w: origin is required", ErrInvalidMarker)
	}
	subject := canonicalize.NormalizeString(strings.TrimSpace(p.Subject))
	if subject == "" {
		return nil, fmt.Errorf("codec: %w: subject is required", ErrInvalidMarker)
	}
	if !p.ExitType.Valid() {
		return nil, fmt.Errorf("codec: %w: %w", ErrInvalidMarker, contracts.ErrUnknownExitType)
	}
	if p.Timestamp.IsZero() {
		return nil, fmt.Errorf("codec: %w: timestamp is required", ErrInvalidMarker)
	}

	m := &contracts.ExitMarker{
		Type:        contracts.KindExit,
		SpecVersion: contracts.SpecVersion,
		Subject:     subject,
		Origin:      origin,
		ExitType:    p.ExitType,
		Timestamp:   NormalizeTime(p.Timestamp),
		Reason:      canonicalize.NormalizeString(p.Reason),
	}
	if p.Lineage != nil {
		if p.Lineage.Generation < 0 {
			return nil, fmt.Errorf("codec: %w: lineage generation must be >= 0", ErrInvalidMarker)
		}
		if int64(p.Lineage.Generation) > MaxSafeInteger {
			return nil, fmt.Errorf("codec: %w: lineage generation exceeds %d", ErrInvalidMarker, MaxSafeInteger)
		}
		m.Lineage = &contracts.Lineage{
			PredecessorID: canonicalize.NormalizeString(p.Lineage.PredecessorID),
			Platforms:     canonicalize.NormalizeStrings(p.Lineage.Platforms),
			Generation:    p.Lineage.Generation,
		}
	}
	if p.StateSnapshot != nil {
		if p.StateSnapshot.Hash == "" {
			return nil, fmt.Errorf("codec: %w: state snapshot hash is required", ErrInvalidMarker)
		}
		if p.StateSnapshot.SizeBytes < 0 {
			return nil, fmt.Errorf("codec: %w: state snapshot size must be >= 0", ErrInvalidMarker)
		}
		if p.StateSnapshot.SizeBytes > MaxSafeInteger {
			return nil, fmt.Errorf("codec: %w: state snapshot size exceeds %d", ErrInvalidMarker, MaxSafeInteger)
		}
		snap := *p.StateSnapshot
		snap.Location = canonicalize.NormalizeString(snap.Location)
		m.StateSnapshot = &snap
	}

	if err := SealExit(m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewArrivalMarker builds an unsigned, sealed arrival marker referencing exit.
func NewArrivalMarker(exit *contracts.ExitMarker, destination string, ts time.Time) (*contracts.ArrivalMarker, error) {
	if exit == nil || exit.ID == "" {
		return nil, fmt.Errorf("codec: %w: arrival requires a sealed exit marker", ErrInvalidMarker)
	}
	destination = canonicalize.NormalizeString(strings.TrimSpace(destination))
	if destination == "" {
		return nil, fmt.Errorf("codec: %w: destination is required", ErrInvalidMarker)
	}
	if ts.IsZero() {
		return nil, fmt.Errorf("codec: %w: timestamp is required", ErrInvalidMarker)
	}

	a := &contracts.ArrivalMarker{
		Type:         contracts.KindArrival,
		SpecVersion:  contracts.SpecVersion,
		ExitMarkerID: exit.ID,
		Subject:      exit.Subject,
		Destination:  destination,
		Timestamp:    NormalizeTime(ts),
	}
	if err := SealArrival(a); err != nil {
		return nil, err
	}
	return a, nil
}

// NormalizeTime is the timestamp form markers carry: UTC, millisecond
// precision, no monotonic reading.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// ExitContentID derives the content id of m: the hash of its canonical form
// without id, signer and signature.
func ExitContentID(m *contracts.ExitMarker) (string, error) {
	if err := checkIntegers(m); err != nil {
		return "", err
	}
	c := *m
	c.ID, c.Signer, c.Signature = "", "", ""
	h, err := canonicalize.CanonicalHash(&c)
	if err != nil {
		return "", fmt.Errorf("codec: exit content id: %w", err)
	}
	return ExitIDPrefix + h, nil
}

// ArrivalContentID derives the content id of a.
func ArrivalContentID(a *contracts.ArrivalMarker) (string, error) {
	c := *a
	c.ID, c.Signer, c.Signature = "", "", ""
	h, err := canonicalize.CanonicalHash(&c)
	if err != nil {
		return "", fmt.Errorf("codec: arrival content id: %w", err)
	}
	return ArrivalIDPrefix + h, nil
}

// SealExit recomputes and stores the content id of an unsigned marker.
func SealExit(m *contracts.ExitMarker) error {
	id, err := ExitContentID(m)
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}

// SealArrival recomputes and stores the content id of an unsigned marker.
func SealArrival(a *contracts.ArrivalMarker) error {
	id, err := ArrivalContentID(a)
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

// ExitSigningPayload is the canonical form of m without its signature. It
// covers id and signer, so the signature binds the signer's key.
func ExitSigningPayload(m *contracts.ExitMarker) ([]byte, error) {
	if err := checkIntegers(m); err != nil {
		return nil, err
	}
	c := *m
	c.Signature = ""
	b, err := canonicalize.JCS(&c)
	if err != nil {
		return nil, fmt.Errorf("codec: exit signing payload: %w", err)
	}
	return b, nil
}

// ArrivalSigningPayload is the canonical form of a without its signature.
func ArrivalSigningPayload(a *contracts.ArrivalMarker) ([]byte, error) {
	c := *a
	c.Signature = ""
	b, err := canonicalize.JCS(&c)
	if err != nil {
		return nil, fmt.Errorf("codec: arrival signing payload: %w", err)
	}
	return b, nil
}

// checkIntegers rejects integer fields that canonical JSON cannot represent
// exactly. Two such values can share a canonical form and so a signature.
func checkIntegers(m *contracts.ExitMarker) error {
	if m.Lineage != nil && (m.Lineage.Generation < 0 || int64(m.Lineage.Generation) > MaxSafeInteger) {
		return fmt.Errorf("codec: %w: lineage generation out of range", ErrInvalidMarker)
	}
	if m.StateSnapshot != nil && (m.StateSnapshot.SizeBytes < 0 || m.StateSnapshot.SizeBytes > MaxSafeInteger) {
		return fmt.Errorf("codec: %w: state snapshot size out of range", ErrInvalidMarker)
	}
	return nil
}
