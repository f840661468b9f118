// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and content hashing for markers. Signatures and content ids
// are computed over these bytes, so any two values with the same logical
// content must canonicalize identically.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// v is marshalled with encoding/json first so struct tags are respected,
// then transformed: object keys sorted by UTF-16 code units, numbers in
// ECMAScript form, no insignificant whitespace, no HTML escaping.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	return Transform(intermediate)
}

// Transform canonicalizes raw JSON bytes.
func Transform(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes SHA-256 of raw bytes and returns it hex encoded.
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// NormalizeString returns s in Unicode Normalization Form C. JCS does not
// normalize strings, so visually identical text in different forms would
// otherwise produce different content ids.
func NormalizeString(s string) string {
	return norm.NFC.String(s)
}

// NormalizeStrings applies NormalizeString to every element. A nil or empty
// input yields nil.
func NormalizeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = NormalizeString(s)
	}
	return out
}
