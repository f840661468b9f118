// Package codec serializes EXIT and ARRIVAL markers to and from their
// canonical JSON interchange form.
//
// Encoding is RFC 8785 canonical: the same logical marker always encodes to
// the same bytes. Decoding validates shape against an embedded JSON Schema
// per marker kind and gates on the marker spec version before anything
// reaches the caller.
package codec

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/CellarDoorExits/mcp-server/pkg/canonicalize"
	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
)

// SupportedVersions is the semver constraint a decoded marker's
// specVersion must satisfy.
const SupportedVersions = "^1.0.0"

const schemaBaseURL = "https://schemas.cellar-door.dev/markers/"

//go:embed schemas/*.schema.json
var schemaFS embed.FS

type compiledSchemas struct {
	exit       *jsonschema.Schema
	arrival    *jsonschema.Schema
	constraint *semver.Constraints
}

var loadSchemas = sync.OnceValues(func() (*compiledSchemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true

	out := &compiledSchemas{}
	for _, entry := range []struct {
		file string
		dst  **jsonschema.Schema
	}{
		{"exit_marker.schema.json", &out.exit},
		{"arrival_marker.schema.json", &out.arrival},
	} {
		data, err := schemaFS.ReadFile("schemas/" + entry.file)
		if err != nil {
			return nil, fmt.Errorf("codec: read schema %s: %w", entry.file, err)
		}
		url := schemaBaseURL + entry.file
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("codec: schema load failed: %w", err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("codec: schema compile failed: %w", err)
		}
		*entry.dst = compiled
	}

	constraint, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return nil, fmt.Errorf("codec: version constraint: %w", err)
	}
	out.constraint = constraint
	return out, nil
})

// EncodeExit returns the canonical bytes of m.
func EncodeExit(m *contracts.ExitMarker) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("codec: encode exit: %w: nil marker", ErrInvalidMarker)
	}
	return canonicalize.JCS(m)
}

// EncodeArrival returns the canonical bytes of a.
func EncodeArrival(a *contracts.ArrivalMarker) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("codec: encode arrival: %w: nil marker", ErrInvalidMarker)
	}
	return canonicalize.JCS(a)
}

// Encode dispatches on the marker kind.
func Encode(m contracts.Marker) ([]byte, error) {
	switch v := m.(type) {
	case *contracts.ExitMarker:
		return EncodeExit(v)
	case *contracts.ArrivalMarker:
		return EncodeArrival(v)
	default:
		return nil, fmt.Errorf("codec: %w: unsupported marker %T", ErrInvalidMarker, m)
	}
}

// Decode parses either marker kind, selected by the "type" member.
func Decode(data []byte) (contracts.Marker, error) {
	doc, err := parseDocument("", data)
	if err != nil {
		return nil, err
	}
	kind, _ := doc["type"].(string)
	switch contracts.MarkerKind(kind) {
	case contracts.KindExit:
		return DecodeExit(data)
	case contracts.KindArrival:
		return DecodeArrival(data)
	default:
		return nil, decodeErr("", "type", fmt.Sprintf("unknown marker kind %q", kind), nil)
	}
}

// DecodeExit parses and validates an exit marker.
func DecodeExit(data []byte) (*contracts.ExitMarker, error) {
	const kind = string(contracts.KindExit)
	s, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	if err := validate(kind, s.exit, data); err != nil {
		return nil, err
	}

	var m contracts.ExitMarker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, decodeErr(kind, "", "malformed marker", err)
	}
	if err := checkVersion(kind, s.constraint, m.SpecVersion); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeArrival parses and validates an arrival marker.
func DecodeArrival(data []byte) (*contracts.ArrivalMarker, error) {
	const kind = string(contracts.KindArrival)
	s, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	if err := validate(kind, s.arrival, data); err != nil {
		return nil, err
	}

	var a contracts.ArrivalMarker
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, decodeErr(kind, "", "malformed marker", err)
	}
	if err := checkVersion(kind, s.constraint, a.SpecVersion); err != nil {
		return nil, err
	}
	return &a, nil
}

func parseDocument(kind string, data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, decodeErr(kind, "", "empty input", nil)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, decodeErr(kind, "", "invalid JSON", err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, decodeErr(kind, "", "marker must be a JSON object", nil)
	}
	return obj, nil
}

func validate(kind string, schema *jsonschema.Schema, data []byte) error {
	doc, err := parseDocument(kind, data)
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := firstLeaf(ve)
			return decodeErr(kind, strings.TrimPrefix(leaf.InstanceLocation, "/"), leaf.Message, err)
		}
		return decodeErr(kind, "", "schema validation failed", err)
	}
	return nil
}

func firstLeaf(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

func checkVersion(kind string, constraint *semver.Constraints, raw string) error {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return decodeErr(kind, "specVersion", fmt.Sprintf("invalid version %q", raw), err)
	}
	if !constraint.Check(v) {
		return decodeErr(kind, "specVersion", fmt.Sprintf("unsupported version %s (want %s)", v, SupportedVersions), nil)
	}
	return nil
}
