package policyloader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CellarDoorExits/mcp-server/pkg/admission"
	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
)

const partnerIntake = `
name: partner-intake
base: STRICT
allowedExitTypes: [Voluntary, Forced]
maxAgeSeconds: 3600
requiredModules: [lineage]
rules:
  - name: origin-allowlisted
    expr: marker.origin in ["platform-a", "platform-b"]
`

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(partnerIntake), 0600); err != nil {
		t.Fatal(err)
	}

	l, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	p := l.Policy
	assert.Equal(t, "partner-intake", p.Name)
	assert.True(t, p.RequireVerifiedDeparture, "inherited from STRICT")
	assert.Equal(t, []contracts.ExitType{contracts.ExitVoluntary, contracts.ExitForced}, p.AllowedExitTypes)
	assert.Equal(t, time.Hour, p.MaxAge)
	assert.Equal(t, []contracts.Module{contracts.ModuleLineage}, p.RequiredModules)
	require.Len(t, p.Rules, 1)
	assert.Equal(t, "origin-allowlisted", p.Rules[0].Name)
	assert.Len(t, l.Hash, 64)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_InheritsBase(t *testing.T) {
	l, err := Parse([]byte("name: relaxed-strict\nbase: strict\nmaxAgeSeconds: 0\n"))
	require.NoError(t, err)
	assert.Zero(t, l.Policy.MaxAge)
	assert.Equal(t, []contracts.ExitType{contracts.ExitVoluntary}, l.Policy.AllowedExitTypes)
	assert.Len(t, l.Policy.RequiredModules, 2)
}

func TestParse_NoBase(t *testing.T) {
	l, err := Parse([]byte("name: bare\n"))
	require.NoError(t, err)
	assert.False(t, l.Policy.RequireVerifiedDeparture)
	assert.Empty(t, l.Policy.AllowedExitTypes)
}

func TestParse_HashTracksContent(t *testing.T) {
	a, err := Parse([]byte("name: one\n"))
	require.NoError(t, err)
	b, err := Parse([]byte("name: two\n"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		is   error
	}{
		{"empty", "", nil},
		{"no name", "base: STRICT\n", nil},
		{"unknown key", "name: x\nallowAll: true\n", nil},
		{"unknown base", "name: x\nbase: PERMISSIVE\n", admission.ErrUnknownPolicy},
		{"unknown exit type", "name: x\nallowedExitTypes: [Retired]\n", contracts.ErrUnknownExitType},
		{"unknown module", "name: x\nrequiredModules: [telemetry]\n", contracts.ErrUnknownModule},
		{"negative age", "name: x\nmaxAgeSeconds: -1\n", nil},
		{"bad rule", "name: x\nrules:\n  - name: r\n    expr: 'marker.origin =='\n", nil},
		{"non-bool rule", "name: x\nrules:\n  - name: r\n    expr: 'ageSeconds'\n", nil},
		{"duplicate rule", "name: x\nrules:\n  - name: r\n    expr: 'true'\n  - name: r\n    expr: 'false'\n", nil},
		{"malformed", "name: [unclosed\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("error %v does not match %v", err, tt.is)
			}
		})
	}
}
