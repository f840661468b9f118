package admission

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
)

func TestParsePreset(t *testing.T) {
	tests := []struct {
		in   string
		want Preset
	}{
		{"OPEN_DOOR", PresetOpenDoor},
		{"strict", PresetStrict},
		{"  Emergency_Only ", PresetEmergencyOnly},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePreset(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePreset_Unknown(t *testing.T) {
	for _, name := range []string{"", "NONE", "open door", "ALLOW_ALL"} {
		_, err := ParsePreset(name)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownPolicy)

		var upe *UnknownPolicyError
		require.True(t, errors.As(err, &upe))
		assert.Equal(t, name, upe.Name)
		assert.Contains(t, err.Error(), "OPEN_DOOR, STRICT, EMERGENCY_ONLY")
	}
}

func TestPresetPolicies(t *testing.T) {
	for _, p := range AllPresets() {
		pol, err := p.Policy()
		require.NoError(t, err)
		assert.Equal(t, string(p), pol.Name)
		assert.True(t, pol.RequireVerifiedDeparture)
	}

	s := Strict()
	assert.Equal(t, []contracts.ExitType{contracts.ExitVoluntary}, s.AllowedExitTypes)
	assert.Equal(t, 24*time.Hour, s.MaxAge)
	assert.Equal(t, []contracts.Module{contracts.ModuleLineage, contracts.ModuleStateSnapshot}, s.RequiredModules)

	_, err := Preset("BOGUS").Policy()
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestPresetsAreFresh(t *testing.T) {
	a := Strict()
	a.AllowedExitTypes[0] = contracts.ExitForced
	a.RequiredModules = a.RequiredModules[:0]

	b := Strict()
	assert.Equal(t, contracts.ExitVoluntary, b.AllowedExitTypes[0])
	assert.Len(t, b.RequiredModules, 2)
}

func TestPolicyClone(t *testing.T) {
	a := Strict()
	c := a.Clone()
	c.AllowedExitTypes[0] = contracts.ExitForced
	assert.Equal(t, contracts.ExitVoluntary, a.AllowedExitTypes[0])
}

func TestDescribe(t *testing.T) {
	d := Strict().Describe()
	assert.Equal(t, Description{
		Name:                     "STRICT",
		RequireVerifiedDeparture: true,
		AllowedExitTypes:         []string{"Voluntary"},
		MaxAgeSeconds:            86400,
		RequiredModules:          []string{"lineage", "stateSnapshot"},
	}, d)

	open := OpenDoor().Describe()
	assert.Empty(t, open.AllowedExitTypes)
	assert.NotNil(t, open.AllowedExitTypes)
	assert.Zero(t, open.MaxAgeSeconds)
}

func TestCompileRule(t *testing.T) {
	r, err := CompileRule("ok", `marker.exitType == "Voluntary"`)
	require.NoError(t, err)
	assert.Equal(t, "ok", r.Name)

	_, err = CompileRule("", "true")
	assert.Error(t, err)

	_, err = CompileRule("syntax", `marker.origin ==`)
	assert.Error(t, err)

	_, err = CompileRule("not-bool", `ageSeconds + 1`)
	assert.Error(t, err)

	_, err = CompileRule("unknown-var", `agent.name == "x"`)
	assert.Error(t, err)
}
