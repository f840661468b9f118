package contracts

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExitType(t *testing.T) {
	for _, et := range AllExitTypes() {
		got, err := ParseExitType(string(et))
		require.NoError(t, err)
		assert.Equal(t, et, got)
	}

	_, err := ParseExitType("voluntary")
	assert.True(t, errors.Is(err, ErrUnknownExitType), "exit types are case-sensitive")

	_, err = ParseExitType("")
	assert.ErrorIs(t, err, ErrUnknownExitType)
}

func TestParseModule(t *testing.T) {
	m, err := ParseModule("lineage")
	require.NoError(t, err)
	assert.Equal(t, ModuleLineage, m)

	m, err = ParseModule("stateSnapshot")
	require.NoError(t, err)
	assert.Equal(t, ModuleStateSnapshot, m)

	_, err = ParseModule("memory")
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestExitMarker_HasModule(t *testing.T) {
	m := &ExitMarker{}
	assert.False(t, m.HasModule(ModuleLineage))
	assert.False(t, m.HasModule(ModuleStateSnapshot))
	assert.False(t, m.HasModule(Module("other")))

	m.Lineage = &Lineage{Generation: 1}
	m.StateSnapshot = &StateSnapshot{Hash: "abc"}
	assert.True(t, m.HasModule(ModuleLineage))
	assert.True(t, m.HasModule(ModuleStateSnapshot))
}

func TestMarkerInterface(t *testing.T) {
	var markers = []Marker{
		&ExitMarker{ID: "e1", Signature: "aa"},
		&ArrivalMarker{ID: "a1"},
	}
	assert.Equal(t, KindExit, markers[0].Kind())
	assert.True(t, markers[0].IsSigned())
	assert.Equal(t, KindArrival, markers[1].Kind())
	assert.Equal(t, "a1", markers[1].MarkerID())
	assert.False(t, markers[1].IsSigned())
}

func TestTransferRecord_JSON(t *testing.T) {
	rec := TransferRecord{
		Verified:     true,
		TransferTime: 1500 * time.Millisecond,
		Errors:       []string{},
		Continuity:   ContinuityResult{Valid: true, Errors: []string{}},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(1500), decoded["transferTimeMs"])
	assert.Equal(t, true, decoded["verified"])
	assert.Contains(t, decoded, "continuity")
	assert.NotContains(t, decoded, "TransferTime")
}
