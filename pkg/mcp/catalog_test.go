package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCatalog_Builtins(t *testing.T) {
	c, err := NewToolCatalog()
	require.NoError(t, err)

	ref, ok := c.Lookup(ToolAdmitAgent)
	require.True(t, ok)
	assert.Contains(t, ref.Description, "arrival")

	_, ok = c.Lookup("missing")
	assert.False(t, ok)
}

func TestToolCatalog_Search(t *testing.T) {
	c, err := NewToolCatalog()
	require.NoError(t, err)

	results := c.Search("VERIFY")
	require.Len(t, results, 2)
	assert.Equal(t, ToolVerifyMarker, results[0].Name)
	assert.Equal(t, ToolVerifyTransfer, results[1].Name)

	assert.Empty(t, c.Search("no-such-tool"))
}

func TestToolCatalog_Register(t *testing.T) {
	c, err := NewToolCatalog()
	require.NoError(t, err)

	assert.Error(t, c.Register(ToolRef{Schema: `{}`}))
	assert.Error(t, c.Register(ToolRef{Name: "broken", Schema: `{"type": `}))
	assert.Error(t, c.Register(ToolRef{Name: "bad-type", Schema: `{"type": "widget"}`}))

	require.NoError(t, c.Register(ToolRef{Name: "ping", Schema: `{"type": "object"}`}))
	assert.NoError(t, c.ValidateArguments("ping", nil))
}

func TestToolCatalog_ValidateArguments(t *testing.T) {
	c, err := NewToolCatalog()
	require.NoError(t, err)

	ok := map[string]any{
		"origin":   "platform-a",
		"exitType": "Emergency",
		"lineage":  map[string]any{"generation": 3, "platforms": []string{"x", "y"}},
	}
	assert.NoError(t, c.ValidateArguments(ToolCreateExitMarker, ok))

	negative := map[string]any{
		"origin":   "platform-a",
		"exitType": "Emergency",
		"lineage":  map[string]any{"generation": -1},
	}
	assert.Error(t, c.ValidateArguments(ToolCreateExitMarker, negative))

	huge := map[string]any{
		"origin":        "platform-a",
		"exitType":      "Emergency",
		"lineage":       map[string]any{"generation": int64(1) << 53},
		"stateSnapshot": map[string]any{"hash": "sha256:00"},
	}
	assert.Error(t, c.ValidateArguments(ToolCreateExitMarker, huge))
	huge["lineage"] = map[string]any{"generation": int64(1)<<53 - 1}
	assert.NoError(t, c.ValidateArguments(ToolCreateExitMarker, huge))
	huge["stateSnapshot"] = map[string]any{"hash": "sha256:00", "sizeBytes": int64(1) << 53}
	assert.Error(t, c.ValidateArguments(ToolCreateExitMarker, huge))

	assert.Error(t, c.ValidateArguments(ToolVerifyMarker, map[string]any{"marker": 42}))
	assert.NoError(t, c.ValidateArguments(ToolVerifyMarker, map[string]any{"marker": "{}"}))
	assert.Error(t, c.ValidateArguments("nope", nil))
}
