package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CellarDoorExits/mcp-server/pkg/admission"
	"github.com/CellarDoorExits/mcp-server/pkg/config"
	"github.com/CellarDoorExits/mcp-server/pkg/session"
)

var envVars = []string{
	"LOG_LEVEL",
	"CELLAR_DOOR_POLICY",
	"CELLAR_DOOR_POLICY_FILE",
	"CELLAR_DOOR_PLATFORM_ID",
	"CELLAR_DOOR_SIGN_RPS",
	"CELLAR_DOOR_SIGN_BURST",
	"CELLAR_DOOR_MAX_SESSIONS",
	"CELLAR_DOOR_SESSION_IDLE",
	"OTEL_ENABLED",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
	"OTEL_INSECURE",
}

func clearEnv(t *testing.T) {
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}

// TestLoad_Defaults verifies the process boots with no environment.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "cellar-door-local", cfg.PlatformID)
	assert.Equal(t, 10.0, cfg.SignRPS)
	assert.Equal(t, 20, cfg.SignBurst)
	assert.Equal(t, session.DefaultMaxSessions, cfg.MaxSessions)
	assert.Equal(t, session.DefaultIdleTimeout, cfg.SessionIdle)
	assert.Len(t, cfg.SessionOptions(), 3)
	assert.False(t, cfg.OTelEnabled)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())

	p, err := cfg.ServerPolicy()
	require.NoError(t, err)
	assert.Nil(t, p, "no deployment policy by default")
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("CELLAR_DOOR_POLICY", "emergency_only")
	t.Setenv("CELLAR_DOOR_PLATFORM_ID", "platform-b")
	t.Setenv("CELLAR_DOOR_SIGN_RPS", "2.5")
	t.Setenv("CELLAR_DOOR_SIGN_BURST", "4")
	t.Setenv("CELLAR_DOOR_MAX_SESSIONS", "16")
	t.Setenv("CELLAR_DOOR_SESSION_IDLE", "90s")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_INSECURE", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "platform-b", cfg.PlatformID)
	assert.Equal(t, 2.5, cfg.SignRPS)
	assert.Equal(t, 4, cfg.SignBurst)
	assert.Equal(t, 16, cfg.MaxSessions)
	assert.Equal(t, 90*time.Second, cfg.SessionIdle)

	oc := cfg.Observability()
	assert.True(t, oc.Enabled)
	assert.True(t, oc.Insecure)
	assert.Equal(t, "collector:4317", oc.OTLPEndpoint)

	p, err := cfg.ServerPolicy()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "EMERGENCY_ONLY", p.Name)
}

func TestLoad_BadNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("CELLAR_DOOR_SIGN_RPS", "fast")
	_, err := config.Load()
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("CELLAR_DOOR_SIGN_BURST", "1.5")
	_, err = config.Load()
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("CELLAR_DOOR_MAX_SESSIONS", "many")
	_, err = config.Load()
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("CELLAR_DOOR_SESSION_IDLE", "30")
	_, err = config.Load()
	assert.Error(t, err)
}

func TestLoad_BurstMustAllowSigning(t *testing.T) {
	tests := []struct {
		name  string
		rps   string
		burst string
		ok    bool
	}{
		{"zero burst with limit", "5", "0", false},
		{"negative burst with limit", "5", "-3", false},
		{"zero burst with default limit", "", "0", false},
		{"zero burst without limit", "0", "0", true},
		{"burst of one", "5", "1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("CELLAR_DOOR_SIGN_RPS", tt.rps)
			t.Setenv("CELLAR_DOOR_SIGN_BURST", tt.burst)
			_, err := config.Load()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "CELLAR_DOOR_SIGN_BURST must be at least 1")
		})
	}
}

func TestSlogLevel_Unknown(t *testing.T) {
	cfg := &config.Config{LogLevel: "chatty"}
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestServerPolicy_UnknownPreset(t *testing.T) {
	cfg := &config.Config{Policy: "PERMISSIVE"}
	_, err := cfg.ServerPolicy()
	assert.ErrorIs(t, err, admission.ErrUnknownPolicy)
}

func TestServerPolicy_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: intake\nbase: OPEN_DOOR\nallowedExitTypes: [Forced]\n"), 0600))

	cfg := &config.Config{PolicyFile: path}
	p, err := cfg.ServerPolicy()
	require.NoError(t, err)
	assert.Equal(t, "intake", p.Name)
	assert.True(t, p.RequireVerifiedDeparture)
}

func TestServerPolicy_BothSet(t *testing.T) {
	cfg := &config.Config{Policy: "STRICT", PolicyFile: "/etc/policy.yaml"}
	_, err := cfg.ServerPolicy()
	assert.Error(t, err)
}
