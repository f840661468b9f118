package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/CellarDoorExits/mcp-server/pkg/admission"
	"github.com/CellarDoorExits/mcp-server/pkg/observability"
	"github.com/CellarDoorExits/mcp-server/pkg/policyloader"
	"github.com/CellarDoorExits/mcp-server/pkg/session"
)

// Config holds process configuration.
type Config struct {
	LogLevel   string
	Policy     string // preset name of the deployment policy
	PolicyFile string // YAML deployment policy
	PlatformID string // destination recorded on minted arrivals
	SignRPS    float64
	SignBurst  int

	MaxSessions int           // open sessions held before the least recently used is closed
	SessionIdle time.Duration // idle time after which a session is closed

	OTelEnabled  bool
	OTLPEndpoint string
	OTelInsecure bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	platformID := os.Getenv("CELLAR_DOOR_PLATFORM_ID")
	if platformID == "" {
		platformID = "cellar-door-local"
	}

	signRPS := 10.0
	if v := os.Getenv("CELLAR_DOOR_SIGN_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("config: CELLAR_DOOR_SIGN_RPS: %w", err)
		}
		signRPS = f
	}

	signBurst := 20
	if v := os.Getenv("CELLAR_DOOR_SIGN_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: CELLAR_DOOR_SIGN_BURST: %w", err)
		}
		signBurst = n
	}
	if signRPS > 0 && signBurst < 1 {
		return nil, fmt.Errorf("config: CELLAR_DOOR_SIGN_BURST must be at least 1 when CELLAR_DOOR_SIGN_RPS is positive, got %d", signBurst)
	}

	maxSessions := session.DefaultMaxSessions
	if v := os.Getenv("CELLAR_DOOR_MAX_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: CELLAR_DOOR_MAX_SESSIONS: %w", err)
		}
		maxSessions = n
	}

	sessionIdle := session.DefaultIdleTimeout
	if v := os.Getenv("CELLAR_DOOR_SESSION_IDLE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: CELLAR_DOOR_SESSION_IDLE: %w", err)
		}
		sessionIdle = d
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	return &Config{
		LogLevel:     logLevel,
		Policy:       strings.TrimSpace(os.Getenv("CELLAR_DOOR_POLICY")),
		PolicyFile:   strings.TrimSpace(os.Getenv("CELLAR_DOOR_POLICY_FILE")),
		PlatformID:   platformID,
		SignRPS:      signRPS,
		SignBurst:    signBurst,
		MaxSessions:  maxSessions,
		SessionIdle:  sessionIdle,
		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint: endpoint,
		OTelInsecure: os.Getenv("OTEL_INSECURE") == "true",
	}, nil
}

// SlogLevel maps LogLevel onto slog. Unknown values mean INFO.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// ServerPolicy loads the deployment policy. It returns nil when none is
// configured; configuring both a preset and a file is an error.
func (c *Config) ServerPolicy() (*admission.Policy, error) {
	switch {
	case c.Policy != "" && c.PolicyFile != "":
		return nil, fmt.Errorf("config: CELLAR_DOOR_POLICY and CELLAR_DOOR_POLICY_FILE are mutually exclusive")
	case c.PolicyFile != "":
		l, err := policyloader.LoadFile(c.PolicyFile)
		if err != nil {
			return nil, err
		}
		slog.Default().Info("deployment policy loaded",
			"policy", l.Policy.Name,
			"file", c.PolicyFile,
			"sha256", l.Hash,
		)
		return &l.Policy, nil
	case c.Policy != "":
		preset, err := admission.ParsePreset(c.Policy)
		if err != nil {
			return nil, fmt.Errorf("config: CELLAR_DOOR_POLICY: %w", err)
		}
		p, err := preset.Policy()
		if err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, nil
	}
}

// SessionOptions returns the registry options for the configured signing
// limits, session cap and idle timeout.
func (c *Config) SessionOptions() []session.RegistryOption {
	return []session.RegistryOption{
		session.WithSessionOptions(session.WithRateLimit(c.SignRPS, c.SignBurst)),
		session.WithMaxSessions(c.MaxSessions),
		session.WithIdleTimeout(c.SessionIdle),
	}
}

// Observability returns the telemetry configuration.
func (c *Config) Observability() *observability.Config {
	oc := observability.DefaultConfig()
	oc.Enabled = c.OTelEnabled
	oc.OTLPEndpoint = c.OTLPEndpoint
	oc.Insecure = c.OTelInsecure
	return oc
}
