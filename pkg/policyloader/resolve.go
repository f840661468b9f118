// Package policyloader resolves which admission policy governs a request
// and loads deployment-defined policies from YAML files.
//
// Precedence is fixed: a deployment-configured server policy always wins
// and the caller's choice is ignored; otherwise the caller may pick one of
// the presets by name; otherwise OPEN_DOOR applies. Unknown names fail.
package policyloader

import (
	"context"
	"log/slog"
	"strings"

	"github.com/CellarDoorExits/mcp-server/pkg/admission"
)

// Resolve applies the precedence rule. server may be nil.
func Resolve(server *admission.Policy, callerName string) (admission.Policy, error) {
	if server != nil {
		return server.Clone(), nil
	}
	if strings.TrimSpace(callerName) != "" {
		preset, err := admission.ParsePreset(callerName)
		if err != nil {
			return admission.Policy{}, err
		}
		return preset.Policy()
	}
	return admission.OpenDoor(), nil
}

// Resolver holds the deployment policy for the lifetime of the process.
type Resolver struct {
	server *admission.Policy
	logger *slog.Logger
}

// NewResolver creates a resolver. A nil server policy lets callers choose
// among the presets.
func NewResolver(server *admission.Policy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{logger: logger.With("component", "policyloader")}
	if server != nil {
		p := server.Clone()
		r.server = &p
	}
	return r
}

// Resolve returns the policy for a request naming callerName.
func (r *Resolver) Resolve(ctx context.Context, callerName string) (admission.Policy, error) {
	if r.server != nil && strings.TrimSpace(callerName) != "" && !strings.EqualFold(strings.TrimSpace(callerName), r.server.Name) {
		r.logger.WarnContext(ctx, "caller policy ignored, server policy in force",
			"requested", callerName,
			"policy", r.server.Name,
		)
	}
	p, err := Resolve(r.server, callerName)
	if err != nil {
		r.logger.WarnContext(ctx, "policy resolution failed", "requested", callerName, "error", err)
		return admission.Policy{}, err
	}
	return p, nil
}

// ServerPolicy reports the deployment policy, if one is configured.
func (r *Resolver) ServerPolicy() (admission.Policy, bool) {
	if r.server == nil {
		return admission.Policy{}, false
	}
	return r.server.Clone(), true
}

// Listing describes what a caller can select.
type Listing struct {
	// Server is set when a deployment policy overrides caller selection.
	Server  *admission.Description  `json:"server,omitempty"`
	Presets []admission.Description `json:"presets"`
	Default string                  `json:"default"`
}

// List describes the server policy and the presets.
func (r *Resolver) List() Listing {
	l := Listing{Default: string(admission.PresetOpenDoor)}
	for _, preset := range admission.AllPresets() {
		p, err := preset.Policy()
		if err != nil {
			continue
		}
		l.Presets = append(l.Presets, p.Describe())
	}
	if r.server != nil {
		d := r.server.Describe()
		l.Server = &d
		l.Default = r.server.Name
	}
	return l
}
