// Package admission decides whether a departing agent's exit marker
// qualifies for entry under a policy.
//
// Policies are value objects. The three presets are built fresh on every
// call, so no caller can mutate a preset another caller will see.
package admission

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
)

// ErrUnknownPolicy matches every *UnknownPolicyError via errors.Is.
var ErrUnknownPolicy = errors.New("unknown policy")

// UnknownPolicyError reports a policy name outside the preset table.
type UnknownPolicyError struct {
	Name string
}

func (e *UnknownPolicyError) Error() string {
	names := make([]string, 0, len(AllPresets()))
	for _, p := range AllPresets() {
		names = append(names, string(p))
	}
	return fmt.Sprintf("unknown policy %q (known: %s)", e.Name, strings.Join(names, ", "))
}

func (e *UnknownPolicyError) Is(target error) bool { return target == ErrUnknownPolicy }

// Policy is a named admission configuration.
type Policy struct {
	Name                     string
	RequireVerifiedDeparture bool
	// AllowedExitTypes empty means every exit type is allowed.
	AllowedExitTypes []contracts.ExitType
	// MaxAge zero means no age bound.
	MaxAge          time.Duration
	RequiredModules []contracts.Module
	Rules           []Rule
}

// Clone returns a deep copy of p.
func (p Policy) Clone() Policy {
	c := p
	c.AllowedExitTypes = slices.Clone(p.AllowedExitTypes)
	c.RequiredModules = slices.Clone(p.RequiredModules)
	c.Rules = slices.Clone(p.Rules)
	return c
}

// Description is the externally visible shape of a policy.
type Description struct {
	Name                     string   `json:"name"`
	RequireVerifiedDeparture bool     `json:"requireVerifiedDeparture"`
	AllowedExitTypes         []string `json:"allowedExitTypes"`
	MaxAgeSeconds            int64    `json:"maxAgeSeconds,omitempty"`
	RequiredModules          []string `json:"requiredModules"`
	Rules                    []string `json:"rules,omitempty"`
}

// Describe renders p for listings.
func (p Policy) Describe() Description {
	d := Description{
		Name:                     p.Name,
		RequireVerifiedDeparture: p.RequireVerifiedDeparture,
		AllowedExitTypes:         make([]string, 0, len(p.AllowedExitTypes)),
		MaxAgeSeconds:            int64(p.MaxAge / time.Second),
		RequiredModules:          make([]string, 0, len(p.RequiredModules)),
	}
	for _, t := range p.AllowedExitTypes {
		d.AllowedExitTypes = append(d.AllowedExitTypes, t.String())
	}
	for _, m := range p.RequiredModules {
		d.RequiredModules = append(d.RequiredModules, string(m))
	}
	for _, r := range p.Rules {
		d.Rules = append(d.Rules, r.Name)
	}
	return d
}

// Preset names one of the built-in policies.
type Preset string

const (
	PresetOpenDoor      Preset = "OPEN_DOOR"
	PresetStrict        Preset = "STRICT"
	PresetEmergencyOnly Preset = "EMERGENCY_ONLY"
)

// AllPresets lists the externally selectable presets.
func AllPresets() []Preset {
	return []Preset{PresetOpenDoor, PresetStrict, PresetEmergencyOnly}
}

// ParsePreset resolves a preset name, ignoring case and surrounding space.
func ParsePreset(name string) (Preset, error) {
	switch p := Preset(strings.ToUpper(strings.TrimSpace(name))); p {
	case PresetOpenDoor, PresetStrict, PresetEmergencyOnly:
		return p, nil
	default:
		return "", &UnknownPolicyError{Name: name}
	}
}

// Policy builds the policy for the preset.
func (p Preset) Policy() (Policy, error) {
	switch p {
	case PresetOpenDoor:
		return OpenDoor(), nil
	case PresetStrict:
		return Strict(), nil
	case PresetEmergencyOnly:
		return EmergencyOnly(), nil
	default:
		return Policy{}, &UnknownPolicyError{Name: string(p)}
	}
}

// OpenDoor only requires a verified departure.
func OpenDoor() Policy {
	return Policy{
		Name:                     string(PresetOpenDoor),
		RequireVerifiedDeparture: true,
	}
}

// Strict admits voluntary departures younger than a day that carry both
// lineage and a state snapshot.
func Strict() Policy {
	return Policy{
		Name:                     string(PresetStrict),
		RequireVerifiedDeparture: true,
		AllowedExitTypes:         []contracts.ExitType{contracts.ExitVoluntary},
		MaxAge:                   24 * time.Hour,
		RequiredModules:          []contracts.Module{contracts.ModuleLineage, contracts.ModuleStateSnapshot},
	}
}

// EmergencyOnly admits emergency departures only.
func EmergencyOnly() Policy {
	return Policy{
		Name:                     string(PresetEmergencyOnly),
		RequireVerifiedDeparture: true,
		AllowedExitTypes:         []contracts.ExitType{contracts.ExitEmergency},
	}
}
