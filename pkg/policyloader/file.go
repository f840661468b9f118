package policyloader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CellarDoorExits/mcp-server/pkg/admission"
	"github.com/CellarDoorExits/mcp-server/pkg/canonicalize"
	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
)

// RuleSpec is a named CEL expression in a policy file.
type RuleSpec struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// PolicyFile is the YAML form of a deployment policy.
//
//	name: partner-intake
//	base: STRICT
//	allowedExitTypes: [Voluntary, Forced]
//	maxAgeSeconds: 3600
//	rules:
//	  - name: origin-allowlisted
//	    expr: marker.origin in ["platform-a"]
type PolicyFile struct {
	Name                     string     `yaml:"name"`
	Base                     string     `yaml:"base,omitempty"`
	RequireVerifiedDeparture *bool      `yaml:"requireVerifiedDeparture,omitempty"`
	AllowedExitTypes         []string   `yaml:"allowedExitTypes,omitempty"`
	MaxAgeSeconds            *int64     `yaml:"maxAgeSeconds,omitempty"`
	RequiredModules          []string   `yaml:"requiredModules,omitempty"`
	Rules                    []RuleSpec `yaml:"rules,omitempty"`
}

// Loaded is a compiled policy and the content hash of its source.
type Loaded struct {
	Policy admission.Policy
	Hash   string
}

// LoadFile reads and compiles a policy file.
func LoadFile(path string) (*Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policyloader: read file: %w", err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policyloader: %s: %w", path, err)
	}
	return l, nil
}

// Parse compiles a YAML policy document. Unknown keys, presets, exit
// types, modules and rules that fail to compile are all errors.
func Parse(data []byte) (*Loaded, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f PolicyFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse policy: empty document")
		}
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	p, err := f.Compile()
	if err != nil {
		return nil, err
	}
	return &Loaded{Policy: p, Hash: canonicalize.HashBytes(data)}, nil
}

// Compile turns the file form into an admission policy. Fields left out
// keep the value of the base preset.
func (f PolicyFile) Compile() (admission.Policy, error) {
	var p admission.Policy
	if f.Base != "" {
		preset, err := admission.ParsePreset(f.Base)
		if err != nil {
			return admission.Policy{}, fmt.Errorf("base: %w", err)
		}
		if p, err = preset.Policy(); err != nil {
			return admission.Policy{}, err
		}
	}

	p.Name = strings.TrimSpace(f.Name)
	if p.Name == "" {
		return admission.Policy{}, fmt.Errorf("policy name is required")
	}
	if f.RequireVerifiedDeparture != nil {
		p.RequireVerifiedDeparture = *f.RequireVerifiedDeparture
	}
	if f.AllowedExitTypes != nil {
		p.AllowedExitTypes = make([]contracts.ExitType, 0, len(f.AllowedExitTypes))
		for _, s := range f.AllowedExitTypes {
			t, err := contracts.ParseExitType(s)
			if err != nil {
				return admission.Policy{}, fmt.Errorf("allowedExitTypes: %w", err)
			}
			p.AllowedExitTypes = append(p.AllowedExitTypes, t)
		}
	}
	if f.MaxAgeSeconds != nil {
		if *f.MaxAgeSeconds < 0 {
			return admission.Policy{}, fmt.Errorf("maxAgeSeconds must be >= 0")
		}
		p.MaxAge = time.Duration(*f.MaxAgeSeconds) * time.Second
	}
	if f.RequiredModules != nil {
		p.RequiredModules = make([]contracts.Module, 0, len(f.RequiredModules))
		for _, s := range f.RequiredModules {
			m, err := contracts.ParseModule(s)
			if err != nil {
				return admission.Policy{}, fmt.Errorf("requiredModules: %w", err)
			}
			p.RequiredModules = append(p.RequiredModules, m)
		}
	}

	seen := make(map[string]bool, len(f.Rules))
	for _, rs := range f.Rules {
		if seen[rs.Name] {
			return admission.Policy{}, fmt.Errorf("duplicate rule %q", rs.Name)
		}
		seen[rs.Name] = true
		r, err := admission.CompileRule(rs.Name, rs.Expr)
		if err != nil {
			return admission.Policy{}, err
		}
		p.Rules = append(p.Rules, r)
	}
	return p, nil
}
