package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool names.
const (
	ToolCreateExitMarker  = "create_exit_marker"
	ToolVerifyMarker      = "verify_marker"
	ToolEvaluateAdmission = "evaluate_admission"
	ToolAdmitAgent        = "admit_agent"
	ToolVerifyTransfer    = "verify_transfer"
	ToolListPolicies      = "list_policies"
	ToolSessionIdentity   = "session_identity"
	ToolEndSession        = "end_session"
)

// ToolRef describes a tool and the JSON Schema of its arguments.
type ToolRef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      string `json:"inputSchema"`
}

// Validate checks that a ToolRef has a non-empty Name.
func (r ToolRef) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("tool ref name is required")
	}
	return nil
}

const markerArg = `{"type": ["object", "string"], "description": "marker JSON, as an object or an encoded string"}`

const policyArg = `{"type": "string", "description": "preset name; ignored when the deployment configures a policy"}`

var builtinTools = []ToolRef{
	{
		Name:        ToolCreateExitMarker,
		Description: "Create and sign an exit marker with the session identity.",
		Schema: `{
			"type": "object",
			"required": ["origin", "exitType"],
			"additionalProperties": false,
			"properties": {
				"origin": {"type": "string", "minLength": 1},
				"exitType": {"enum": ["Voluntary", "Forced", "Emergency", "KeyCompromise"]},
				"subject": {"type": "string"},
				"reason": {"type": "string"},
				"lineage": {
					"type": "object",
					"additionalProperties": false,
					"properties": {
						"predecessorId": {"type": "string"},
						"platforms": {"type": "array", "items": {"type": "string"}},
						"generation": {"type": "integer", "minimum": 0, "maximum": 9007199254740991}
					}
				},
				"stateSnapshot": {
					"type": "object",
					"required": ["hash"],
					"additionalProperties": false,
					"properties": {
						"hash": {"type": "string", "minLength": 1},
						"location": {"type": "string"},
						"sizeBytes": {"type": "integer", "minimum": 0, "maximum": 9007199254740991}
					}
				}
			}
		}`,
	},
	{
		Name:        ToolVerifyMarker,
		Description: "Verify the signature of an exit or arrival marker.",
		Schema: `{
			"type": "object",
			"required": ["marker"],
			"additionalProperties": false,
			"properties": {"marker": ` + markerArg + `}
		}`,
	},
	{
		Name:        ToolEvaluateAdmission,
		Description: "Evaluate an exit marker against the admission policy.",
		Schema: `{
			"type": "object",
			"required": ["marker"],
			"additionalProperties": false,
			"properties": {"marker": ` + markerArg + `, "policy": ` + policyArg + `}
		}`,
	},
	{
		Name:        ToolAdmitAgent,
		Description: "Evaluate an exit marker and, if admitted, mint a signed arrival marker.",
		Schema: `{
			"type": "object",
			"required": ["marker"],
			"additionalProperties": false,
			"properties": {
				"marker": ` + markerArg + `,
				"policy": ` + policyArg + `,
				"destination": {"type": "string"}
			}
		}`,
	},
	{
		Name:        ToolVerifyTransfer,
		Description: "Verify that an arrival marker continues from an exit marker.",
		Schema: `{
			"type": "object",
			"required": ["exitMarker", "arrivalMarker"],
			"additionalProperties": false,
			"properties": {"exitMarker": ` + markerArg + `, "arrivalMarker": ` + markerArg + `}
		}`,
	},
	{
		Name:        ToolListPolicies,
		Description: "List the admission policies a caller can select.",
		Schema:      `{"type": "object", "additionalProperties": false}`,
	},
	{
		Name:        ToolSessionIdentity,
		Description: "Return the session's DID, creating the identity if needed.",
		Schema:      `{"type": "object", "additionalProperties": false}`,
	},
	{
		Name:        ToolEndSession,
		Description: "End the session and drop its identity. The next call under the same session id starts with a new identity.",
		Schema:      `{"type": "object", "additionalProperties": false}`,
	},
}

// ToolCatalog stores tool definitions and their compiled argument schemas.
type ToolCatalog struct {
	mu      sync.RWMutex
	tools   map[string]ToolRef
	schemas map[string]*jsonschema.Schema
}

// NewToolCatalog returns a catalog holding the built-in tools.
func NewToolCatalog() (*ToolCatalog, error) {
	c := &ToolCatalog{
		tools:   make(map[string]ToolRef),
		schemas: make(map[string]*jsonschema.Schema),
	}
	for _, ref := range builtinTools {
		if err := c.Register(ref); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds or replaces a tool.
func (c *ToolCatalog) Register(ref ToolRef) error {
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("invalid tool ref: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://schemas.cellar-door.dev/tools/%s.schema.json", ref.Name)
	if err := compiler.AddResource(url, strings.NewReader(ref.Schema)); err != nil {
		return fmt.Errorf("tool %s: schema load failed: %w", ref.Name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("tool %s: schema compile failed: %w", ref.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[ref.Name] = ref
	c.schemas[ref.Name] = compiled
	return nil
}

// Lookup returns a tool by name.
func (c *ToolCatalog) Lookup(name string) (ToolRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.tools[name]
	return ref, ok
}

// Search returns tools whose name or description contains query, sorted by
// name.
func (c *ToolCatalog) Search(query string) []ToolRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	query = strings.ToLower(query)
	var results []ToolRef
	for _, tool := range c.tools {
		if strings.Contains(strings.ToLower(tool.Name), query) || strings.Contains(strings.ToLower(tool.Description), query) {
			results = append(results, tool)
		}
	}
	slices.SortFunc(results, func(a, b ToolRef) int { return strings.Compare(a.Name, b.Name) })
	return results
}

// ValidateArguments checks args against the tool's schema.
func (c *ToolCatalog) ValidateArguments(name string, args map[string]any) error {
	c.mu.RLock()
	schema, ok := c.schemas[name]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	doc, err := jsonDocument(args)
	if err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", name, err)
	}
	return nil
}

// jsonDocument converts Go values to the plain JSON shapes the validator
// accepts.
func jsonDocument(args map[string]any) (any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
