package admission

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
)

// Rule is a deployment-defined CEL predicate over an exit marker. The
// expression sees `marker` (the wire fields as a map) and `ageSeconds`.
type Rule struct {
	Name string
	Expr string
	prg  cel.Program
}

var ruleEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("marker", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("ageSeconds", cel.IntType),
	)
})

// CompileRule type-checks expr. The expression must produce a bool.
func CompileRule(name, expr string) (Rule, error) {
	if name == "" {
		return Rule{}, fmt.Errorf("rule name is required")
	}
	env, err := ruleEnv()
	if err != nil {
		return Rule{}, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return Rule{}, fmt.Errorf("rule %q: compile: %w", name, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return Rule{}, fmt.Errorf("rule %q: expression yields %s, want bool", name, out)
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: program: %w", name, err)
	}
	return Rule{Name: name, Expr: expr, prg: prg}, nil
}

// satisfied reports whether the rule holds. Evaluation errors, non-bool
// results and uncompiled rules count as not satisfied.
func (r Rule) satisfied(marker map[string]any, ageSeconds int64) bool {
	if r.prg == nil {
		return false
	}
	out, _, err := r.prg.Eval(map[string]any{
		"marker":     marker,
		"ageSeconds": ageSeconds,
	})
	if err != nil {
		return false
	}
	v, ok := out.Value().(bool)
	return ok && v
}

// ruleInput is the marker as CEL sees it: its JSON wire fields.
func ruleInput(m *contracts.ExitMarker) map[string]any {
	raw, err := json.Marshal(m)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
