package expr

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// newEnv declares the variables a batch policy sees: the opportunity as
// "domain", its stored signals as "enrichment", and the evaluation time as
// "now".
func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("domain", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("enrichment", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.TimestampType),
		cel.Function("signal",
			cel.Overload("signal_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(signalValue),
			),
		),
		cel.Function("days_between",
			cel.Overload("days_between_timestamp_timestamp",
				[]*cel.Type{cel.TimestampType, cel.TimestampType},
				cel.IntType,
				cel.BinaryBinding(daysBetween),
			),
		),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return env, nil
}

// predicate is a compiled expression that must produce a bool.
type predicate struct {
	source  string
	program cel.Program
}

func compilePredicate(env *cel.Env, expression string) (predicate, error) {
	source := strings.TrimSpace(expression)
	if source == "" {
		return predicate{}, fmt.Errorf("expr: expression required")
	}
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return predicate{}, fmt.Errorf("expr: compile %q: %w", source, issues.Err())
	}
	if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
		return predicate{}, fmt.Errorf("expr: %q must return bool, got %s", source, cel.FormatCELType(t))
	}
	program, err := env.Program(ast)
	if err != nil {
		return predicate{}, fmt.Errorf("expr: program %q: %w", source, err)
	}
	return predicate{source: source, program: program}, nil
}

func (p predicate) eval(vars map[string]any) (bool, error) {
	if p.program == nil {
		return false, fmt.Errorf("expr: program not initialized")
	}
	val, _, err := p.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	if b, ok := val.(types.Bool); ok {
		return bool(b), nil
	}
	return false, fmt.Errorf("expr: %q yielded non-bool result %s", p.source, val.Type().TypeName())
}

// signalValue reads an optional enrichment key, yielding null when absent.
func signalValue(mapVal ref.Val, key ref.Val) ref.Val {
	mapper, ok := mapVal.(traits.Mapper)
	if !ok {
		return types.NewErr("expr: signal only supports string-key maps")
	}
	value, found := mapper.Find(key)
	if !found || value == nil {
		return types.NullValue
	}
	return value
}

// daysBetween counts whole days from a to b. Negative when b precedes a.
func daysBetween(a ref.Val, b ref.Val) ref.Val {
	from, ok := a.Value().(time.Time)
	if !ok {
		return types.NewErr("expr: days_between expects timestamps")
	}
	to, ok := b.Value().(time.Time)
	if !ok {
		return types.NewErr("expr: days_between expects timestamps")
	}
	return types.Int(int64(to.Sub(from) / (24 * time.Hour)))
}
