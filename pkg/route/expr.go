package route

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEnv is the environment route expressions are evaluated against.
type ExprEnv struct {
	Domain string   // lower-cased domain, no trailing dot
	Labels []string // Domain split on "."
	TLD    string   // last label
}

func newExprEnv(domain string) ExprEnv {
	d := strings.TrimSuffix(strings.ToLower(domain), ".")
	labels := strings.Split(d, ".")
	return ExprEnv{
		Domain: d,
		Labels: labels,
		TLD:    labels[len(labels)-1],
	}
}

// ExprResolver computes the address from an expr-lang expression, for
// example:
//
//	TLD == "lan" ? "10.0.0.1" : ""
//
// The expression must evaluate to a string; an empty string defers to the
// upstream.
type ExprResolver struct {
	source  string
	program *vm.Program
}

var _ Resolver = &ExprResolver{}

// NewExprResolver compiles source.
func NewExprResolver(source string) (*ExprResolver, error) {
	program, err := expr.Compile(source, expr.Env(ExprEnv{}), expr.AsKind(reflect.String))
	if err != nil {
		return nil, fmt.Errorf("invalid route expression %q: %w", source, err)
	}
	return &ExprResolver{source: source, program: program}, nil
}

// Resolve evaluates the expression for domain.
func (r *ExprResolver) Resolve(ctx context.Context, domain string) (string, error) {
	out, err := expr.Run(r.program, newExprEnv(domain))
	if err != nil {
		return "", fmt.Errorf("route expression %q: %w", r.source, err)
	}
	addr, ok := out.(string)
	if !ok {
		return "", fmt.Errorf("route expression %q returned %T, want string", r.source, out)
	}
	return addr, nil
}

func (r *ExprResolver) String() string {
	return fmt.Sprintf("Expr(%s)", r.source)
}
