package route

import (
	"fmt"
	"strings"

	"dns-router/pkg/config"
)

// FromConfig compiles configured routing rules into routes, preserving
// rule order and pattern order within a rule.
func FromConfig(rules []config.RouteConfig) ([]Route, error) {
	var routes []Route
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}

		var r Resolver
		if src := strings.TrimSpace(rule.Expr); src != "" {
			er, err := NewExprResolver(src)
			if err != nil {
				return nil, fmt.Errorf("route %d: %w", i, err)
			}
			r = er
		} else {
			r = NewStaticResolver(strings.TrimSpace(rule.Address))
		}

		expanded, err := Expand(rule.Patterns, r)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		routes = append(routes, expanded...)
	}
	return routes, nil
}
