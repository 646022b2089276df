package route

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"dns-router/pkg/pattern"
)

// Route binds a compiled pattern to a resolver.
type Route struct {
	Pattern  pattern.Pattern
	Resolver Resolver
}

func (r Route) String() string {
	if r.Pattern.Type == pattern.PatternTypeMatchAll {
		return fmt.Sprintf("default->%s", r.Resolver)
	}
	return fmt.Sprintf("%s->%s", r.Pattern.Raw, r.Resolver)
}

// Expand builds one route per pattern, all sharing r, in list order. An
// empty pattern list yields a single catch-all route.
func Expand(patterns []string, r Resolver) ([]Route, error) {
	if r == nil {
		return nil, errors.New("no resolver defined for route")
	}
	compiled := pattern.CompileList(patterns)
	routes := make([]Route, 0, len(compiled))
	for _, p := range compiled {
		routes = append(routes, Route{Pattern: p, Resolver: r})
	}
	return routes, nil
}

// Table is an ordered list of routes evaluated first-match-wins. Lookups
// read an immutable snapshot without locking; writers copy the slice and
// swap it in, so routes can be added or replaced while queries are served.
type Table struct {
	routes atomic.Pointer[[]Route]
	mu     sync.Mutex // serializes writers
}

// NewTable returns an empty table. Until routes are added every query
// falls through to the upstream.
func NewTable() *Table {
	t := new(Table)
	t.routes.Store(&[]Route{})
	return t
}

// Add appends one route per pattern, all pointing at r. Routes are
// evaluated in the order they were added, so a catch-all added early
// shadows everything added after it.
func (t *Table) Add(patterns []string, r Resolver) error {
	routes, err := Expand(patterns, r)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	old := *t.routes.Load()
	next := make([]Route, 0, len(old)+len(routes))
	next = append(next, old...)
	next = append(next, routes...)
	t.routes.Store(&next)
	return nil
}

// AddAddress routes patterns to a fixed address.
func (t *Table) AddAddress(patterns []string, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address for route")
	}
	return t.Add(patterns, NewStaticResolver(addr))
}

// AddFunc registers fn as a catch-all resolver.
func (t *Table) AddFunc(fn Func) error {
	if fn == nil {
		return errors.New("nil resolver func")
	}
	return t.Add(nil, fn)
}

// Replace swaps the whole table.
func (t *Table) Replace(routes []Route) {
	next := make([]Route, len(routes))
	copy(next, routes)

	t.mu.Lock()
	t.routes.Store(&next)
	t.mu.Unlock()
}

// Match returns the resolver of the first route accepting domain, or nil
// when no route does.
func (t *Table) Match(domain string) Resolver {
	for _, r := range *t.routes.Load() {
		if r.Pattern.Match(domain) {
			return r.Resolver
		}
	}
	return nil
}

// Routes returns a copy of the current routes.
func (t *Table) Routes() []Route {
	cur := *t.routes.Load()
	out := make([]Route, len(cur))
	copy(out, cur)
	return out
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(*t.routes.Load())
}

func (t *Table) String() string {
	var rs []string
	for _, r := range *t.routes.Load() {
		rs = append(rs, r.String())
	}
	return fmt.Sprintf("Router(%s)", strings.Join(rs, ";"))
}
