// Package route holds the ordered routing table and the resolvers routes
// point at.
package route

import (
	"context"
	"fmt"
	"sync"
)

// Resolver produces an address for a domain. An empty address with a nil
// error means the resolver has no answer and the query should go to the
// upstream fallback. The address may be an IPv4 literal or a hostname that
// the server looks up before answering.
type Resolver interface {
	Resolve(ctx context.Context, domain string) (string, error)
	fmt.Stringer
}

// StaticResolver always returns the same address.
type StaticResolver struct {
	addr string
}

var _ Resolver = &StaticResolver{}

// NewStaticResolver returns a resolver answering every domain with addr.
func NewStaticResolver(addr string) *StaticResolver {
	return &StaticResolver{addr: addr}
}

// Resolve returns the configured address.
func (r *StaticResolver) Resolve(ctx context.Context, domain string) (string, error) {
	return r.addr, nil
}

func (r *StaticResolver) String() string {
	return fmt.Sprintf("Static(%s)", r.addr)
}

// Func adapts an ordinary function to the Resolver interface.
type Func func(ctx context.Context, domain string) (string, error)

var _ Resolver = Func(nil)

// Resolve calls f.
func (f Func) Resolve(ctx context.Context, domain string) (string, error) {
	return f(ctx, domain)
}

func (f Func) String() string {
	return "Func"
}

// Callback is the asynchronous resolver style: the function is handed the
// domain and a done function it calls exactly once, from any goroutine,
// with either an address, an empty address to defer, or an error.
type Callback func(domain string, done func(addr string, err error))

// CallbackResolver turns a Callback into a blocking Resolver. It waits for
// done or for the context to be cancelled, whichever comes first.
type CallbackResolver struct {
	id string
	fn Callback
}

var _ Resolver = &CallbackResolver{}

// NewCallbackResolver returns a resolver backed by fn.
func NewCallbackResolver(id string, fn Callback) *CallbackResolver {
	return &CallbackResolver{id: id, fn: fn}
}

type callbackResult struct {
	addr string
	err  error
}

// Resolve invokes the callback and waits for its result.
func (r *CallbackResolver) Resolve(ctx context.Context, domain string) (string, error) {
	// buffered so a late done never blocks after we gave up waiting
	ch := make(chan callbackResult, 1)
	var once sync.Once

	r.fn(domain, func(addr string, err error) {
		once.Do(func() {
			ch <- callbackResult{addr: addr, err: err}
		})
	})

	select {
	case res := <-ch:
		return res.addr, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *CallbackResolver) String() string {
	return fmt.Sprintf("Callback(%s)", r.id)
}
