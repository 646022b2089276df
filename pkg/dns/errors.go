package dns

import (
	"errors"
	"fmt"
)

var (
	// ErrResolverFailure is returned when a route resolver or the target
	// lookup reports an error
	ErrResolverFailure = errors.New("resolver failure")

	// ErrUpstreamUnreachable is returned when the fallback exchange with the
	// upstream fails
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
)

// Stages at which a query can fail.
const (
	StageResolve = "resolve"
	StageLookup  = "lookup"
	StageForward = "forward"
)

// QueryError describes the failure of a single query. It wraps one of the
// package sentinels and the underlying cause.
type QueryError struct {
	Domain string
	Stage  string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Domain, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// QueryDomain returns the domain of the failed query.
func (e *QueryError) QueryDomain() string {
	return e.Domain
}

// StageName returns the stage the query failed at.
func (e *QueryError) StageName() string {
	return e.Stage
}

func newQueryError(domain, stage string, sentinel, cause error) *QueryError {
	return &QueryError{
		Domain: domain,
		Stage:  stage,
		Err:    fmt.Errorf("%w: %w", sentinel, cause),
	}
}
