// Package wire implements the small subset of the DNS wire format the router
// speaks: a single-question query in, a type A / class IN answer out.
//
// Parsing never trusts the counts in the header. Exactly one question is read
// from offset 12, which mirrors the layout BuildResponse emits.
package wire

import "errors"

var (
	// ErrMalformedMessage is returned when a datagram cannot be parsed as a query
	ErrMalformedMessage = errors.New("malformed DNS message")

	// ErrMalformedLabel is returned when a qname is not a valid label sequence
	ErrMalformedLabel = errors.New("malformed DNS label")

	// ErrInvalidIPv4 is returned when an address is not a dotted-quad IPv4 literal
	ErrInvalidIPv4 = errors.New("invalid IPv4 address")
)
