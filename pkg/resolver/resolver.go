// Package resolver turns hostname route targets into IPv4 addresses, either
// through configured DNS servers or the host resolver.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"dns-router/pkg/logging"
	"dns-router/pkg/wire"

	"github.com/miekg/dns"
)

// ErrNoAddress is returned when a name resolves but has no IPv4 address.
var ErrNoAddress = errors.New("no IPv4 address")

// Resolver looks up A records using configured upstream DNS servers,
// falling back to the host resolver (/etc/hosts, /etc/resolv.conf) unless
// strict.
type Resolver struct {
	logger    *logging.Logger
	client    *dns.Client
	system    *net.Resolver
	upstreams []string
	strict    bool // when true, never fall back to system resolver
}

// New creates a resolver. With no upstreams every lookup goes to the host
// resolver.
//
// Example:
//
//	r := resolver.New([]string{"1.1.1.1:53"}, 2*time.Second, logger)
func New(upstreams []string, timeout time.Duration, logger *logging.Logger) *Resolver {
	return newWithOptions(upstreams, timeout, logger, false)
}

// NewStrict creates a resolver that will NOT fall back to the host resolver
// when upstreams fail.
func NewStrict(upstreams []string, timeout time.Duration, logger *logging.Logger) *Resolver {
	return newWithOptions(upstreams, timeout, logger, true)
}

func newWithOptions(upstreams []string, timeout time.Duration, logger *logging.Logger, strict bool) *Resolver {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	normalized := make([]string, 0, len(upstreams))
	for _, u := range upstreams {
		normalized = append(normalized, withDefaultPort(u))
	}

	if len(normalized) == 0 {
		logger.Debug("No resolver upstreams configured, using host resolver")
	} else {
		logger.Info("Target resolver initialized", "upstreams", normalized, "strict", strict)
	}

	return &Resolver{
		upstreams: normalized,
		logger:    logger,
		strict:    strict,
		client:    &dns.Client{Net: "udp", Timeout: timeout},
		system:    net.DefaultResolver,
	}
}

// LookupIPv4 returns one IPv4 address for host in dotted-quad form. IPv4
// literals are returned unchanged without a lookup.
func (r *Resolver) LookupIPv4(ctx context.Context, host string) (string, error) {
	if wire.IsIPv4(host) {
		return host, nil
	}

	if len(r.upstreams) == 0 {
		return r.lookupSystem(ctx, host)
	}

	var lastErr error
	for idx, upstream := range r.upstreams {
		addr, err := r.exchange(ctx, upstream, host)
		if err != nil {
			lastErr = err
			r.logger.Warn("Target resolution attempt failed",
				"host", host,
				"upstream", upstream,
				"attempt", idx+1,
				"error", err,
			)
			continue
		}

		r.logger.Debug("Target resolved", "host", host, "upstream", upstream, "addr", addr)
		return addr, nil
	}

	if r.strict {
		return "", fmt.Errorf("failed to resolve %s via configured upstreams (strict mode): %w", host, lastErr)
	}

	r.logger.Warn("All resolver upstreams failed, falling back to host resolver",
		"host", host,
		"attempts", len(r.upstreams),
		"error", lastErr,
	)
	addr, err := r.lookupSystem(ctx, host)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", host, errors.Join(lastErr, err))
	}
	return addr, nil
}

func (r *Resolver) exchange(ctx context.Context, upstream, host string) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, upstream)
	if err != nil {
		return "", err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("%s: %s", host, dns.RcodeToString[resp.Rcode])
	}

	// Answers may lead with a CNAME chain; the first A record is the target.
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("%w for %s", ErrNoAddress, host)
}

func (r *Resolver) lookupSystem(ctx context.Context, host string) (string, error) {
	ips, err := r.system.LookupIP(ctx, "ip4", host)
	if err != nil {
		return "", err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", fmt.Errorf("%w for %s", ErrNoAddress, host)
}

// Upstreams returns the configured upstream DNS servers
func (r *Resolver) Upstreams() []string {
	return r.upstreams
}

func withDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), "53")
}
