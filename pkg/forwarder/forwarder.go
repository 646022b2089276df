// Package forwarder relays raw DNS datagrams to a single upstream resolver.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"dns-router/pkg/logging"
)

const (
	// DefaultUpstream receives every query no route answers.
	DefaultUpstream = "8.8.8.8:53"

	// DefaultTimeout bounds a single upstream exchange.
	DefaultTimeout = 5 * time.Second

	maxDatagram = 65535
)

// Forwarder sends a query verbatim to the upstream over a fresh UDP socket
// and returns the first datagram that comes back, byte for byte. It never
// parses, retries or caches.
type Forwarder struct {
	upstream string
	timeout  time.Duration
	dialer   net.Dialer
	logger   *logging.Logger
}

// New creates a forwarder for upstream ("host" or "host:port"; port 53 is
// assumed when missing). A zero timeout waits until the caller's context
// is cancelled.
func New(upstream string, timeout time.Duration, logger *logging.Logger) *Forwarder {
	if upstream == "" {
		upstream = DefaultUpstream
	}
	if _, _, err := net.SplitHostPort(upstream); err != nil {
		upstream = net.JoinHostPort(upstream, "53")
	}
	if timeout < 0 {
		timeout = 0
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}

	logger.Info("Forwarder initialized",
		"upstream", upstream,
		"timeout", timeout,
	)

	return &Forwarder{
		upstream: upstream,
		timeout:  timeout,
		logger:   logger,
	}
}

// Forward relays query and returns the upstream's reply. The transient
// socket is closed before returning, including on cancellation.
func (f *Forwarder) Forward(ctx context.Context, query []byte) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	conn, err := f.dialer.DialContext(ctx, "udp", f.upstream)
	if err != nil {
		return nil, fmt.Errorf("dial upstream %s: %w", f.upstream, err)
	}
	defer func() { _ = conn.Close() }()

	// Unblock the read as soon as the context ends.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	start := time.Now()
	if _, err := conn.Write(query); err != nil {
		return nil, f.wrap(ctx, "write", err)
	}

	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, f.wrap(ctx, "read", err)
	}

	f.logger.Debug("Upstream replied",
		"upstream", f.upstream,
		"query_bytes", len(query),
		"reply_bytes", n,
		"rtt", time.Since(start),
	)

	reply := make([]byte, n)
	copy(reply, buf[:n])
	return reply, nil
}

// wrap prefers the context error over the deadline error it caused.
func (f *Forwarder) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && isTimeout(err) {
		err = ctxErr
	}
	return fmt.Errorf("%s upstream %s: %w", op, f.upstream, err)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Upstream returns the normalized upstream address.
func (f *Forwarder) Upstream() string {
	return f.upstream
}

// Timeout returns the per-exchange timeout; zero means none.
func (f *Forwarder) Timeout() time.Duration {
	return f.timeout
}
