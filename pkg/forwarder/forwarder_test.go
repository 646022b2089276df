package forwarder

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"dns-router/pkg/logging"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockUpstream runs a UDP server that answers each datagram with reply(req).
// A nil reply means stay silent.
func mockUpstream(t *testing.T, reply func(req []byte) []byte) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 65535)
		for {
			n, clientAddr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			if resp := reply(append([]byte(nil), buf[:n]...)); resp != nil {
				_, _ = pc.WriteTo(resp, clientAddr)
			}
		}
	}()

	t.Cleanup(func() {
		_ = pc.Close()
		<-done
	})
	return pc.LocalAddr().String()
}

func packQuery(t *testing.T, domain string) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	b, err := m.Pack()
	require.NoError(t, err)
	return b
}

func TestNew(t *testing.T) {
	tests := []struct {
		upstream string
		want     string
	}{
		{"", DefaultUpstream},
		{"1.1.1.1", "1.1.1.1:53"},
		{"9.9.9.9:5353", "9.9.9.9:5353"},
		{"dns.example", "dns.example:53"},
	}

	for _, tt := range tests {
		t.Run(tt.upstream, func(t *testing.T) {
			f := New(tt.upstream, DefaultTimeout, logging.NewDiscard())
			assert.Equal(t, tt.want, f.Upstream())
		})
	}

	assert.Equal(t, time.Duration(0), New("", -time.Second, nil).Timeout())
}

func TestForward_RelaysReplyVerbatim(t *testing.T) {
	seen := make(chan []byte, 1)
	upstream := mockUpstream(t, func(req []byte) []byte {
		seen <- req
		msg := new(dns.Msg)
		if err := msg.Unpack(req); err != nil {
			return nil
		}
		resp := new(dns.Msg)
		resp.SetReply(msg)
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: msg.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
			A:   net.IPv4(93, 184, 216, 34),
		})
		out, err := resp.Pack()
		if err != nil {
			return nil
		}
		return out
	})

	f := New(upstream, time.Second, logging.NewDiscard())
	query := packQuery(t, "example.com")

	reply, err := f.Forward(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, query, <-seen, "query must reach the upstream unmodified")

	msg := new(dns.Msg)
	require.NoError(t, msg.Unpack(reply))
	assert.Equal(t, binaryID(query), msg.Id)
	require.Len(t, msg.Answer, 1)
	assert.Equal(t, "93.184.216.34", msg.Answer[0].(*dns.A).A.String())
}

func binaryID(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func TestForward_DoesNotInterpretBytes(t *testing.T) {
	garbage := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	upstream := mockUpstream(t, func([]byte) []byte { return garbage })

	f := New(upstream, time.Second, logging.NewDiscard())
	reply, err := f.Forward(context.Background(), []byte("not even dns"))
	require.NoError(t, err)
	assert.Equal(t, garbage, reply)
}

func TestForward_Timeout(t *testing.T) {
	upstream := mockUpstream(t, func([]byte) []byte { return nil })

	f := New(upstream, 100*time.Millisecond, logging.NewDiscard())
	start := time.Now()
	_, err := f.Forward(context.Background(), packQuery(t, "example.com"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestForward_NoTimeoutWaitsForCancel(t *testing.T) {
	upstream := mockUpstream(t, func([]byte) []byte { return nil })
	f := New(upstream, 0, logging.NewDiscard())

	query := packQuery(t, "example.com")
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := f.Forward(ctx, query)
		errc <- err
	}()

	select {
	case err := <-errc:
		t.Fatalf("Forward returned before cancellation: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Forward did not return after cancellation")
	}
}

func TestForward_UnreachableUpstream(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := pc.LocalAddr().String()
	_ = pc.Close()

	f := New(addr, 500*time.Millisecond, logging.NewDiscard())
	_, err = f.Forward(context.Background(), packQuery(t, "example.com"))
	assert.Error(t, err)
}

func TestForward_ConcurrentQueriesUseSeparateSockets(t *testing.T) {
	upstream := mockUpstream(t, func(req []byte) []byte { return req })
	f := New(upstream, time.Second, logging.NewDiscard())

	const n = 20
	template := packQuery(t, "host.example")
	errc := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			q := append([]byte(nil), template...)
			q[0], q[1] = byte(i>>8), byte(i)
			reply, err := f.Forward(context.Background(), q)
			if err == nil && binaryID(reply) != uint16(i) {
				err = errors.New("reply delivered to the wrong query")
			}
			errc <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		assert.NoError(t, <-errc)
	}
}
