package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"dns-router/pkg/config"
	"dns-router/pkg/logging"
	"dns-router/pkg/route"
)

// DefaultListenAddress is the standard DNS port on all interfaces.
const DefaultListenAddress = ":53"

const maxDatagram = 65535

var (
	// ErrNotListening is returned by Serve before Listen succeeded
	ErrNotListening = errors.New("server is not listening")

	// ErrAlreadyListening is returned by Listen on a bound server
	ErrAlreadyListening = errors.New("server is already listening")
)

// Server owns the UDP socket. Each datagram is copied out of the read
// buffer and handed to the Handler on its own goroutine, so replies may go
// out in a different order than the queries came in.
type Server struct {
	addr    string
	handler *Handler
	logger  *logging.Logger

	mu      sync.Mutex
	conn    net.PacketConn
	cancel  context.CancelFunc
	serving bool
	done    chan struct{} // closed once Serve has returned

	wg sync.WaitGroup // in-flight handlers
}

// NewServer creates a server that will listen on addr. An empty addr means
// DefaultListenAddress.
func NewServer(addr string, handler *Handler, logger *logging.Logger) *Server {
	if addr == "" {
		addr = DefaultListenAddress
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Listen binds the UDP socket. An empty addr binds the address the server
// was created with. Use "127.0.0.1:0" to pick a free port; Addr reports it.
func (s *Server) Listen(addr string) error {
	if addr == "" {
		addr = s.addr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return ErrAlreadyListening
	}

	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.conn = conn

	s.logger.Info("DNS router listening", "address", conn.LocalAddr().String())
	return nil
}

// Serve reads datagrams until ctx is cancelled or the server is shut down.
// A clean stop returns nil. Handlers still running at that point are
// waited for by Shutdown, not by Serve.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return ErrNotListening
	}
	if s.serving {
		s.mu.Unlock()
		return errors.New("server already serving")
	}
	s.serving = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	defer close(s.done)

	// Cancellation unblocks ReadFrom by closing the socket.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("DNS router stopped accepting queries")
				return nil
			}
			s.logger.Error("UDP read failed", "error", err)
			return fmt.Errorf("read datagram: %w", err)
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handler.ServeDatagram(ctx, from, data, func(b []byte) error {
				_, err := conn.WriteTo(b, from)
				return err
			})
		}()
	}
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(""); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Shutdown closes the socket, cancels in-flight upstream exchanges and
// waits for running handlers, or for ctx to end first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conn, cancel, serving := s.conn, s.cancel, s.serving
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	s.logger.Info("Shutting down DNS router")

	if cancel != nil {
		cancel()
	}
	closeErr := conn.Close()
	if errors.Is(closeErr, net.ErrClosed) {
		closeErr = nil
	}

	if !serving {
		return closeErr
	}

	// The read loop exits promptly once the socket is closed, and no
	// handler is started after that.
	<-s.done

	idle := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		s.logger.Info("DNS router shut down")
		return closeErr
	case <-ctx.Done():
		return errors.Join(closeErr, fmt.Errorf("waiting for in-flight queries: %w", ctx.Err()))
	}
}

// Close releases the socket and waits for in-flight queries.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// IsRunning reports whether Serve is active.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.serving {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Routes returns the live route table.
func (s *Server) Routes() *route.Table {
	return s.handler.Routes
}

// ReloadRoutes compiles rules and swaps them in as a whole. On error the
// current table stays in place.
func (s *Server) ReloadRoutes(rules []config.RouteConfig) error {
	routes, err := route.FromConfig(rules)
	if err != nil {
		return fmt.Errorf("compile routes: %w", err)
	}
	s.handler.Routes.Replace(routes)

	if m := s.handler.Metrics; m != nil {
		m.RouteReloads.Add(context.Background(), 1)
	}
	s.logger.Info("Routes reloaded", "routes", len(routes))
	return nil
}
