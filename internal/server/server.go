// Package server serves the record stream: converter records out to TCP
// clients, wheel-speed commands back in.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-fp-driver/internal/hub"
	"github.com/kstaniek/go-fp-driver/internal/logging"
	"github.com/kstaniek/go-fp-driver/internal/metrics"
	"github.com/kstaniek/go-fp-driver/internal/stream"
	"github.com/kstaniek/go-fp-driver/internal/syncutil"
)

// CommandFunc forwards a client command towards the sensor. It must not
// block; the runner queues the work for the goroutine owning the driver.
type CommandFunc func(stream.Command) error

const (
	defaultFlushInterval    = 5 * time.Millisecond
	defaultBatchSize        = 64
	defaultReadDeadline     = 60 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
	defaultClientBuffer     = 512
	acceptRetryDelay        = 200 * time.Millisecond
)

// Stats are lifetime connection counters.
type Stats struct {
	Accepted        uint64
	HandshakeFailed uint64
	Rejected        uint64
	Connected       uint64
	Disconnected    uint64
	CommandOverflow uint64
	CommandErrors   uint64
}

type stats struct {
	accepted, handshakeFailed, rejected atomic.Uint64
	connected, disconnected             atomic.Uint64
	commandOverflow, commandErrors      atomic.Uint64
}

// Server owns the TCP listener and the per-client reader and writer
// goroutines. Records come from Hub; commands go to Command.
type Server struct {
	Hub     *hub.Hub
	Command CommandFunc

	mu       syncutil.RWMutex
	addr     string
	listener net.Listener

	flushInterval    time.Duration
	batchSize        int
	readDeadline     time.Duration
	handshakeTimeout time.Duration
	maxClients       int
	logger           *slog.Logger

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error

	clientsMu syncutil.RWMutex
	clients   map[*hub.Client]net.Conn
	wg        sync.WaitGroup
	connSeq   atomic.Uint64
	stats     stats
}

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		addr:             ":0",
		flushInterval:    defaultFlushInterval,
		batchSize:        defaultBatchSize,
		readDeadline:     defaultReadDeadline,
		handshakeTimeout: defaultHandshakeTimeout,
		logger:           logging.L(),
		readyCh:          make(chan struct{}),
		errCh:            make(chan error, 1),
		clients:          make(map[*hub.Client]net.Conn),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func WithListenAddr(a string) ServerOption {
	return func(s *Server) {
		if a != "" {
			s.addr = a
		}
	}
}

func WithHub(hb *hub.Hub) ServerOption        { return func(s *Server) { s.Hub = hb } }
func WithCommand(fn CommandFunc) ServerOption { return func(s *Server) { s.Command = fn } }

func WithFlushInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

func WithBatchSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithReadDeadline bounds each client read and write.
func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

// WithMaxClients caps simultaneous clients; 0 means unlimited.
func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Addr is the configured address until Serve binds, then the bound one.
func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) SetListenAddr(a string) { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// fail records err as the last error, counts it and offers it on Errors.
func (s *Server) fail(err error) error {
	metrics.IncError(mapErrToMetric(err))
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
	return err
}

func (s *Server) Stats() Stats {
	return Stats{
		Accepted:        s.stats.accepted.Load(),
		HandshakeFailed: s.stats.handshakeFailed.Load(),
		Rejected:        s.stats.rejected.Load(),
		Connected:       s.stats.connected.Load(),
		Disconnected:    s.stats.disconnected.Load(),
		CommandOverflow: s.stats.commandOverflow.Load(),
		CommandErrors:   s.stats.commandErrors.Load(),
	}
}

// Serve listens and admits clients until ctx is cancelled. It returns nil
// on cancellation and an ErrListen or ErrAccept wrapped error otherwise.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrListen, err))
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("stream_listen", "addr", ln.Addr().String())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(acceptRetryDelay)
				continue
			}
			return s.fail(fmt.Errorf("%w: %v", ErrAccept, err))
		}
		s.stats.accepted.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.admit(ctx, conn)
		}()
	}
}

// admit runs the handshake off the accept loop so a silent peer cannot
// stall other clients, then starts the client's reader and writer.
func (s *Server) admit(ctx context.Context, conn net.Conn) {
	id := s.connSeq.Add(1)
	l := s.logger.With("conn_id", id, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	if err := stream.Handshake(ctx, conn, s.handshakeTimeout); err != nil {
		s.stats.handshakeFailed.Add(1)
		l.Warn("handshake_failed", "error", s.fail(fmt.Errorf("%w: %v", ErrHandshake, err)))
		_ = conn.Close()
		return
	}
	cl, ok := s.register(conn)
	if !ok {
		s.stats.rejected.Add(1)
		metrics.IncHubReject()
		l.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return
	}
	s.stats.connected.Add(1)
	l.Info("client_connected")
	s.startWriter(ctx.Done(), conn, cl, l)
	s.startReader(ctx.Done(), conn, cl, l)
}

// register adds a client for conn unless the server is full.
func (s *Server) register(conn net.Conn) (*hub.Client, bool) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.maxClients > 0 && len(s.clients) >= s.maxClients {
		return nil, false
	}
	size := defaultClientBuffer
	if s.Hub != nil && s.Hub.OutBufSize > 0 {
		size = s.Hub.OutBufSize
	}
	cl := hub.NewClient(size)
	s.clients[cl] = conn
	if s.Hub != nil {
		s.Hub.Add(cl)
	}
	return cl, true
}

// unregister closes the client's connection and removes it everywhere.
// It reports whether the client was still registered.
func (s *Server) unregister(cl *hub.Client) bool {
	s.clientsMu.Lock()
	conn, ok := s.clients[cl]
	delete(s.clients, cl)
	s.clientsMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if s.Hub != nil {
		s.Hub.Remove(cl)
	}
	cl.Close()
	return ok
}

// Shutdown stops accepting, disconnects every client and waits for their
// goroutines or ctx, whichever comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.clientsMu.RLock()
	cls := make([]*hub.Client, 0, len(s.clients))
	for cl := range s.clients {
		cls = append(cls, cl)
	}
	s.clientsMu.RUnlock()
	for _, cl := range cls {
		s.unregister(cl)
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		st := s.Stats()
		s.logger.Info("shutdown_summary",
			"accepted", st.Accepted,
			"handshake_fail", st.HandshakeFailed,
			"rejected", st.Rejected,
			"connected", st.Connected,
			"disconnected", st.Disconnected,
			"command_overflow", st.CommandOverflow,
			"command_errors", st.CommandErrors,
		)
		return nil
	}
}
