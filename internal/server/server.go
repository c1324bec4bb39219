package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/jasonrowsell/dualkv/internal/metrics"
	"github.com/jasonrowsell/dualkv/internal/store"
	"github.com/jasonrowsell/dualkv/pkg/protocol"
)

// Options tunes the listeners. The zero value is usable: no connection
// deadline, no UDP session timeout, default session limit.
type Options struct {
	// ConnTimeout bounds a whole TCP exchange. Zero disables it.
	ConnTimeout time.Duration
	// SessionTimeout abandons partial UDP requests idle this long. Zero disables it.
	SessionTimeout time.Duration
	// MaxSessions bounds concurrent partial UDP requests.
	MaxSessions int

	Logger  hclog.Logger
	Metrics *metrics.Metrics
}

const defaultMaxSessions = 4096

// Server holds the dependencies shared by the TCP and UDP listeners.
type Server struct {
	store      *store.Store
	dispatcher *Dispatcher
	opts       Options
	logger     hclog.Logger
	metrics    *metrics.Metrics

	mu         sync.Mutex
	listeners  []net.Listener
	packetConn []net.PacketConn
	conns      map[net.Conn]struct{}

	wg           sync.WaitGroup
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New creates a Server for s. Zero Options fields take their defaults.
func New(s *store.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	return &Server{
		store:      s,
		dispatcher: NewDispatcher(s),
		opts:       opts,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		conns:      make(map[net.Conn]struct{}),
		shutdown:   make(chan struct{}),
	}
}

// ListenAndServe binds a TCP listener on addr and serves it.
// A bind failure is returned immediately.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on l, one goroutine per connection, until
// Shutdown is called. It takes ownership of l.
func (s *Server) Serve(listener net.Listener) error {
	if !s.track(listener) {
		listener.Close()
		return nil
	}
	defer s.wg.Done()
	defer listener.Close()

	logger := s.logger.Named("tcp")
	logger.Info("listening", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closing() {
				return nil
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.Warn("temporary accept error; retrying", "error", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			logger.Error("permanent accept error; stopping listener", "error", err)
			return err
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}

		if !s.trackConn(conn) {
			conn.Close()
			return nil
		}

		go func(c net.Conn) {
			defer s.wg.Done()
			defer s.untrackConn(c)
			s.handleConnection(c, logger)
		}(conn)
	}
}

// Shutdown stops all listeners, closes in-flight connections and waits for
// every serve loop and worker to return. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.mu.Lock()
		for _, l := range s.listeners {
			l.Close()
		}
		for _, pc := range s.packetConn {
			pc.Close()
		}
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	})

	s.wg.Wait()
	s.logger.Info("server connections closed")
}

// handleConnection serves exactly one request and closes the connection.
func (s *Server) handleConnection(conn net.Conn, logger hclog.Logger) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	if s.opts.ConnTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.opts.ConnTimeout))
	}

	start := time.Now()
	op, rep, err := s.serveExchange(bufio.NewReader(conn), bufio.NewWriter(conn))
	if err != nil {
		var xe *exchangeError
		if errors.As(err, &xe) && xe.stage == stageAwaitType && errors.Is(err, io.EOF) {
			logger.Debug("connection closed before request", "remote", remote)
			return
		}
		if s.closing() {
			return
		}
		logger.Warn("transport fault; request aborted", "remote", remote, "error", err)
		s.metrics.TransportFault(metrics.TransportTCP, faultReason(err))
		return
	}

	s.observe(metrics.TransportTCP, remote, op, rep, start)
}

// observe records a completed request.
func (s *Server) observe(transport, remote string, op protocol.Operation, rep protocol.Reply, start time.Time) {
	s.metrics.ObserveRequest(transport, op.Kind, rep.Status, time.Since(start))
	s.metrics.SetStoreKeys(s.store.Len())
	s.logger.Named(transport).Debug("request served",
		"remote", remote,
		"kind", op.Kind.String(),
		"key", op.Key,
		"status", rep.Status.String(),
	)
}

func (s *Server) closing() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// track, trackPacketConn and trackConn register a resource for Shutdown to
// close, and its serving goroutine with the wait group. They refuse once
// shutdown has begun.
func (s *Server) track(l net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing() {
		return false
	}
	s.listeners = append(s.listeners, l)
	s.wg.Add(1)
	return true
}

func (s *Server) trackPacketConn(pc net.PacketConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing() {
		return false
	}
	s.packetConn = append(s.packetConn, pc)
	s.wg.Add(1)
	return true
}

func (s *Server) trackConn(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing() {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrackConn(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}
