package server

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/jasonrowsell/dualkv/internal/metrics"
	"github.com/jasonrowsell/dualkv/pkg/protocol"
)

const udpReplyTooLarge = "Faulty operation detected: value too large for udp"

// ListenAndServeUDP binds a UDP socket on addr and serves it.
// A bind failure is returned immediately.
func (s *Server) ListenAndServeUDP(addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.ServePacket(conn)
}

// ServePacket reads request datagrams from conn until Shutdown is called.
// Each sender address has at most one request in flight: its datagrams
// arrive as type, key and (for PUT) value, and one reply datagram goes
// back to that address. It takes ownership of conn.
func (s *Server) ServePacket(conn net.PacketConn) error {
	if !s.trackPacketConn(conn) {
		conn.Close()
		return nil
	}
	defer s.wg.Done()
	defer conn.Close()

	logger := s.logger.Named("udp")

	sessions, err := newSessionTable(s.opts.MaxSessions, s.opts.SessionTimeout, func(remote string, sess *session) {
		logger.Warn("partial request abandoned", "remote", remote, "kind", sess.op.Kind.String())
		s.metrics.SessionAbandoned()
	})
	if err != nil {
		return fmt.Errorf("failed to create session table: %w", err)
	}

	logger.Info("listening", "addr", conn.LocalAddr().String())

	// One spare byte detects datagrams over the limit.
	buf := make([]byte, protocol.MaxDatagramSize+1)
	lastSweep := time.Now()

	for {
		// The deadline only wakes the loop to expire idle sessions.
		if s.opts.SessionTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.opts.SessionTimeout))
		}
		n, addr, err := conn.ReadFrom(buf)
		now := time.Now()

		if s.opts.SessionTimeout > 0 && now.Sub(lastSweep) >= s.opts.SessionTimeout {
			sessions.expire(now)
			lastSweep = now
			s.metrics.SetSessionsOpen(sessions.len())
		}

		if err != nil {
			if s.closing() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.Warn("receive error", "error", err)
			continue
		}

		s.handleDatagram(conn, sessions, addr, buf[:n], now, logger)
		s.metrics.SetSessionsOpen(sessions.len())
	}
}

// handleDatagram advances the sender's session by one field and, once the
// request is complete, dispatches it and sends the reply.
func (s *Server) handleDatagram(conn net.PacketConn, sessions *sessionTable, addr net.Addr, payload []byte, now time.Time, logger hclog.Logger) {
	remote := addr.String()

	if len(payload) > protocol.MaxDatagramSize {
		logger.Warn("transport fault; request aborted", "remote", remote, "error", protocol.ErrDatagramTooLarge)
		s.metrics.TransportFault(metrics.TransportUDP, "too_large")
		sessions.discard(remote)
		return
	}
	field := string(payload)

	sess, ok := sessions.lookup(remote, now)
	if !ok {
		sessions.open(remote, &session{
			op:       protocol.NewOperation(field, "", ""),
			stage:    awaitKey,
			addr:     addr,
			started:  now,
			lastSeen: now,
		})
		return
	}
	sess.lastSeen = now

	switch sess.stage {
	case awaitKey:
		sess.op.Key = field
		if sess.op.Kind.HasValue() {
			sess.stage = awaitValue
			return
		}
	case awaitValue:
		sess.op.Value = field
	}
	sessions.finish(remote, sess)

	rep := s.dispatcher.Dispatch(sess.op)
	out := protocol.MarshalReply(rep)
	if len(out) > protocol.MaxReplyDatagramSize {
		logger.Warn("reply too large for a datagram", "remote", remote, "key", sess.op.Key, "size", len(out))
		rep = faulty(udpReplyTooLarge)
		out = protocol.MarshalReply(rep)
	}
	if _, err := conn.WriteTo(out, sess.addr); err != nil {
		logger.Warn("failed to send reply", "remote", remote, "error", err)
		s.metrics.TransportFault(metrics.TransportUDP, faultReason(err))
		return
	}
	s.observe(metrics.TransportUDP, remote, sess.op, rep, sess.started)
}
