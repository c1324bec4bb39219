package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jasonrowsell/dualkv/pkg/protocol"
)

// tcpStage names the point in a TCP exchange where a fault occurred.
type tcpStage string

const (
	stageAwaitType  tcpStage = "await type"
	stageAwaitKey   tcpStage = "await key"
	stageAwaitValue tcpStage = "await value"
	stageRespond    tcpStage = "respond"
)

// exchangeError carries the stage at which a TCP exchange was aborted.
type exchangeError struct {
	stage tcpStage
	err   error
}

func (e *exchangeError) Error() string {
	return fmt.Sprintf("%s: %v", e.stage, e.err)
}

func (e *exchangeError) Unwrap() error {
	return e.err
}

// serveExchange runs one request over a connection:
// type, ack, key, ack, [value, ack], final reply.
// An unknown type token gets the final reply straight away. Any decode
// failure aborts the exchange without sending anything further.
func (s *Server) serveExchange(r *bufio.Reader, w *bufio.Writer) (protocol.Operation, protocol.Reply, error) {
	token, err := protocol.ReadField(r)
	if err != nil {
		return protocol.Operation{}, protocol.Reply{}, &exchangeError{stageAwaitType, err}
	}
	op := protocol.NewOperation(token, "", "")

	if op.Kind != protocol.KindUnknown {
		if err := send(w, typeAck(op.Kind)); err != nil {
			return op, protocol.Reply{}, &exchangeError{stageAwaitType, err}
		}

		if op.Key, err = protocol.ReadField(r); err != nil {
			return op, protocol.Reply{}, &exchangeError{stageAwaitKey, err}
		}
		if err := send(w, keyAck(op.Key)); err != nil {
			return op, protocol.Reply{}, &exchangeError{stageAwaitKey, err}
		}

		if op.Kind.HasValue() {
			if op.Value, err = protocol.ReadField(r); err != nil {
				return op, protocol.Reply{}, &exchangeError{stageAwaitValue, err}
			}
			if err := send(w, valueAck(op.Value)); err != nil {
				return op, protocol.Reply{}, &exchangeError{stageAwaitValue, err}
			}
		}
	}

	rep := s.dispatcher.Dispatch(op)
	if err := send(w, rep); err != nil {
		return op, rep, &exchangeError{stageRespond, err}
	}
	return op, rep, nil
}

// send writes one reply frame and flushes it so the client sees each
// acknowledgement before it sends the next field.
func send(w *bufio.Writer, rep protocol.Reply) error {
	if err := protocol.WriteReply(w, rep); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush reply: %w", err)
	}
	return nil
}

// faultReason classifies a transport fault for metrics.
func faultReason(err error) string {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "eof"
	case errors.Is(err, protocol.ErrFieldTooLarge), errors.Is(err, protocol.ErrDatagramTooLarge):
		return "too_large"
	case errors.As(err, &ne) && ne.Timeout():
		return "timeout"
	default:
		return "io"
	}
}
