package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jasonrowsell/dualkv/pkg/protocol"
)

// Error is a sentinel error type returned by Client methods.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ErrNotFound = Error("key not found")
	ErrFaulty   = Error("faulty operation")
	ErrInvalid  = Error("invalid request")
)

// Network names accepted by New.
const (
	NetworkTCP = "tcp"
	NetworkUDP = "udp"
)

const (
	defaultTCPTimeout = 5 * time.Second
	defaultUDPTimeout = 10 * time.Second
)

// Response is everything the server sent back for one request.
// Acks is always empty over UDP.
type Response struct {
	Acks  []string
	Reply protocol.Reply
}

// Client issues requests to a dualkv server. The protocol is one request
// per connection (TCP) or per datagram sequence (UDP), so a Client holds
// no connection and is safe for concurrent use.
type Client struct {
	network string
	addr    string
	timeout time.Duration
}

// New creates a client for network ("tcp" or "udp") and addr. A zero
// timeout selects the per-network default.
func New(network, addr string, timeout time.Duration) (*Client, error) {
	switch network {
	case NetworkTCP:
		if timeout == 0 {
			timeout = defaultTCPTimeout
		}
	case NetworkUDP:
		if timeout == 0 {
			timeout = defaultUDPTimeout
		}
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}
	if addr == "" {
		return nil, fmt.Errorf("server address is required")
	}
	return &Client{network: network, addr: addr, timeout: timeout}, nil
}

// Network returns "tcp" or "udp".
func (c *Client) Network() string { return c.network }

// Addr returns the server address.
func (c *Client) Addr() string { return c.addr }

// Do sends a raw request. token is sent verbatim, so unknown operations can
// be exercised; value is only sent when token is PUT.
func (c *Client) Do(ctx context.Context, token, key, value string) (*Response, error) {
	fields := []string{token, key}
	if protocol.ParseKind(token).HasValue() {
		fields = append(fields, value)
	}

	if c.network == NetworkUDP {
		return c.doUDP(ctx, fields)
	}
	return c.doTCP(ctx, fields)
}

// Put stores value under key.
func (c *Client) Put(ctx context.Context, key, value string) error {
	if err := c.validate(key, value); err != nil {
		return err
	}
	resp, err := c.Do(ctx, protocol.TokenPut, key, value)
	if err != nil {
		return err
	}

	switch resp.Reply.Status {
	case protocol.StatusWritten:
		return nil
	default:
		return unexpected(protocol.KindPut, resp.Reply)
	}
}

// Get returns the value stored under key, or ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if err := c.validate(key, ""); err != nil {
		return "", err
	}
	resp, err := c.Do(ctx, protocol.TokenGet, key, "")
	if err != nil {
		return "", err
	}

	switch resp.Reply.Status {
	case protocol.StatusValue:
		return resp.Reply.Text, nil
	case protocol.StatusNotFound:
		return "", ErrNotFound
	default:
		return "", unexpected(protocol.KindGet, resp.Reply)
	}
}

// Delete removes key. It returns ErrNotFound if the key was absent.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.validate(key, ""); err != nil {
		return err
	}
	resp, err := c.Do(ctx, protocol.TokenDelete, key, "")
	if err != nil {
		return err
	}

	switch resp.Reply.Status {
	case protocol.StatusDeleted:
		return nil
	case protocol.StatusNotFound:
		return ErrNotFound
	default:
		return unexpected(protocol.KindDelete, resp.Reply)
	}
}

func (c *Client) validate(key, value string) error {
	limit := protocol.MaxFieldSize
	if c.network == NetworkUDP {
		limit = protocol.MaxDatagramSize
	}
	if len(key) == 0 || len(key) > limit {
		return fmt.Errorf("%w: key length %d (max %d)", ErrInvalid, len(key), limit)
	}
	if len(value) > limit {
		return fmt.Errorf("%w: value length %d (max %d)", ErrInvalid, len(value), limit)
	}
	return nil
}

func unexpected(kind protocol.Kind, rep protocol.Reply) error {
	if rep.Status == protocol.StatusFaulty {
		return fmt.Errorf("%w: %s", ErrFaulty, rep.Text)
	}
	return fmt.Errorf("protocol error: unexpected %s reply for %s", rep.Status, kind)
}

// deadline picks the earlier of the context deadline and now+timeout.
func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

// doTCP writes each field and reads the server's reply to it, stopping at
// the first final reply.
func (c *Client) doTCP(ctx context.Context, fields []string) (*Response, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, NetworkTCP, c.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(c.deadline(ctx)); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	reader := bufio.NewReader(conn)
	resp := &Response{}

	for _, field := range fields {
		if err := protocol.WriteField(conn, field); err != nil {
			return nil, c.ctxErr(ctx, err)
		}
		rep, err := protocol.ReadReply(reader)
		if err != nil {
			return nil, c.ctxErr(ctx, fmt.Errorf("read reply: %w", err))
		}
		if rep.Final() {
			resp.Reply = rep
			return resp, nil
		}
		resp.Acks = append(resp.Acks, rep.Text)
	}

	rep, err := protocol.ReadReply(reader)
	if err != nil {
		return nil, c.ctxErr(ctx, fmt.Errorf("read result: %w", err))
	}
	if !rep.Final() {
		return nil, fmt.Errorf("protocol error: extra acknowledgement %q after last field", rep.Text)
	}
	resp.Reply = rep
	return resp, nil
}

// doUDP sends one datagram per field and waits for the single reply.
func (c *Client) doUDP(ctx context.Context, fields []string) (*Response, error) {
	for _, field := range fields {
		if len(field) > protocol.MaxDatagramSize {
			return nil, fmt.Errorf("field of %d bytes: %w", len(field), protocol.ErrDatagramTooLarge)
		}
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, NetworkUDP, c.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(c.deadline(ctx)); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	for _, field := range fields {
		if _, err := conn.Write([]byte(field)); err != nil {
			return nil, c.ctxErr(ctx, fmt.Errorf("send datagram: %w", err))
		}
	}

	buf := make([]byte, protocol.MaxReplyDatagramSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, c.ctxErr(ctx, fmt.Errorf("receive reply: %w", err))
	}
	rep, err := protocol.UnmarshalReply(buf[:n])
	if err != nil {
		return nil, err
	}
	if !rep.Final() {
		return nil, fmt.Errorf("protocol error: acknowledgement received over udp")
	}
	return &Response{Reply: rep}, nil
}

// ctxErr prefers the context's error when the context ended the exchange.
func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}
