package client

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonrowsell/dualkv/internal/server"
	"github.com/jasonrowsell/dualkv/internal/store"
	"github.com/jasonrowsell/dualkv/pkg/protocol"
)

// startServer runs TCP and UDP listeners on loopback and returns one client
// per transport.
func startServer(t *testing.T) map[string]*Client {
	t.Helper()

	srv := server.New(store.New(), server.Options{SessionTimeout: time.Second})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	go srv.Serve(l)
	go srv.ServePacket(pc)
	t.Cleanup(srv.Shutdown)

	tcp, err := New(NetworkTCP, l.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	udp, err := New(NetworkUDP, pc.LocalAddr().String(), 2*time.Second)
	require.NoError(t, err)

	return map[string]*Client{NetworkTCP: tcp, NetworkUDP: udp}
}

func TestNewValidation(t *testing.T) {
	_, err := New("sctp", "127.0.0.1:1", 0)
	assert.Error(t, err)

	_, err = New(NetworkTCP, "", 0)
	assert.Error(t, err)

	c, err := New(NetworkUDP, "127.0.0.1:1", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultUDPTimeout, c.timeout)
	assert.Equal(t, NetworkUDP, c.Network())
	assert.Equal(t, "127.0.0.1:1", c.Addr())
}

func TestClientPutGetDelete(t *testing.T) {
	for network, c := range startServer(t) {
		t.Run(network, func(t *testing.T) {
			ctx := context.Background()
			key := "alpha-" + network

			_, err := c.Get(ctx, key)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, c.Put(ctx, key, "1"))
			value, err := c.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "1", value)

			require.NoError(t, c.Put(ctx, key, "2"))
			value, err = c.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "2", value)

			require.NoError(t, c.Delete(ctx, key))
			assert.ErrorIs(t, c.Delete(ctx, key), ErrNotFound)
		})
	}
}

func TestClientEmptyValueIsPresent(t *testing.T) {
	for network, c := range startServer(t) {
		t.Run(network, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, c.Put(ctx, "blank", ""))
			value, err := c.Get(ctx, "blank")
			require.NoError(t, err)
			assert.Empty(t, value)
		})
	}
}

func TestClientTCPMaxSizeFields(t *testing.T) {
	c := startServer(t)[NetworkTCP]
	ctx := context.Background()

	longKey := strings.Repeat("k", protocol.MaxFieldSize-10)
	require.NoError(t, c.Put(ctx, longKey, "v"))

	maxValue := strings.Repeat("v", protocol.MaxFieldSize)
	require.NoError(t, c.Put(ctx, "k", maxValue))
	value, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, maxValue, value)
}

func TestClientDoTCPAcks(t *testing.T) {
	c := startServer(t)[NetworkTCP]

	resp, err := c.Do(context.Background(), protocol.TokenPut, "alpha", "1")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Server initializing PUT operation",
		"Key alpha received by server",
		"Value 1 received by server",
	}, resp.Acks)
	assert.Equal(t, protocol.StatusWritten, resp.Reply.Status)
}

func TestClientDoUnknownOperation(t *testing.T) {
	for network, c := range startServer(t) {
		t.Run(network, func(t *testing.T) {
			resp, err := c.Do(context.Background(), "FETCH", "alpha", "")
			require.NoError(t, err)
			assert.Empty(t, resp.Acks)
			assert.Equal(t, protocol.StatusFaulty, resp.Reply.Status)
		})
	}
}

func TestClientRejectsInvalidArguments(t *testing.T) {
	clients := startServer(t)
	ctx := context.Background()

	assert.ErrorIs(t, clients[NetworkTCP].Put(ctx, "", "v"), ErrInvalid)
	assert.ErrorIs(t, clients[NetworkUDP].Put(ctx, "k", strings.Repeat("v", protocol.MaxDatagramSize+1)), ErrInvalid)

	_, err := clients[NetworkUDP].Do(ctx, protocol.TokenGet, strings.Repeat("k", protocol.MaxDatagramSize+1), "")
	assert.ErrorIs(t, err, protocol.ErrDatagramTooLarge)
}

func TestClientUDPTimeout(t *testing.T) {
	// Nothing answers on this socket.
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	c, err := New(NetworkUDP, pc.LocalAddr().String(), 100*time.Millisecond)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "alpha")
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

func TestClientContextCancel(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	c, err := New(NetworkUDP, pc.LocalAddr().String(), 5*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.Get(ctx, "alpha")
	assert.Error(t, err)
	assert.True(t, time.Since(start) < 2*time.Second, "cancellation did not interrupt the read")
}

func TestUnexpectedReply(t *testing.T) {
	err := unexpected(protocol.KindPut, protocol.Reply{Status: protocol.StatusFaulty, Text: "nope"})
	assert.ErrorIs(t, err, ErrFaulty)

	err = unexpected(protocol.KindPut, protocol.Reply{Status: protocol.StatusValue, Text: "x"})
	assert.NotErrorIs(t, err, ErrFaulty)
	assert.Contains(t, err.Error(), "protocol error")
}
