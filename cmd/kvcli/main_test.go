package main

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonrowsell/dualkv/internal/server"
	"github.com/jasonrowsell/dualkv/internal/store"
	"github.com/jasonrowsell/dualkv/pkg/client"
)

// startServer serves TCP and UDP on the same loopback port.
func startServer(t *testing.T) (*store.Store, int) {
	t.Helper()

	st := store.New()
	srv := server.New(st, server.Options{SessionTimeout: time.Second})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	pc, err := net.ListenPacket("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)

	go srv.Serve(l)
	go srv.ServePacket(pc)
	t.Cleanup(srv.Shutdown)
	return st, port
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestOneShotCommands(t *testing.T) {
	st, port := startServer(t)
	p := strconv.Itoa(port)

	out, err := execute(t, "", "--port", p, "put", "alpha", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "-- RESPONSE: Server initializing PUT operation")
	assert.Contains(t, out, "-- RESPONSE: Entry for alpha successfully created")

	value, found := st.Get("alpha")
	require.True(t, found)
	assert.Equal(t, "1", value)

	out, err = execute(t, "", "--port", p, "--udp", "get", "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "-- RESPONSE:"))
	assert.Contains(t, out, "-- RESPONSE: 1\n")

	_, err = execute(t, "", "--port", p, "del", "alpha")
	require.NoError(t, err)
	assert.Zero(t, st.Len())
}

func TestOneShotRequiresPort(t *testing.T) {
	_, err := execute(t, "", "get", "alpha")
	assert.Error(t, err)

	_, err = execute(t, "", "--port", "70000", "get", "alpha")
	assert.Error(t, err)
}

func TestInteractiveSession(t *testing.T) {
	_, port := startServer(t)

	input := strings.Join([]string{
		"PUT greeting hello world",
		"",
		"get greeting",
		"put spaced a  b\t c",
		"GET spaced",
		"FETCH greeting",
		"HELP",
		"DELETE greeting",
		"GET greeting",
		"QUIT",
		"GET never-sent",
	}, "\n")

	out, err := execute(t, input, "--port", strconv.Itoa(port))
	require.NoError(t, err)

	assert.Contains(t, out, "-- RESPONSE: hello world\n")
	assert.Contains(t, out, "-- RESPONSE: a  b\t c\n")
	assert.Contains(t, out, "(error) unknown command 'FETCH'")
	assert.Contains(t, out, "kvcli help:")
	assert.Contains(t, out, "-- RESPONSE: Key greeting deleted from server")
	assert.Contains(t, out, "-- RESPONSE: Key greeting cannot be found")
	assert.Contains(t, out, "Exiting.")
	assert.NotContains(t, out, "never-sent")
}

func TestInteractiveEndsOnEOF(t *testing.T) {
	_, port := startServer(t)

	_, err := execute(t, "GET alpha\n", "--port", strconv.Itoa(port))
	assert.NoError(t, err)
}

func TestSplitCommand(t *testing.T) {
	assert.Nil(t, splitCommand("   "))
	assert.Equal(t, []string{"GET", "k"}, splitCommand("  GET   k "))
	assert.Equal(t, []string{"PUT", "k", "a  b "}, splitCommand("PUT k a  b \r"))
	assert.Equal(t, []string{"put", "k", ""}, splitCommand("put k "))
	assert.Equal(t, []string{"PUT", "k"}, splitCommand("PUT k"))
	assert.Equal(t, []string{"PUT"}, splitCommand("PUT"))
}

func TestExecuteCommandArguments(t *testing.T) {
	cli, err := client.New(client.NetworkTCP, "127.0.0.1:1", time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	for _, parts := range [][]string{
		{},
		{"PUT", "k"},
		{"GET"},
		{"GET", "a", "b"},
		{"DELETE"},
		{"PING"},
	} {
		_, err := executeCommand(ctx, cli, parts)
		assert.Error(t, err, parts)
	}
}

func TestPrintLines(t *testing.T) {
	var out bytes.Buffer
	now := time.Date(2024, time.March, 5, 14, 7, 9, 123_000_000, time.UTC)

	printLines(&out, now, []string{"a", "b"})

	assert.Equal(t,
		"03-05-2024 14:07:09.123 -- RESPONSE: a\n03-05-2024 14:07:09.123 -- RESPONSE: b\n",
		out.String())
}
