package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jasonrowsell/dualkv/internal/config"
	"github.com/jasonrowsell/dualkv/pkg/client"
	"github.com/jasonrowsell/dualkv/pkg/protocol"
)

const timestampLayout = "01-02-2006 15:04:05.000"

type cliFlags struct {
	host    string
	port    int
	udp     bool
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:   "kvcli",
		Short: "Talk to a kvserver over TCP or UDP",
		Long: `kvcli sends PUT, GET and DELETE requests to a kvserver. With no
subcommand it starts an interactive prompt.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli, err := flags.client()
			if err != nil {
				return err
			}
			return runInteractive(cmd.Context(), cli, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.host, "host", "H", "127.0.0.1", "Server host")
	pf.IntVarP(&flags.port, "port", "p", 0, "Server port")
	pf.BoolVarP(&flags.udp, "udp", "u", false, "Use UDP instead of TCP")
	pf.DurationVar(&flags.timeout, "timeout", 0, "Per-request timeout (default 5s TCP, 10s UDP)")
	_ = root.MarkPersistentFlagRequired("port")

	root.AddCommand(
		oneShotCmd(flags, "put <key> <value>", "Store a value under a key", protocol.TokenPut, 2),
		oneShotCmd(flags, "get <key>", "Print the value stored under a key", protocol.TokenGet, 1),
		oneShotCmd(flags, "delete <key>", "Remove a key", protocol.TokenDelete, 1, "del"),
	)
	return root
}

// client builds a client for the configured server.
func (f *cliFlags) client() (*client.Client, error) {
	if _, err := config.ParsePort(strconv.Itoa(f.port)); err != nil {
		return nil, err
	}
	network := client.NetworkTCP
	if f.udp {
		network = client.NetworkUDP
	}
	return client.New(network, net.JoinHostPort(f.host, strconv.Itoa(f.port)), f.timeout)
}

func oneShotCmd(flags *cliFlags, use, short, token string, nargs int, aliases ...string) *cobra.Command {
	return &cobra.Command{
		Use:          use,
		Short:        short,
		Aliases:      aliases,
		Args:         cobra.ExactArgs(nargs),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := flags.client()
			if err != nil {
				return err
			}
			parts := append([]string{token}, args...)
			lines, err := executeCommand(cmd.Context(), cli, parts)
			if err != nil {
				return err
			}
			printLines(cmd.OutOrStdout(), time.Now(), lines)
			return nil
		},
	}
}

// runInteractive is the read-eval-print loop.
func runInteractive(ctx context.Context, cli *client.Client, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Connected to kvserver at %s (%s)\n", cli.Addr(), cli.Network())
	fmt.Fprintln(out, "Type commands (e.g., PUT key value, GET key, DELETE key, QUIT)")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s> ", cli.Addr())
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		parts := splitCommand(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		switch strings.ToUpper(parts[0]) {
		case "QUIT", "EXIT":
			fmt.Fprintln(out, "Exiting.")
			return nil
		case "HELP":
			printHelp(out)
			continue
		}

		lines, err := executeCommand(ctx, cli, parts)
		if err != nil {
			fmt.Fprintf(out, "(error) %v\n", err)
			continue
		}
		printLines(out, time.Now(), lines)
	}
}

// splitCommand splits a prompt line into words. For PUT the value is the
// rest of the line after the key, with its inner whitespace kept.
func splitCommand(line string) []string {
	line = strings.TrimRight(line, "\r\n")
	command, rest := nextWord(line)
	if command == "" {
		return nil
	}
	if !strings.EqualFold(command, protocol.TokenPut) {
		return strings.Fields(line)
	}

	parts := []string{command}
	key, rest := nextWord(rest)
	if key == "" {
		return parts
	}
	parts = append(parts, key)
	if rest != "" {
		parts = append(parts, strings.TrimLeft(rest, " \t"))
	}
	return parts
}

func nextWord(s string) (word, rest string) {
	s = strings.TrimLeft(s, " \t")
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], s[i:]
	}
	return s, ""
}

// executeCommand sends one request and returns every response the server
// sent, acknowledgements first.
func executeCommand(ctx context.Context, cli *client.Client, parts []string) ([]string, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no command provided")
	}

	command := strings.ToUpper(parts[0])
	args := parts[1:]

	var token, key, value string
	switch command {
	case protocol.TokenPut:
		if len(args) < 2 {
			return nil, fmt.Errorf("wrong number of arguments for 'PUT' command (usage: PUT key value)")
		}
		token, key, value = protocol.TokenPut, args[0], strings.Join(args[1:], " ")
	case protocol.TokenGet:
		if len(args) != 1 {
			return nil, fmt.Errorf("wrong number of arguments for 'GET' command (usage: GET key)")
		}
		token, key = protocol.TokenGet, args[0]
	case protocol.TokenDelete, "DEL":
		if len(args) != 1 {
			return nil, fmt.Errorf("wrong number of arguments for 'DELETE' command (usage: DELETE key)")
		}
		token, key = protocol.TokenDelete, args[0]
	default:
		return nil, fmt.Errorf("unknown command '%s'", parts[0])
	}

	resp, err := cli.Do(ctx, token, key, value)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("no response from server: %w", err)
		}
		return nil, err
	}
	return append(resp.Acks, resp.Reply.Text), nil
}

func printLines(w io.Writer, now time.Time, lines []string) {
	stamp := now.Format(timestampLayout)
	for _, line := range lines {
		fmt.Fprintf(w, "%s -- RESPONSE: %s\n", stamp, line)
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "kvcli help:")
	fmt.Fprintln(w, "  PUT <key> <value>   - Store value under key.")
	fmt.Fprintln(w, "  GET <key>           - Get the value of key.")
	fmt.Fprintln(w, "  DELETE <key>        - Remove key.")
	fmt.Fprintln(w, "  HELP                - Show this help message.")
	fmt.Fprintln(w, "  QUIT / EXIT         - Exit the CLI.")
}
