package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jasonrowsell/dualkv/internal/config"
	"github.com/jasonrowsell/dualkv/internal/logging"
	"github.com/jasonrowsell/dualkv/internal/metrics"
	"github.com/jasonrowsell/dualkv/internal/server"
	"github.com/jasonrowsell/dualkv/internal/store"
)

const shutdownTimeout = 5 * time.Second

type serverFlags struct {
	configPath  string
	transport   string
	metricsAddr string
	logLevel    string
	logJSON     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return newServerCmd(&serverFlags{})
}

func newServerCmd(flags *serverFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kvserver [host port]",
		Short: "Serve an in-memory key-value store over TCP and UDP",
		Long: `kvserver keeps string keys and values in memory and answers PUT, GET
and DELETE requests on a TCP listener, a UDP socket, or both on the same port.`,
		Args:         hostPortArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags, args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringVarP(&flags.transport, "transport", "t", config.TransportBoth, "Transports to serve: tcp, udp or both")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Address for /metrics and /healthz (disabled when empty)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	cmd.Flags().BoolVar(&flags.logJSON, "log-json", false, "Emit logs as JSON")

	return cmd
}

// hostPortArgs accepts either no positional arguments or exactly host and port.
func hostPortArgs(_ *cobra.Command, args []string) error {
	if len(args) == 0 || len(args) == 2 {
		return nil
	}
	return fmt.Errorf("expected <host> <port>, got %d argument(s)", len(args))
}

// loadConfig layers defaults, the config file, the environment, explicitly
// set flags and finally the positional host and port, then validates.
func loadConfig(cmd *cobra.Command, flags *serverFlags, args []string) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	fs := cmd.Flags()
	if fs.Changed("transport") {
		cfg.Transport = flags.transport
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if fs.Changed("log-json") {
		cfg.LogJSON = flags.logJSON
	}

	if len(args) == 2 {
		cfg.Host = args[0]
		port, err := config.ParsePort(args[1])
		if err != nil {
			return nil, err
		}
		cfg.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// run binds every configured listener, serves until ctx is done or a
// listener fails, then shuts down.
func run(ctx context.Context, cfg *config.Config, logOutput io.Writer) error {
	logger := logging.New(logging.Options{
		Name:   "kvserver",
		Level:  cfg.LogLevel,
		JSON:   cfg.LogJSON,
		Output: logOutput,
	})

	m := metrics.New()
	srv := server.New(store.New(), server.Options{
		ConnTimeout:    cfg.ConnTimeout,
		SessionTimeout: cfg.SessionTimeout,
		MaxSessions:    cfg.MaxSessions,
		Logger:         logger,
		Metrics:        m,
	})

	logger.Info("starting server",
		"addr", cfg.Addr(),
		"transport", cfg.Transport,
		"metrics_addr", cfg.MetricsAddr,
	)

	// Bind everything first so a port conflict fails startup outright.
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	var tcpListener net.Listener
	if cfg.ServesTCP() {
		l, err := net.Listen("tcp", cfg.Addr())
		if err != nil {
			logger.Error("failed to bind tcp listener", "addr", cfg.Addr(), "error", err)
			return fmt.Errorf("failed to listen on tcp %s: %w", cfg.Addr(), err)
		}
		tcpListener = l
		closers = append(closers, l)
	}

	var udpConn net.PacketConn
	if cfg.ServesUDP() {
		pc, err := net.ListenPacket("udp", cfg.Addr())
		if err != nil {
			closeAll()
			logger.Error("failed to bind udp socket", "addr", cfg.Addr(), "error", err)
			return fmt.Errorf("failed to listen on udp %s: %w", cfg.Addr(), err)
		}
		udpConn = pc
		closers = append(closers, pc)
	}

	var httpSrv *metrics.HTTPServer
	var metricsListener net.Listener
	if cfg.MetricsAddr != "" {
		l, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			closeAll()
			logger.Error("failed to bind metrics listener", "addr", cfg.MetricsAddr, "error", err)
			return fmt.Errorf("failed to listen on %s: %w", cfg.MetricsAddr, err)
		}
		metricsListener = l
		httpSrv = metrics.NewHTTPServer(m, logger.Named("metrics"))
	}

	errCh := make(chan error, 3)
	if tcpListener != nil {
		go func() { errCh <- srv.Serve(tcpListener) }()
	}
	if udpConn != nil {
		go func() { errCh <- srv.ServePacket(udpConn) }()
	}
	if httpSrv != nil {
		go func() { errCh <- httpSrv.Serve(metricsListener) }()
	}

	logger.Info("server started")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, shutting down")
	case serveErr = <-errCh:
		logger.Error("listener stopped unexpectedly; shutting down", "error", serveErr)
	}

	srv.Shutdown()
	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}

	logger.Info("server stopped")
	return serveErr
}
