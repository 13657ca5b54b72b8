package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/omochice/bullscows-client/internal/client"
	"github.com/omochice/bullscows-client/internal/config"
	"github.com/omochice/bullscows-client/internal/console"
	"github.com/omochice/bullscows-client/internal/logger"
	"github.com/omochice/bullscows-client/internal/metrics"
)

type options struct {
	configPath  string
	host        string
	port        int
	transport   string
	path        string
	metricsAddr string
	logLevel    string
	logFile     string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "bullscows",
		Short: "Play bulls and cows against another player",
		Long: `Connect to a bulls-and-cows game server and play from the terminal.

Server notices are printed as they arrive. Type a line to send it: your
nickname first, then a guess whenever it is your turn. Type /quit to leave.

Settings are read from the config file (YAML or TOML), then from
BULLSCOWS_HOST, BULLSCOWS_PORT and BULLSCOWS_LOG_LEVEL, then from flags.
When no host or port is set you are asked for them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Config file (.yaml, .yml or .toml)")
	f.StringVar(&opts.host, "host", "", "Server IP or host name")
	f.IntVarP(&opts.port, "port", "p", 0, "Server port")
	f.StringVar(&opts.transport, "transport", "", "Transport: tcp or ws")
	f.StringVar(&opts.path, "path", "", "Request path for the ws transport")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	f.StringVar(&opts.logFile, "log-file", "", "Also write logs to this file, rotated")

	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}
	applyFlags(cmd, cfg, opts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closer, err := logger.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	con := console.New(os.Stdin, os.Stdout)
	if cfg.Host == "" || cfg.Port == 0 {
		host, port, err := con.AskAddress()
		if err != nil {
			return err
		}
		cfg.Host, cfg.Port = host, port
	}
	if err := cfg.ValidateAddress(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, reg, log)
		defer shutdown()
	}

	c := client.New(cfg.Client(),
		client.WithLogger(log),
		client.WithMetrics(m),
		client.WithReconnectPolicy(con),
	)
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to connect to the correct server: %w", err)
	}
	defer c.Close()

	fmt.Fprintf(os.Stdout, "Connected to server at %s\n", c.Address())
	fmt.Fprintf(os.Stdout, "Type your messages (or '%s' to exit):\n", console.QuitCommand)

	err = con.Run(ctx, c)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, client.ErrAbandoned):
		return nil
	default:
		return err
	}
}

func applyFlags(cmd *cobra.Command, cfg *config.Config, opts options) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Host = opts.host
	}
	if f.Changed("port") {
		cfg.Port = opts.port
	}
	if f.Changed("transport") {
		cfg.Transport = opts.transport
	}
	if f.Changed("path") {
		cfg.Path = opts.path
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}
	if f.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if f.Changed("log-file") {
		cfg.Logging.FilePath = opts.logFile
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "addr", addr, "err", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
