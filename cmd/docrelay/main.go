package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/docrelay/internal/config"
	"github.com/Tyrowin/docrelay/internal/mdns"
	"github.com/Tyrowin/docrelay/internal/metrics"
	"github.com/Tyrowin/docrelay/internal/report"
	"github.com/Tyrowin/docrelay/internal/server"
	"github.com/Tyrowin/docrelay/internal/session"
)

const hubShutdownTimeout = 5 * time.Second

var longHelp = strings.TrimSpace(`
WebSocket relay for collaborative document editing.

Every connection joins the room named by its URL path and receives the
frames the other peers in that room send. Plain HTTP requests on the same
port answer "okay" so the relay can be used as a liveness check.

Settings come from flags, then environment variables, then the file named
by --config, then built-in defaults.
`)

var exampleUsage = strings.TrimSpace(`
  docrelay
  docrelay --port 5000 --host 127.0.0.1
  PORT=5000 NODE_ENV=production docrelay --mdns --metrics-addr :9090
`)

func newRootCommand(env map[string]string, stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:     "docrelay",
		Short:   "WebSocket relay for collaborative document editing",
		Long:    longHelp,
		Example: exampleUsage,
		// Flags are resolved by config.Resolve so unknown flags and the
		// flag/env/file precedence behave the same everywhere.
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		// Stray positional arguments are ignored like unknown flags.
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(args, env)
			if err != nil {
				return err
			}
			if cfg.HelpRequested {
				return cmd.Help()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, stdout, stderr)
		},
	}
	root.Flags().AddFlagSet(config.NewFlagSet())
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(newDiscoverCommand(stdout, nil))
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root
}

// run wires the relay together and blocks until ctx is cancelled or the
// listener fails under the exit policy.
func run(ctx context.Context, cfg config.EffectiveConfig, stdout, stderr io.Writer) error {
	log := report.NewLogger(stderr, cfg.IsProduction())
	reporter := report.New(log, stdout, report.WithQR(cfg.QR))

	reporter.Resolved(cfg.Host, cfg.Port)
	if cfg.PortFallback {
		reporter.PortFallback(cfg.RawPort, cfg.Port)
	}
	if cfg.ConfigPath != "" {
		log.Info().Str("path", cfg.ConfigPath).Msg("loaded config file")
	}

	m := metrics.New()

	hub := session.NewHub(
		session.WithLogger(log.With().Str("component", "hub").Logger()),
		session.WithMetrics(m),
		session.WithMaxMessageSize(cfg.MaxMessageSize),
	)
	go hub.Run()
	defer func() {
		if err := hub.Shutdown(hubShutdownTimeout); err != nil {
			log.Warn().Err(err).Msg("hub shutdown")
		}
	}()

	router := server.NewUpgradeRouter(hub, reporter,
		server.WithAllowedOrigins(cfg.AllowedOrigins),
		server.WithUpgradeRate(cfg.UpgradeRate),
		server.WithRouterMetrics(m),
	)

	opts := server.Options{
		Config:   cfg,
		Handler:  server.NewHandler(server.NewResponder(m), router),
		Reporter: reporter,
		Metrics:  m,
	}
	if cfg.MDNS {
		opts.Advertiser = mdns.NewAdvertiser(mdns.Config{Env: cfg.Env})
		opts.AdvertiseName = mdns.ServiceType
	}

	return server.New(opts).Run(ctx)
}

// exitMessage is the line printed for a failed run, or "" when the failure
// has already been reported through the logger.
func exitMessage(err error) string {
	if errors.Is(err, server.ErrBindFailed) {
		return ""
	}
	return fmt.Sprintf("docrelay: %v", err)
}

func main() {
	root := newRootCommand(config.Environ(), os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		if msg := exitMessage(err); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(1)
	}
}
