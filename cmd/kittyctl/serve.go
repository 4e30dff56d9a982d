package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"kittycore/internal/core"
	"kittycore/internal/platform/otel"
	"kittycore/internal/transport/feed"
	"kittycore/internal/transport/httpapi"
)

const shutdownGrace = 10 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ledger over HTTP with a websocket event feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := newLogger(cmd.ErrOrStderr(), c.cfg)
			if err != nil {
				return err
			}
			shutdownTracing, err := otel.Setup(ctx, "kittyctl")
			if err != nil {
				return err
			}
			defer func() { _ = shutdownTracing(context.Background()) }()

			handler, a, err := buildServer(ctx, c, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ln, err := net.Listen("tcp", c.cfg.GetString(cfgKeyListen))
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
			logger.Info("kittyctl serving", "addr", ln.Addr().String())

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(ln) }()
			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			logger.Info("kittyctl shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("listen", "", "listen address (config key: listen, default "+defaultListen+")")
	return cmd
}

// buildServer wires the service with the event feed, metrics and tracing
// and returns the routed handler. Spans go to OpenTelemetry unless a trace
// file is configured. The caller closes the returned app.
func buildServer(ctx context.Context, c *cli, logger *slog.Logger) (http.Handler, *app, error) {
	hub := feed.NewHub(feed.WithLogger(logger))
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promRecorder, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("register metrics: %w", err)
	}
	metrics := core.MultiMetricsRecorder{promRecorder, core.NewExpvarMetricsRecorder("")}

	opts := []core.Option{core.WithMetricsRecorder(metrics)}
	if c.cfg.GetString(cfgKeyTraceFile) == "" {
		opts = append(opts, core.WithTracer(core.NewOTelTracer(nil)))
	}
	a, err := openApp(ctx, c.cfg, logger, hub, opts...)
	if err != nil {
		return nil, nil, err
	}

	srv := httpapi.New(a.svc, a.ledger,
		httpapi.WithFeed(hub),
		httpapi.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
		httpapi.WithLogger(logger),
		httpapi.WithAfterTransition(a.saveBalances),
	)
	return srv.Handler(), a, nil
}
