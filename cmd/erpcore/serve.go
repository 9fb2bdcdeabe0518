package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"erpcore/internal/adapters/export"
	"erpcore/internal/adapters/httpapi"
	"erpcore/internal/core"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, addr string) error {
	metrics := core.NewPrometheusRecorder()
	rt, err := opts.open(ctx, os.Stderr, true, core.WithMetricsRecorder(metrics))
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	worker := export.NewWorker(rt.svc, rt.svc.Blobs(),
		export.WithQueueSize(rt.cfg.ExportQueue),
		export.WithLogger(rt.logger),
	)
	worker.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = worker.Stop(stopCtx)
	}()

	if addr == "" {
		addr = rt.cfg.HTTP.Addr
	}
	srv := &http.Server{
		Addr: addr,
		Handler: httpapi.NewRouter(rt.svc,
			httpapi.WithExports(worker),
			httpapi.WithMetrics(metrics.Handler()),
			httpapi.WithLogger(rt.logger),
		),
		ReadHeaderTimeout: rt.cfg.HTTP.ShutdownTimeout,
	}
	rt.logger.Info("serving",
		"addr", addr,
		"storage", rt.cfg.Storage.Driver,
		"blob", rt.svc.Blobs().Driver(),
	)
	if err := httpapi.Serve(ctx, srv, rt.cfg.HTTP.ShutdownTimeout); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	rt.logger.Info("stopped")
	return nil
}
