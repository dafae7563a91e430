package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/scour/internal/metrics"
	"github.com/FranksOps/scour/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API over HTTP",
		Long: `Serve image search, web search, query history and reports as a JSON API.

Endpoints:
  GET /healthz
  GET /metrics
  GET /api/v1/search/images?q=...
  GET /api/v1/search/web?q=...
  GET /api/v1/history?kind=&q=&failed=&since=&limit=&offset=
  GET /api/v1/report?format=json|text|html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	rt, err := buildRuntime(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, err := rt.newSession(a.cfg, false, a.logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	srv, err := server.New(server.Config{
		Addr:         a.cfg.Server.Addr,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		Session:      sess,
		History:      rt.history,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}

	ms := a.startMetrics()
	defer ms.Stop(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	return <-errCh
}

// startMetrics starts the standalone Prometheus listener when a port is set.
// The returned server is nil otherwise; Stop tolerates that.
func (a *app) startMetrics() *metrics.Server {
	if a.cfg.Metrics.Port <= 0 {
		return nil
	}
	a.logger.Info("serving metrics", "port", a.cfg.Metrics.Port)
	return metrics.Start(a.cfg.Metrics.Port, a.logger)
}
