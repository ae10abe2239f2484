package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"identify/internal/contact"
	"identify/internal/contact/handler"
	"identify/internal/platform/httpserver"
	"identify/internal/platform/metrics"
	httptransport "identify/internal/transport/http"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rootOpts)
		},
	}
}

func serve(ctx context.Context, opts *RootOptions) error {
	a, err := newApp(ctx, opts, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	identify := contact.NewHandler(a.service, a.logger,
		handler.WithAdminToken(a.cfg.Server.AdminToken),
		handler.WithRequestTimeout(a.cfg.Server.RequestTimeout),
		handler.WithMetrics(metrics.New(a.registry)),
	)
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:   a.logger,
		Identify: identify,
		Store:    a.store,
		Gatherer: a.registry,
	})
	srv := httpserver.New(a.cfg.Server.Addr, router, a.cfg.Server.RequestTimeout+a.cfg.Server.ShutdownTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("starting identify", "addr", a.cfg.Server.Addr, "env", a.cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down identify")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
