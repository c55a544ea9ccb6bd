package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve requests through the cache engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&a.listen, "listen", "", "listen address (overrides server.listen)")
	return cmd
}

func (a *app) serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	origin, err := a.origin()
	if err != nil {
		return err
	}
	listen := a.cfg.Server.Listen
	if a.listen != "" {
		listen = a.listen
	}

	backend, err := a.cfg.OpenBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	eng, err := a.newEngine(ctx, backend, a.cfg.Build.Version)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Engine close failed")
		}
	}()
	eng.Start(ctx)

	srv := newServer(eng, origin, a.logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(listen)
	}()

	a.logger.Info().
		Str("listen", listen).
		Str("origin", origin.String()).
		Str("version", eng.Version()).
		Str("storage", a.cfg.Storage.Backend).
		Msg("cachegate started")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	a.logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.logger.Info().Msg("Server exited")
	return nil
}
