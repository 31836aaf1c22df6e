package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"lipdub/internal/handler"
	"lipdub/internal/infrastructure/database"
	applog "lipdub/internal/logger"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd(configPath *string) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrate {
				if err := database.Migrate(ctx, a.db); err != nil {
					return err
				}
			}
			return a.serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "run migrations before serving")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	log := applog.WithModule("server")
	h := handler.NewHandler(a.uploads, a.payments, a.languages)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler: handler.SetupRouter(h, a.cfg.Server.Mode),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("port", a.cfg.Server.Port).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.reconciler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		a.outbox.Start(gctx)
		return nil
	})
	g.Go(func() error {
		a.cleanup.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		a.reconciler.Stop()
		a.outbox.Stop()
		a.cleanup.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	log.Info("server stopped")
	return err
}

func reconcileCmd(configPath *string) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run the translation reconciler and outbox without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if !once {
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { a.reconciler.Start(gctx); return nil })
				g.Go(func() error { a.outbox.Start(gctx); return nil })
				return g.Wait()
			}

			result, err := a.reconciler.Sweep(ctx)
			if err != nil {
				return err
			}
			sent := a.outbox.ProcessPending(ctx)
			applog.WithModule("reconciler").WithFields(logrus.Fields{
				"scanned":  result.Scanned,
				"outcomes": result.Outcomes,
				"sent":     sent,
			}).Info("single sweep finished")
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run one sweep and one outbox pass, then exit")
	return cmd
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema and seed the language catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := database.Migrate(cmd.Context(), a.db); err != nil {
				return err
			}
			applog.WithModule("database").Info("migration finished")
			return nil
		},
	}
}
