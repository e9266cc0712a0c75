package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/colabhq/syncrelay/internal/adapters/http"
	"github.com/colabhq/syncrelay/internal/app"
	"github.com/colabhq/syncrelay/internal/config"
)

var debugLog bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&debugLog, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if debugLog {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return err
	}

	registry := app.NewRegistry(cfg.GracePeriod)
	hub := &app.Hub{
		Sessions: registry,
		Policy:   app.KickSlowPolicy{},
	}

	r := router.SetupRouter(ctx, cfg, hub)
	addr := cfg.Addr()

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("sync relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Accept-loop failure: stop taking new connections, the
			// attached ones keep running until shutdown.
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	registry.Shutdown()
	log.Info().Msg("Server exited gracefully")
	return nil
}
