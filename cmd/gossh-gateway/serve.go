package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fgeck/gossh-gateway/internal/config"
	"github.com/fgeck/gossh-gateway/internal/server"
	"github.com/fgeck/gossh-gateway/internal/services/gateway"
	"github.com/fgeck/gossh-gateway/internal/services/pool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SSH gateway API server",
	Long: `Run the SSH gateway:
1. Load and validate the host configuration
2. Start the session pool and its idle reaper
3. Serve the JSON HTTP API until SIGINT/SIGTERM
4. Drain the HTTP server and close all pooled sessions on shutdown`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	log.Info().
		Str("config", configFile).
		Int("hosts", len(cfg.Hosts)).
		Bool("auth", cfg.Server.APIKey != "").
		Msg("configuration loaded")

	// Start the session pool and its reaper
	poolSvc := pool.New(cfg, log.Logger)
	poolSvc.Start()

	gatewaySvc := gateway.New(poolSvc, log.Logger)
	srv := server.New(gatewaySvc, cfg.Server, log.Logger)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("http server failed")
		poolSvc.Stop()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown incomplete")
	}

	poolSvc.Stop()
	log.Info().Msg("shutdown complete")
	return nil
}
