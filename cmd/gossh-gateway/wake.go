package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/gossh-gateway/internal/config"
	"github.com/fgeck/gossh-gateway/internal/services/wol"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var wakeCmd = &cobra.Command{
	Use:   "wake <host>",
	Short: "Send a Wake-on-LAN packet to a configured host",
	Long: `Send a Wake-on-LAN magic packet to the named host. When the host has a
wake timeout configured, wait until its SSH port accepts connections.`,
	Args: cobra.ExactArgs(1),
	RunE: runWake,
}

func runWake(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	hostName := args[0]
	host, ok := cfg.Host(hostName)
	if !ok {
		return fmt.Errorf("host not found: %s", hostName)
	}
	if host.WOL == nil {
		return fmt.Errorf("host %q has no wake-on-lan configuration", hostName)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, aborting")
		cancel()
	}()

	result, err := wol.New(log.Logger).Wake(ctx, *host)
	if err != nil {
		return err
	}
	if result.Error != nil {
		log.Error().Err(result.Error).Str("host", hostName).Msg("wake failed")
		return result.Error
	}

	log.Info().
		Str("host", hostName).
		Bool("ready", result.HostReady).
		Dur("duration", result.WaitDuration).
		Msg("wake completed")
	return nil
}
