package main

import (
	"fmt"
	"os"

	"github.com/fgeck/gossh-gateway/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without starting the gateway or opening any connections.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Server:")
	fmt.Printf("  Listen: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Authentication: %v\n", cfg.Server.APIKey != "")
	fmt.Println()
	fmt.Println("Session Pool:")
	fmt.Printf("  Idle timeout: %s\n", cfg.Session.IdleTimeout)
	fmt.Printf("  Max sessions per host: %d\n", cfg.Session.MaxSessionsPerHost)
	fmt.Printf("  Cleanup interval: %s\n", cfg.Session.CleanupInterval)
	fmt.Println()
	fmt.Printf("Hosts (%d):\n", len(cfg.Hosts))

	for _, host := range cfg.Hosts {
		fmt.Println()
		fmt.Printf("  %s\n", host.Name)
		if host.Description != "" {
			fmt.Printf("    Description: %s\n", host.Description)
		}
		fmt.Printf("    Address: %s:%d\n", host.Host, host.Port)
		fmt.Printf("    Username: %s\n", host.Username)
		if host.PrivateKeyPath != "" {
			fmt.Printf("    Auth: private key (%s)\n", host.PrivateKeyPath)
		} else {
			fmt.Printf("    Auth: password\n")
		}
		fmt.Printf("    Execution mode: %s\n", host.ExecutionMode)
		fmt.Printf("    Pager suppression: %v\n", host.DisablePager)
		if host.WOL != nil {
			fmt.Printf("    Wake-on-LAN: %s via %s\n", host.WOL.MACAddress, host.WOL.BroadcastIP)
		}
	}

	return nil
}
