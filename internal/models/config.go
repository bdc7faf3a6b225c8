// Package models contains the data structures used throughout gossh-gateway.
package models

import "time"

// GatewayConfig holds the complete configuration for the gateway.
type GatewayConfig struct {
	Server  ServerConfig
	Hosts   []HostConfig
	Session SessionSettings
}

// ServerConfig holds the HTTP API configuration.
type ServerConfig struct {
	Host   string
	Port   int
	APIKey string // optional bearer token; empty disables authentication
}

// SessionSettings controls session pooling and idle reclamation.
type SessionSettings struct {
	IdleTimeout        time.Duration // close sessions unused longer than this
	MaxSessionsPerHost int
	CleanupInterval    time.Duration // reaper wake interval
}

// Host returns the configuration for the named host, or false if unknown.
func (c *GatewayConfig) Host(name string) (*HostConfig, bool) {
	for i := range c.Hosts {
		if c.Hosts[i].Name == name {
			return &c.Hosts[i], true
		}
	}
	return nil, false
}
