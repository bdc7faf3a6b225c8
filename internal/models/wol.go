package models

import "time"

// WOLConfig holds Wake-on-LAN settings for a host.
type WOLConfig struct {
	MACAddress   string        `mapstructure:"mac_address"`
	BroadcastIP  string        `mapstructure:"broadcast_ip"`
	Timeout      time.Duration `mapstructure:"timeout"`       // how long to wait for the SSH port
	PollInterval time.Duration `mapstructure:"poll_interval"` // delay between port probes
}

// WOLResult holds the result of a wake operation.
type WOLResult struct {
	PacketSent   bool
	HostReady    bool
	WaitDuration time.Duration
	Error        error
}
