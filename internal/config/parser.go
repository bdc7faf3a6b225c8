// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/gossh-gateway/internal/models"
	"github.com/spf13/viper"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.GatewayConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.GatewayConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// rawHost mirrors the YAML host entry. DisablePager is a pointer so an
// absent key can default to true.
type rawHost struct {
	Name           string            `mapstructure:"name"`
	Description    string            `mapstructure:"description"`
	Host           string            `mapstructure:"host"`
	Port           int               `mapstructure:"port"`
	Username       string            `mapstructure:"username"`
	Password       string            `mapstructure:"password"`
	PrivateKeyPath string            `mapstructure:"private_key_path"`
	ExecutionMode  string            `mapstructure:"execution_mode"`
	DisablePager   *bool             `mapstructure:"disable_pager"`
	WOL            *models.WOLConfig `mapstructure:"wol"`
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.GatewayConfig, error) {
	cfg := &models.GatewayConfig{}

	// Parse server settings.
	cfg.Server = models.ServerConfig{
		Host:   p.v.GetString("server.host"),
		Port:   p.v.GetInt("server.port"),
		APIKey: p.expandEnv(p.v.GetString("server.api_key")),
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	// Parse session settings with defaults.
	cfg.Session = models.SessionSettings{
		IdleTimeout:        p.v.GetDuration("session.idle_timeout"),
		MaxSessionsPerHost: p.v.GetInt("session.max_sessions_per_host"),
		CleanupInterval:    p.v.GetDuration("session.cleanup_interval"),
	}
	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = 30 * time.Minute
	}
	if cfg.Session.MaxSessionsPerHost == 0 {
		cfg.Session.MaxSessionsPerHost = 5
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = 60 * time.Second
	}

	// Parse hosts (required).
	var rawHosts []rawHost
	if err := p.v.UnmarshalKey("hosts", &rawHosts); err != nil {
		return nil, fmt.Errorf("parsing hosts: %w", err)
	}
	if len(rawHosts) == 0 {
		return nil, fmt.Errorf("hosts is required")
	}

	seen := make(map[string]bool, len(rawHosts))
	for _, raw := range rawHosts {
		host, err := p.parseHost(raw)
		if err != nil {
			return nil, err
		}
		if seen[host.Name] {
			return nil, fmt.Errorf("duplicate host name: %s", host.Name)
		}
		seen[host.Name] = true
		cfg.Hosts = append(cfg.Hosts, *host)
	}

	return cfg, nil
}

func (p *Parser) parseHost(raw rawHost) (*models.HostConfig, error) {
	if raw.Name == "" {
		return nil, fmt.Errorf("hosts[].name is required")
	}
	if raw.Host == "" {
		return nil, fmt.Errorf("hosts.%s.host is required", raw.Name)
	}
	if raw.Username == "" {
		return nil, fmt.Errorf("hosts.%s.username is required", raw.Name)
	}

	host := &models.HostConfig{
		Name:           raw.Name,
		Description:    raw.Description,
		Host:           raw.Host,
		Port:           raw.Port,
		Username:       raw.Username,
		Password:       p.expandEnv(raw.Password),
		PrivateKeyPath: expandHome(p.expandEnv(raw.PrivateKeyPath)),
		ExecutionMode:  raw.ExecutionMode,
		DisablePager:   true,
		WOL:            raw.WOL,
	}
	if raw.DisablePager != nil {
		host.DisablePager = *raw.DisablePager
	}

	if host.Password == "" && host.PrivateKeyPath == "" {
		return nil, fmt.Errorf("hosts.%s requires password or private_key_path", host.Name)
	}

	if host.Port == 0 {
		host.Port = 22
	}

	if host.ExecutionMode == "" {
		host.ExecutionMode = models.ExecModeExec
	}
	if host.ExecutionMode != models.ExecModeExec && host.ExecutionMode != models.ExecModeShell {
		return nil, fmt.Errorf("hosts.%s.execution_mode must be one of: exec, shell", host.Name)
	}

	if host.WOL != nil {
		if host.WOL.MACAddress == "" {
			return nil, fmt.Errorf("hosts.%s.wol.mac_address is required when wol is configured", host.Name)
		}
		if host.WOL.BroadcastIP == "" {
			host.WOL.BroadcastIP = "255.255.255.255"
		}
		if host.WOL.PollInterval == 0 {
			host.WOL.PollInterval = 10 * time.Second
		}
	}

	return host, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.GatewayConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if len(cfg.Hosts) == 0 {
		return fmt.Errorf("hosts is required")
	}

	for _, host := range cfg.Hosts {
		if host.Name == "" {
			return fmt.Errorf("hosts[].name is required")
		}
		if host.Host == "" {
			return fmt.Errorf("hosts.%s.host is required", host.Name)
		}
		if host.Password == "" && host.PrivateKeyPath == "" {
			return fmt.Errorf("hosts.%s requires password or private_key_path", host.Name)
		}
	}

	return nil
}
