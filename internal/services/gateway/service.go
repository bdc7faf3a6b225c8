// Package gateway is the thin service facade between inbound API calls and
// the session pool.
package gateway

import (
	"github.com/fgeck/gossh-gateway/internal/models"
	"github.com/fgeck/gossh-gateway/internal/services/pool"
	"github.com/rs/zerolog"
)

// Service defines the operations exposed to callers.
type Service interface {
	ListHosts() []models.HostSummary
	ExecuteCommand(host, command string) (*models.CommandResult, error)
	GetWorkingDirectory(host string) (*models.WorkingDirectory, error)
	CloseSession(host string) *models.CloseStatus
	Stats() *models.PoolStats
}

// Impl implements the gateway Service interface.
type Impl struct {
	pool   pool.Service
	logger zerolog.Logger
}

// New creates a new gateway service on top of a session pool.
func New(p pool.Service, logger zerolog.Logger) *Impl {
	return &Impl{pool: p, logger: logger}
}

// ListHosts returns all configured hosts.
func (s *Impl) ListHosts() []models.HostSummary {
	s.logger.Debug().Msg("listing configured hosts")
	return s.pool.ListHosts()
}

// ExecuteCommand runs a command on the named host.
func (s *Impl) ExecuteCommand(host, command string) (*models.CommandResult, error) {
	s.logger.Info().Str("host", host).Str("command", truncate(command, 50)).Msg("execute command")
	return s.pool.ExecuteCommand(host, command)
}

// GetWorkingDirectory reports the working directory on the named host.
func (s *Impl) GetWorkingDirectory(host string) (*models.WorkingDirectory, error) {
	s.logger.Debug().Str("host", host).Msg("get working directory")
	return s.pool.GetWorkingDirectory(host)
}

// CloseSession closes all sessions for the named host.
func (s *Impl) CloseSession(host string) *models.CloseStatus {
	s.logger.Info().Str("host", host).Msg("close session")
	return s.pool.CloseSession(host)
}

// Stats returns a snapshot of the session pool.
func (s *Impl) Stats() *models.PoolStats {
	return s.pool.Stats()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
