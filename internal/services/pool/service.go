// Package pool manages the per-host pool of SSH sessions: lazy creation,
// reuse, capacity-bounded eviction and background idle reaping.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fgeck/gossh-gateway/internal/models"
	"github.com/fgeck/gossh-gateway/internal/services/session"
	"github.com/rs/zerolog"
)

const stopTimeout = 5 * time.Second

// HostNotFoundError reports a reference to a host name absent from the
// configured host directory.
type HostNotFoundError struct {
	Host string
}

func (e *HostNotFoundError) Error() string {
	return fmt.Sprintf("host not found: %s", e.Host)
}

// SessionFactory builds sessions for a host; swapped out in tests.
type SessionFactory func(host models.HostConfig, logger zerolog.Logger) session.Session

// Service defines the pool operations.
type Service interface {
	ListHosts() []models.HostSummary
	ExecuteCommand(hostName, command string) (*models.CommandResult, error)
	GetWorkingDirectory(hostName string) (*models.WorkingDirectory, error)
	CloseSession(hostName string) *models.CloseStatus
	Stats() *models.PoolStats
	Start()
	Stop()
}

// Impl implements the pool Service interface.
type Impl struct {
	cfg     *models.GatewayConfig
	factory SessionFactory
	logger  zerolog.Logger

	// mu guards the sessions map, including the whole get-or-create
	// sequence. Dialing under the lock is deliberate: it serializes all
	// new connection establishment pool-wide, which rules out duplicate
	// connection races at the cost of head-of-line blocking while a
	// connection comes up.
	mu       sync.Mutex
	sessions map[string][]session.Session

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a session pool for the configured hosts.
func New(cfg *models.GatewayConfig, logger zerolog.Logger) *Impl {
	return NewWithSessionFactory(cfg, logger, func(host models.HostConfig, logger zerolog.Logger) session.Session {
		return session.New(host, logger)
	})
}

// NewWithSessionFactory creates a pool with a custom session factory (for testing).
func NewWithSessionFactory(cfg *models.GatewayConfig, logger zerolog.Logger, factory SessionFactory) *Impl {
	return &Impl{
		cfg:      cfg,
		factory:  factory,
		logger:   logger,
		sessions: make(map[string][]session.Session),
	}
}

// Start launches the background reaper.
func (p *Impl) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	p.logger.Info().
		Dur("interval", p.cfg.Session.CleanupInterval).
		Dur("idle_timeout", p.cfg.Session.IdleTimeout).
		Msg("starting session reaper")

	go p.reapLoop(ctx)
}

// Stop cancels the reaper, waits a bounded interval for it to finish, then
// force-closes every remaining session.
func (p *Impl) Stop() {
	p.logger.Info().Msg("stopping session pool")

	if p.cancel != nil {
		p.cancel()
		select {
		case <-p.done:
		case <-time.After(stopTimeout):
			p.logger.Warn().Msg("session reaper did not stop in time")
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for name, sessions := range p.sessions {
		for _, s := range sessions {
			s.Close()
		}
		delete(p.sessions, name)
	}
}

// ListHosts returns the configured hosts without touching any session.
func (p *Impl) ListHosts() []models.HostSummary {
	hosts := make([]models.HostSummary, 0, len(p.cfg.Hosts))
	for _, h := range p.cfg.Hosts {
		hosts = append(hosts, models.HostSummary{Name: h.Name, Description: h.Description})
	}
	return hosts
}

// ExecuteCommand runs a command on the named host, creating or reusing a
// pooled session.
func (p *Impl) ExecuteCommand(hostName, command string) (*models.CommandResult, error) {
	if _, ok := p.cfg.Host(hostName); !ok {
		return nil, &HostNotFoundError{Host: hostName}
	}

	sess, err := p.getOrCreateSession(hostName)
	if err != nil {
		return nil, err
	}

	result, err := sess.Execute(command)
	if err != nil {
		// The session closed itself on failure; drop it so the next
		// call starts from a clean slate.
		p.removeSession(hostName, sess)
		return nil, err
	}
	return result, nil
}

// GetWorkingDirectory reports the current working directory on the named host.
func (p *Impl) GetWorkingDirectory(hostName string) (*models.WorkingDirectory, error) {
	if _, ok := p.cfg.Host(hostName); !ok {
		return nil, &HostNotFoundError{Host: hostName}
	}

	sess, err := p.getOrCreateSession(hostName)
	if err != nil {
		return nil, err
	}

	pwd, err := sess.WorkingDirectory()
	if err != nil {
		p.removeSession(hostName, sess)
		return nil, err
	}
	return &models.WorkingDirectory{Host: hostName, WorkingDirectory: pwd}, nil
}

// CloseSession closes and discards every session for the host. It is
// idempotent; closing a host without sessions is reported, not an error.
func (p *Impl) CloseSession(hostName string) *models.CloseStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	sessions, ok := p.sessions[hostName]
	if !ok {
		return &models.CloseStatus{Host: hostName, Message: "No active session found"}
	}

	for _, s := range sessions {
		s.Close()
	}
	delete(p.sessions, hostName)

	p.logger.Info().Str("host", hostName).Int("count", len(sessions)).Msg("closed host sessions")
	return &models.CloseStatus{Host: hostName, Message: "Session closed successfully"}
}

// Stats returns a point-in-time snapshot of the pool.
func (p *Impl) Stats() *models.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := &models.PoolStats{
		TotalHosts:            len(p.cfg.Hosts),
		ActiveHostConnections: len(p.sessions),
		Hosts:                 make(map[string]models.HostStats, len(p.sessions)),
	}
	for name, sessions := range p.sessions {
		stats.TotalSessions += len(sessions)
		connected := false
		for _, s := range sessions {
			if s.Connected() {
				connected = true
				break
			}
		}
		stats.Hosts[name] = models.HostStats{SessionCount: len(sessions), Connected: connected}
	}
	return stats
}

func (p *Impl) getOrCreateSession(hostName string) (session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sessions := p.sessions[hostName]
	for _, s := range sessions {
		if s.Connected() {
			return s, nil
		}
	}

	if len(sessions) >= p.cfg.Session.MaxSessionsPerHost {
		p.logger.Warn().Str("host", hostName).Msg("session limit reached, evicting oldest")
		oldest := sessions[0]
		sessions = sessions[1:]
		oldest.Close()
		// Persist the eviction now, so it survives a failed connect below.
		if len(sessions) > 0 {
			p.sessions[hostName] = sessions
		} else {
			delete(p.sessions, hostName)
		}
	}

	host, _ := p.cfg.Host(hostName)
	s := p.factory(*host, p.logger)
	if err := s.Connect(); err != nil {
		return nil, err
	}

	p.sessions[hostName] = append(sessions, s)
	return s, nil
}

func (p *Impl) removeSession(hostName string, target session.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sessions := p.sessions[hostName]
	remaining := make([]session.Session, 0, len(sessions))
	for _, s := range sessions {
		if s != target {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) > 0 {
		p.sessions[hostName] = remaining
	} else {
		delete(p.sessions, hostName)
	}
}

func (p *Impl) reapLoop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Session.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

// reapOnce closes every session idle beyond the configured timeout. A failed
// pass must never kill the loop, so panics are logged and swallowed.
func (p *Impl) reapOnce() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("session reaper pass failed")
		}
	}()

	timeout := p.cfg.Session.IdleTimeout

	p.mu.Lock()
	defer p.mu.Unlock()
	for name, sessions := range p.sessions {
		var active []session.Session
		for _, s := range sessions {
			if s.IsIdle(timeout) {
				p.logger.Info().Str("host", name).Msg("closing idle session")
				s.Close()
			} else {
				active = append(active, s)
			}
		}
		if len(active) > 0 {
			p.sessions[name] = active
		} else {
			delete(p.sessions, name)
		}
	}
}
