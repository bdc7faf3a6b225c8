// Package wol wakes sleeping hosts before they are contacted over SSH.
package wol

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fgeck/gossh-gateway/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, host models.HostConfig) (*models.WOLResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// Dialer allows mocking the SSH port probe.
type Dialer interface {
	DialTimeout(network, addr string, timeout time.Duration) (net.Conn, error)
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to the specified MAC address.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(ip.String()+":9", mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}

	return nil
}

type defaultDialer struct{}

func (d *defaultDialer) DialTimeout(network, addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, addr, timeout)
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient Client
	dialer    Dialer
	logger    zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		wolClient: &DefaultClient{},
		dialer:    &defaultDialer{},
		logger:    logger,
	}
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, wolClient Client, dialer Dialer) *Impl {
	return &Impl{
		wolClient: wolClient,
		dialer:    dialer,
		logger:    logger,
	}
}

// Wake sends a magic packet for the host and, when a wait timeout is
// configured, polls its SSH port until it accepts connections.
func (s *Impl) Wake(ctx context.Context, host models.HostConfig) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()

	if host.WOL == nil {
		result.Error = fmt.Errorf("host %q has no wake-on-lan configuration", host.Name)
		return result, nil
	}
	cfg := host.WOL

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	s.logger.Info().
		Str("host", host.Name).
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("sending WOL packet")

	if err := s.wolClient.Wake(cfg.BroadcastIP, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	result.PacketSent = true

	if cfg.Timeout == 0 {
		result.WaitDuration = time.Since(start)
		result.HostReady = true
		return result, nil
	}

	addr := net.JoinHostPort(host.Host, strconv.Itoa(host.Port))
	s.logger.Info().
		Str("addr", addr).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for SSH port to accept connections")

	if err := s.waitForPort(ctx, addr, cfg); err != nil {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	result.HostReady = true
	result.WaitDuration = time.Since(start)

	s.logger.Info().Dur("duration", result.WaitDuration).Msg("host is ready")
	return result, nil
}

func (s *Impl) waitForPort(ctx context.Context, addr string, cfg *models.WOLConfig) error {
	deadline := time.Now().Add(cfg.Timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %s", addr)
		}

		conn, err := s.dialer.DialTimeout("tcp", addr, cfg.PollInterval)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		s.logger.Debug().Err(err).Msg("host not ready yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}
