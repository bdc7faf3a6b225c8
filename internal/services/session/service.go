// Package session implements a persistent SSH session with two execution
// strategies: stateless exec requests and a stateful interactive shell whose
// output is framed by per-invocation sentinel markers.
package session

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fgeck/gossh-gateway/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

const (
	connectTimeout  = 60 * time.Second
	commandTimeout  = 60 * time.Second
	readStep        = 100 * time.Millisecond
	drainStep       = 50 * time.Millisecond
	bannerStep      = 200 * time.Millisecond
	echoSettleDelay = 300 * time.Millisecond
	maxBannerReads  = 10
)

// Session owns one live SSH connection to one host.
type Session interface {
	Connect() error
	Execute(command string) (*models.CommandResult, error)
	WorkingDirectory() (string, error)
	Connected() bool
	IsIdle(timeout time.Duration) bool
	Close()
}

// Impl implements the Session interface.
type Impl struct {
	host    models.HostConfig
	factory ClientFactory
	logger  zerolog.Logger
	timeout time.Duration

	// execMu serializes command execution so two callers can never
	// interleave writes and reads on the shared shell stream.
	execMu sync.Mutex

	mu         sync.Mutex // guards the connection state below
	client     Client
	shell      ShellChannel
	connected  bool
	lastAccess time.Time
}

// New creates a session for the given host. The connection is established
// lazily on the first Connect or Execute call.
func New(host models.HostConfig, logger zerolog.Logger) *Impl {
	return NewWithClientFactory(host, logger, &DefaultClientFactory{})
}

// NewWithClientFactory creates a session with a custom client factory (for testing).
func NewWithClientFactory(host models.HostConfig, logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		host:       host,
		factory:    factory,
		logger:     logger,
		timeout:    commandTimeout,
		lastAccess: time.Now(),
	}
}

// Connect establishes the SSH connection. It is a no-op when already connected.
func (s *Impl) Connect() error {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	return s.connect()
}

func (s *Impl) connect() error {
	if s.Connected() {
		return nil
	}

	s.logger.Info().
		Str("host", s.host.Name).
		Str("addr", s.host.Host).
		Str("mode", s.host.ExecutionMode).
		Msg("connecting")

	cfg, err := s.buildConfig()
	if err != nil {
		return newConnectionError(s.host.Name, err)
	}

	addr := net.JoinHostPort(s.host.Host, strconv.Itoa(s.host.Port))
	client, err := s.factory.Dial(addr, cfg)
	if err != nil {
		s.logger.Info().Err(err).Str("host", s.host.Name).Msg("connection failed")
		return newConnectionError(s.host.Name, err)
	}

	var shell ShellChannel
	if s.host.ExecutionMode == models.ExecModeShell {
		shell, err = openShell(client)
		if err != nil {
			_ = client.Close()
			return newConnectionError(s.host.Name, err)
		}
	}

	s.mu.Lock()
	s.client = client
	s.shell = shell
	s.connected = true
	s.lastAccess = time.Now()
	s.mu.Unlock()

	s.logger.Info().Str("host", s.host.Name).Msg("connected")
	return nil
}

func (s *Impl) buildConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	// Key auth takes precedence over a configured password.
	if s.host.PrivateKeyPath != "" {
		key, err := os.ReadFile(s.host.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key from %s: %w", s.host.PrivateKeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else if s.host.Password != "" {
		auth = append(auth, ssh.Password(s.host.Password))
	}

	return &ssh.ClientConfig{
		User:            s.host.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // hosts come from trusted config
		Timeout:         connectTimeout,
	}, nil
}

// openShell allocates the PTY-backed shell and settles it: login banners are
// drained and local echo is turned off so command echoes do not pollute the
// captured output.
func openShell(client Client) (ShellChannel, error) {
	shell, err := client.OpenShell()
	if err != nil {
		return nil, err
	}

	for i := 0; i < maxBannerReads; i++ {
		if _, err := shell.Read(bannerStep); err != nil {
			break
		}
	}

	if err := shell.Send("stty -echo\n"); err != nil {
		_ = shell.Close()
		return nil, err
	}
	time.Sleep(echoSettleDelay)
	for {
		if _, err := shell.Read(drainStep); err != nil {
			break
		}
	}

	return shell, nil
}

// Execute runs a command using the host's execution strategy, connecting
// first if needed. Any failure during execution closes the session; the next
// call reconnects lazily.
func (s *Impl) Execute(command string) (*models.CommandResult, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	if !s.Connected() {
		if err := s.connect(); err != nil {
			return nil, err
		}
	}
	s.touch()

	s.logger.Debug().Str("host", s.host.Name).Str("command", command).Msg("executing command")
	start := time.Now()

	var (
		result *models.CommandResult
		err    error
	)
	if s.host.ExecutionMode == models.ExecModeShell {
		result, err = s.executeShell(command)
	} else {
		result, err = s.executeExec(command)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("host", s.host.Name).Msg("command execution failed")
		s.Close()
		return nil, err
	}

	s.logger.Info().
		Str("host", s.host.Name).
		Str("command", truncate(command, 60)).
		Bool("success", result.Success).
		Dur("elapsed", time.Since(start)).
		Msg("command finished")

	return result, nil
}

// executeExec is the stateless strategy: one fresh exec channel per command,
// separate stdout/stderr capture and a real exit status.
func (s *Impl) executeExec(command string) (*models.CommandResult, error) {
	client := s.currentClient()
	if client == nil {
		return nil, errors.New("client not available")
	}

	sess, err := client.NewCommandSession()
	if err != nil {
		return nil, fmt.Errorf("opening exec session: %w", err)
	}
	defer func() { _ = sess.Close() }()

	processed := preprocessCommand(command, s.host.DisablePager)

	type runResult struct {
		stdout, stderr []byte
		exitStatus     int
		err            error
	}
	done := make(chan runResult, 1)
	go func() {
		stdout, stderr, exitStatus, err := sess.Run(processed)
		done <- runResult{stdout, stderr, exitStatus, err}
	}()

	var r runResult
	select {
	case r = <-done:
	case <-time.After(s.timeout):
		return nil, fmt.Errorf("command timed out after %s: %w", s.timeout, ErrCommandTimeout)
	}
	if r.err != nil {
		return nil, fmt.Errorf("running command: %w", r.err)
	}

	output := string(r.stdout)
	if len(r.stderr) > 0 {
		output += "\n" + string(r.stderr)
	}

	result := &models.CommandResult{
		Host:    s.host.Name,
		Command: command,
		Output:  strings.TrimSpace(output),
		Success: r.exitStatus == 0,
	}
	if !result.Success {
		exitStatus := r.exitStatus
		result.ExitStatus = &exitStatus
	}

	return result, nil
}

// executeShell is the stateful strategy. The shell stream has no framing of
// its own, so each invocation brackets its output with two fresh 128-bit
// random markers and the reader scans for the end marker.
func (s *Impl) executeShell(command string) (*models.CommandResult, error) {
	shell := s.currentShell()
	if shell == nil {
		return nil, errors.New("shell channel not available")
	}

	startMarker := newMarker("START")
	endMarker := newMarker("END")

	// Resynchronize: discard anything a previous command left unread.
	for {
		if _, err := shell.Read(drainStep); err != nil {
			break
		}
	}

	processed := preprocessCommand(command, s.host.DisablePager)
	full := fmt.Sprintf("echo '%s'; %s; echo '%s'\n", startMarker, processed, endMarker)
	if err := shell.Send(full); err != nil {
		return nil, fmt.Errorf("sending command: %w", err)
	}

	raw, err := s.readUntilMarker(shell, endMarker)
	if err != nil {
		return nil, err
	}

	output := extractBetweenMarkers(raw, startMarker, endMarker)
	output = cleanShellOutput(output, command, startMarker, endMarker)

	// The sentinel framing carries no exit status channel, so shell-mode
	// results always report success.
	return &models.CommandResult{
		Host:    s.host.Name,
		Command: command,
		Output:  output,
		Success: true,
	}, nil
}

func (s *Impl) readUntilMarker(shell ShellChannel, endMarker string) (string, error) {
	var buf strings.Builder
	deadline := time.Now().Add(s.timeout)

	for {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("command timed out after %s: %w", s.timeout, ErrCommandTimeout)
		}

		chunk, err := shell.Read(readStep)
		switch {
		case err == nil && len(chunk) > 0:
			buf.Write(chunk)
			if strings.Contains(buf.String(), endMarker) {
				return buf.String(), nil
			}
		case err != nil && !errors.Is(err, ErrReadTimeout):
			return "", fmt.Errorf("reading command output: %w", err)
		}
	}
}

func newMarker(prefix string) string {
	return "__" + prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "") + "__"
}

// extractBetweenMarkers returns the text strictly between the first start
// marker occurrence and the first end marker occurrence. If the start marker
// never arrived, everything before the end marker is returned.
func extractBetweenMarkers(raw, startMarker, endMarker string) string {
	end := strings.Index(raw, endMarker)
	if end < 0 {
		return raw
	}
	start := strings.Index(raw, startMarker)
	if start >= 0 && start+len(startMarker) <= end {
		return raw[start+len(startMarker) : end]
	}
	return raw[:end]
}

// cleanShellOutput strips framing noise: leading blank lines, a leading echo
// of the submitted command, any line still carrying a marker, and trailing
// blank lines.
func cleanShellOutput(raw, command, startMarker, endMarker string) string {
	lines := strings.Split(raw, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		if len(cleaned) == 0 && strings.TrimSpace(line) == "" {
			continue
		}
		if len(cleaned) == 0 && strings.Contains(line, strings.TrimSpace(command)) {
			continue
		}
		if strings.Contains(line, startMarker) || strings.Contains(line, endMarker) {
			continue
		}
		cleaned = append(cleaned, line)
	}
	for len(cleaned) > 0 && strings.TrimSpace(cleaned[len(cleaned)-1]) == "" {
		cleaned = cleaned[:len(cleaned)-1]
	}
	return strings.Join(cleaned, "\n")
}

// WorkingDirectory reports the session's current working directory.
func (s *Impl) WorkingDirectory() (string, error) {
	result, err := s.Execute("pwd")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Output), nil
}

// Connected reports whether the session currently holds a live connection.
func (s *Impl) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// IsIdle reports whether the session has been unused longer than timeout.
func (s *Impl) IsIdle(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastAccess) > timeout
}

// Close tears down the shell channel and the connection. It is idempotent
// and swallows close errors.
func (s *Impl) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shell != nil {
		_ = s.shell.Close()
		s.shell = nil
	}
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
	if s.connected {
		s.connected = false
		s.logger.Info().Str("host", s.host.Name).Msg("session closed")
	}
}

func (s *Impl) touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

func (s *Impl) currentClient() Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *Impl) currentShell() ShellChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shell
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
