package session

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// ErrReadTimeout reports that a shell read produced no data within its window.
var ErrReadTimeout = errors.New("shell read timed out")

// CommandSession runs exactly one command over a fresh SSH exec channel.
type CommandSession interface {
	// Run executes cmd and returns captured stdout, stderr and the remote
	// exit status. A non-zero exit status is not an error; err is reserved
	// for transport-level failures.
	Run(cmd string) (stdout, stderr []byte, exitStatus int, err error)
	Close() error
}

// ShellChannel is a PTY-backed interactive shell stream.
type ShellChannel interface {
	Send(s string) error
	// Read returns whatever bytes arrived within timeout, ErrReadTimeout if
	// none did, or io.EOF once the remote side closed the stream.
	Read(timeout time.Duration) ([]byte, error)
	Close() error
}

// Client wraps an authenticated SSH connection for mocking.
type Client interface {
	NewCommandSession() (CommandSession, error)
	OpenShell() (ShellChannel, error)
	Close() error
}

// ClientFactory establishes SSH connections.
type ClientFactory interface {
	Dial(addr string, config *ssh.ClientConfig) (Client, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// Dial connects and authenticates using golang.org/x/crypto/ssh.
func (f *DefaultClientFactory) Dial(addr string, config *ssh.ClientConfig) (Client, error) {
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultClient{client: client}, nil
}

type defaultClient struct {
	client *ssh.Client
}

func (c *defaultClient) NewCommandSession() (CommandSession, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultCommandSession{session: sess}, nil
}

func (c *defaultClient) OpenShell() (ShellChannel, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm", 40, 120, modes); err != nil {
		_ = sess.Close()
		return nil, err
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, err
	}

	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		return nil, err
	}

	ch := &defaultShellChannel{
		session: sess,
		stdin:   stdin,
		data:    make(chan []byte, 16),
		done:    make(chan struct{}),
	}
	go ch.readLoop(stdout)

	return ch, nil
}

func (c *defaultClient) Close() error {
	return c.client.Close()
}

type defaultCommandSession struct {
	session *ssh.Session
}

func (s *defaultCommandSession) Run(cmd string) ([]byte, []byte, int, error) {
	var stdout, stderr bytes.Buffer
	s.session.Stdout = &stdout
	s.session.Stderr = &stderr

	if err := s.session.Run(cmd); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), stderr.Bytes(), exitErr.ExitStatus(), nil
		}
		return stdout.Bytes(), stderr.Bytes(), 0, err
	}

	return stdout.Bytes(), stderr.Bytes(), 0, nil
}

func (s *defaultCommandSession) Close() error {
	return s.session.Close()
}

// defaultShellChannel adds read timeouts on top of the SSH stdout pipe,
// which has no deadline support of its own, by pumping it through a channel.
type defaultShellChannel struct {
	session   *ssh.Session
	stdin     io.WriteCloser
	data      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (ch *defaultShellChannel) readLoop(r io.Reader) {
	defer close(ch.data)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case ch.data <- chunk:
			case <-ch.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (ch *defaultShellChannel) Send(s string) error {
	_, err := io.WriteString(ch.stdin, s)
	return err
}

func (ch *defaultShellChannel) Read(timeout time.Duration) ([]byte, error) {
	select {
	case chunk, ok := <-ch.data:
		if !ok {
			return nil, io.EOF
		}
		return chunk, nil
	case <-time.After(timeout):
		return nil, ErrReadTimeout
	}
}

func (ch *defaultShellChannel) Close() error {
	ch.closeOnce.Do(func() { close(ch.done) })
	_ = ch.stdin.Close()
	return ch.session.Close()
}
