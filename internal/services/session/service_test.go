package session

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/fgeck/gossh-gateway/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// Mock implementations
type mockCommandSession struct {
	runFunc   func(cmd string) ([]byte, []byte, int, error)
	closeFunc func() error
}

func (m *mockCommandSession) Run(cmd string) ([]byte, []byte, int, error) {
	if m.runFunc != nil {
		return m.runFunc(cmd)
	}
	return []byte(""), nil, 0, nil
}

func (m *mockCommandSession) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

type mockClient struct {
	newCommandSessionFunc func() (CommandSession, error)
	openShellFunc         func() (ShellChannel, error)
	closeFunc             func() error
}

func (m *mockClient) NewCommandSession() (CommandSession, error) {
	if m.newCommandSessionFunc != nil {
		return m.newCommandSessionFunc()
	}
	return &mockCommandSession{}, nil
}

func (m *mockClient) OpenShell() (ShellChannel, error) {
	if m.openShellFunc != nil {
		return m.openShellFunc()
	}
	return &scriptedShell{}, nil
}

func (m *mockClient) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

type mockClientFactory struct {
	dialFunc  func(addr string, config *ssh.ClientConfig) (Client, error)
	dialCalls int
}

func (m *mockClientFactory) Dial(addr string, config *ssh.ClientConfig) (Client, error) {
	m.dialCalls++
	if m.dialFunc != nil {
		return m.dialFunc(addr, config)
	}
	return &mockClient{}, nil
}

// scriptedShell simulates the PTY stream: output becomes readable only
// after the bracketed command has been sent, the way a real shell behaves.
type scriptedShell struct {
	mu          sync.Mutex
	buildChunks func(startMarker, endMarker string) []string
	chunks      []string
	sent        []string
	closed      bool
}

func (s *scriptedShell) Send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, cmd)
	if s.buildChunks != nil && strings.HasPrefix(cmd, "echo '") {
		parts := strings.Split(cmd, "'")
		s.chunks = s.buildChunks(parts[1], parts[3])
	}
	return nil
}

func (s *scriptedShell) Read(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		return nil, ErrReadTimeout
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return []byte(chunk), nil
}

func (s *scriptedShell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedShell) sentCommands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testHost() models.HostConfig {
	return models.HostConfig{
		Name:          "web1",
		Host:          "192.168.1.10",
		Port:          22,
		Username:      "root",
		Password:      "secret",
		ExecutionMode: models.ExecModeExec,
	}
}

func execFactory(run func(cmd string) ([]byte, []byte, int, error)) *mockClientFactory {
	return &mockClientFactory{
		dialFunc: func(addr string, config *ssh.ClientConfig) (Client, error) {
			return &mockClient{
				newCommandSessionFunc: func() (CommandSession, error) {
					return &mockCommandSession{runFunc: run}, nil
				},
			}, nil
		},
	}
}

func TestExecute_ExecMode_Success(t *testing.T) {
	var capturedCommand string

	factory := execFactory(func(cmd string) ([]byte, []byte, int, error) {
		capturedCommand = cmd
		return []byte("ok\n"), nil, 0, nil
	})

	s := NewWithClientFactory(testHost(), testLogger(), factory)
	result, err := s.Execute("echo ok")

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Output)
	assert.Equal(t, "echo ok", result.Command)
	assert.Nil(t, result.ExitStatus)
	assert.Equal(t, "echo ok", capturedCommand)
	assert.True(t, s.Connected())
}

func TestExecute_ExecMode_Failure(t *testing.T) {
	factory := execFactory(func(cmd string) ([]byte, []byte, int, error) {
		return nil, []byte("bad\n"), 2, nil
	})

	s := NewWithClientFactory(testHost(), testLogger(), factory)
	result, err := s.Execute("false")

	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotNil(t, result.ExitStatus)
	assert.Equal(t, 2, *result.ExitStatus)
	assert.Contains(t, result.Output, "bad")
}

func TestExecute_ExecMode_CombinesStderrAfterStdout(t *testing.T) {
	factory := execFactory(func(cmd string) ([]byte, []byte, int, error) {
		return []byte("out\n"), []byte("err\n"), 1, nil
	})

	s := NewWithClientFactory(testHost(), testLogger(), factory)
	result, err := s.Execute("mixed")

	require.NoError(t, err)
	assert.Equal(t, "out\n\nerr", result.Output)
}

func TestExecute_ExecMode_PagerSuppression(t *testing.T) {
	var capturedCommand string

	factory := execFactory(func(cmd string) ([]byte, []byte, int, error) {
		capturedCommand = cmd
		return []byte("logs"), nil, 0, nil
	})

	host := testHost()
	host.DisablePager = true

	s := NewWithClientFactory(host, testLogger(), factory)
	result, err := s.Execute("journalctl -u foo")

	require.NoError(t, err)
	assert.Contains(t, capturedCommand, "journalctl --no-pager -u foo")
	assert.True(t, strings.HasPrefix(capturedCommand, "export PAGER='cat'"))
	// The caller always sees the original text.
	assert.Equal(t, "journalctl -u foo", result.Command)
}

func TestExecute_ExecMode_TransportFailureClosesSession(t *testing.T) {
	clientClosed := false

	factory := &mockClientFactory{
		dialFunc: func(addr string, config *ssh.ClientConfig) (Client, error) {
			return &mockClient{
				newCommandSessionFunc: func() (CommandSession, error) {
					return &mockCommandSession{
						runFunc: func(cmd string) ([]byte, []byte, int, error) {
							return nil, nil, 0, errors.New("connection lost")
						},
					}, nil
				},
				closeFunc: func() error {
					clientClosed = true
					return nil
				},
			}, nil
		},
	}

	s := NewWithClientFactory(testHost(), testLogger(), factory)
	_, err := s.Execute("uptime")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")
	assert.False(t, s.Connected())
	assert.True(t, clientClosed)
}

func TestExecute_ExecMode_Timeout(t *testing.T) {
	factory := execFactory(func(cmd string) ([]byte, []byte, int, error) {
		time.Sleep(500 * time.Millisecond)
		return []byte("late"), nil, 0, nil
	})

	s := NewWithClientFactory(testHost(), testLogger(), factory)
	s.timeout = 50 * time.Millisecond

	_, err := s.Execute("sleep 10")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandTimeout)
	assert.False(t, s.Connected())
}

func TestConnect_NoopWhenConnected(t *testing.T) {
	factory := &mockClientFactory{}

	s := NewWithClientFactory(testHost(), testLogger(), factory)
	require.NoError(t, s.Connect())
	require.NoError(t, s.Connect())

	assert.Equal(t, 1, factory.dialCalls)
}

func TestConnect_ClassifiesConnectionRefused(t *testing.T) {
	factory := &mockClientFactory{
		dialFunc: func(addr string, config *ssh.ClientConfig) (Client, error) {
			return nil, &net.OpError{
				Op:  "dial",
				Net: "tcp",
				Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
			}
		},
	}

	s := NewWithClientFactory(testHost(), testLogger(), factory)
	err := s.Connect()

	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, KindConnectionRefused, connErr.Kind)
	assert.Equal(t, "web1", connErr.Host)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, s.Connected())
}

func TestConnect_ClassifiesAuthFailure(t *testing.T) {
	factory := &mockClientFactory{
		dialFunc: func(addr string, config *ssh.ClientConfig) (Client, error) {
			return nil, errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]")
		},
	}

	s := NewWithClientFactory(testHost(), testLogger(), factory)
	err := s.Connect()

	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, KindAuthFailed, connErr.Kind)
	assert.Contains(t, err.Error(), "authentication failed")
}

func TestConnect_MissingKeyFileReported(t *testing.T) {
	host := testHost()
	host.Password = ""
	host.PrivateKeyPath = "/nonexistent/path/id_ed25519"

	s := NewWithClientFactory(host, testLogger(), &mockClientFactory{})
	err := s.Connect()

	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Contains(t, err.Error(), "reading private key")
}

func TestConnect_ShellMode_DisablesEcho(t *testing.T) {
	shell := &scriptedShell{}
	factory := &mockClientFactory{
		dialFunc: func(addr string, config *ssh.ClientConfig) (Client, error) {
			return &mockClient{
				openShellFunc: func() (ShellChannel, error) {
					return shell, nil
				},
			}, nil
		},
	}

	host := testHost()
	host.ExecutionMode = models.ExecModeShell

	s := NewWithClientFactory(host, testLogger(), factory)
	require.NoError(t, s.Connect())

	assert.Contains(t, shell.sentCommands(), "stty -echo\n")
	assert.True(t, s.Connected())
}

func shellSession(t *testing.T, buildChunks func(startMarker, endMarker string) []string) (*Impl, *scriptedShell) {
	t.Helper()

	shell := &scriptedShell{buildChunks: buildChunks}
	factory := &mockClientFactory{
		dialFunc: func(addr string, config *ssh.ClientConfig) (Client, error) {
			return &mockClient{
				openShellFunc: func() (ShellChannel, error) {
					return shell, nil
				},
			}, nil
		},
	}

	host := testHost()
	host.ExecutionMode = models.ExecModeShell

	return NewWithClientFactory(host, testLogger(), factory), shell
}

func TestExecute_ShellMode_ExtractsBetweenMarkers(t *testing.T) {
	s, shell := shellSession(t, func(startMarker, endMarker string) []string {
		return []string{
			"leftover prompt noise\n",
			startMarker + "\n",
			"ls -la\n", // echoed command line
			"file1\nfile2\n",
			"\n",
			endMarker + "\n",
		}
	})

	result, err := s.Execute("ls -la")

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "file1\nfile2", result.Output)
	assert.Equal(t, "ls -la", result.Command)
	assert.Nil(t, result.ExitStatus)
	assert.NotContains(t, result.Output, "__START_")
	assert.NotContains(t, result.Output, "__END_")

	sent := shell.sentCommands()
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	assert.True(t, strings.HasPrefix(last, "echo '__START_"))
	assert.True(t, strings.HasSuffix(last, "__'\n"))
	assert.Contains(t, last, "; ls -la; echo '__END_")
}

func TestExecute_ShellMode_CompletesOnMarkerArrival(t *testing.T) {
	s, _ := shellSession(t, func(startMarker, endMarker string) []string {
		// Everything arrives in one flush, marker included; the stream
		// then stays silent forever.
		return []string{startMarker + "\ndone\n" + endMarker + "\nprompt$ "}
	})
	s.timeout = time.Second

	start := time.Now()
	result, err := s.Execute("make check")

	require.NoError(t, err)
	assert.Equal(t, "done", result.Output)
	assert.Less(t, time.Since(start), time.Second,
		"read loop must finish on the read that delivers the end marker")
}

func TestExecute_ShellMode_MissingStartMarkerFallback(t *testing.T) {
	s, _ := shellSession(t, func(startMarker, endMarker string) []string {
		// The start marker got lost; everything before the end marker
		// is still usable.
		return []string{"orphan output\n", endMarker + "\n"}
	})

	result, err := s.Execute("whoami")

	require.NoError(t, err)
	assert.Equal(t, "orphan output", result.Output)
}

func TestExecute_ShellMode_MarkerSplitAcrossReads(t *testing.T) {
	s, _ := shellSession(t, func(startMarker, endMarker string) []string {
		half := len(endMarker) / 2
		return []string{
			startMarker + "\nresult line\n",
			endMarker[:half],
			endMarker[half:] + "\n",
		}
	})

	result, err := s.Execute("cat notes")

	require.NoError(t, err)
	assert.Equal(t, "result line", result.Output)
}

func TestExecute_ShellMode_Timeout(t *testing.T) {
	s, _ := shellSession(t, func(startMarker, endMarker string) []string {
		// The end marker never arrives.
		return []string{startMarker + "\npartial output\n"}
	})
	s.timeout = 200 * time.Millisecond

	_, err := s.Execute("hang")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandTimeout)
	assert.False(t, s.Connected())
}

func TestExecute_ShellMode_FreshMarkersPerInvocation(t *testing.T) {
	s, shell := shellSession(t, func(startMarker, endMarker string) []string {
		return []string{startMarker + "\nout\n" + endMarker + "\n"}
	})

	_, err := s.Execute("first")
	require.NoError(t, err)
	_, err = s.Execute("second")
	require.NoError(t, err)

	sent := shell.sentCommands()
	var bracketed []string
	for _, cmd := range sent {
		if strings.HasPrefix(cmd, "echo '") {
			bracketed = append(bracketed, cmd)
		}
	}
	require.Len(t, bracketed, 2)
	assert.NotEqual(t, bracketed[0], bracketed[1])
}

func TestWorkingDirectory(t *testing.T) {
	var capturedCommand string

	factory := execFactory(func(cmd string) ([]byte, []byte, int, error) {
		capturedCommand = cmd
		return []byte("/home/deploy\n"), nil, 0, nil
	})

	s := NewWithClientFactory(testHost(), testLogger(), factory)
	pwd, err := s.WorkingDirectory()

	require.NoError(t, err)
	assert.Equal(t, "/home/deploy", pwd)
	assert.Contains(t, capturedCommand, "pwd")
}

func TestIsIdle(t *testing.T) {
	s := NewWithClientFactory(testHost(), testLogger(), &mockClientFactory{})

	s.mu.Lock()
	s.lastAccess = time.Now().Add(-2 * time.Minute)
	s.mu.Unlock()

	assert.True(t, s.IsIdle(time.Minute))
	assert.False(t, s.IsIdle(5*time.Minute))
}

func TestExecute_ResetsIdleClock(t *testing.T) {
	factory := execFactory(func(cmd string) ([]byte, []byte, int, error) {
		return []byte("ok"), nil, 0, nil
	})

	s := NewWithClientFactory(testHost(), testLogger(), factory)

	s.mu.Lock()
	s.lastAccess = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	_, err := s.Execute("echo ok")
	require.NoError(t, err)

	assert.False(t, s.IsIdle(time.Minute))
}

func TestClose_Idempotent(t *testing.T) {
	closeCalls := 0
	factory := &mockClientFactory{
		dialFunc: func(addr string, config *ssh.ClientConfig) (Client, error) {
			return &mockClient{
				closeFunc: func() error {
					closeCalls++
					return errors.New("already closed")
				},
			}, nil
		},
	}

	s := NewWithClientFactory(testHost(), testLogger(), factory)
	require.NoError(t, s.Connect())

	s.Close()
	s.Close()

	assert.False(t, s.Connected())
	assert.Equal(t, 1, closeCalls)
}

func TestExtractBetweenMarkers(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"both markers", "noise__S__RESULT__E__trailing", "RESULT"},
		{"missing start marker", "orphan__E__trailing", "orphan"},
		{"missing end marker", "no frame at all", "no frame at all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractBetweenMarkers(tt.raw, "__S__", "__E__"))
		})
	}
}
