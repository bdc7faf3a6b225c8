package models

// Execution modes for a host.
const (
	// ExecModeExec runs every command as a fresh, stateless SSH exec request.
	ExecModeExec = "exec"
	// ExecModeShell runs commands on one persistent interactive shell, so
	// environment and working directory survive between calls.
	ExecModeShell = "shell"
)

// HostConfig describes one managed SSH host.
type HostConfig struct {
	Name           string     `mapstructure:"name"`
	Description    string     `mapstructure:"description"`
	Host           string     `mapstructure:"host"`
	Port           int        `mapstructure:"port"`
	Username       string     `mapstructure:"username"`
	Password       string     `mapstructure:"password"`
	PrivateKeyPath string     `mapstructure:"private_key_path"`
	ExecutionMode  string     `mapstructure:"execution_mode"`
	DisablePager   bool       `mapstructure:"disable_pager"`
	WOL            *WOLConfig `mapstructure:"wol"` // nil if not configured
}

// HostSummary is the caller-visible projection of a host.
type HostSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
