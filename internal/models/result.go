package models

// CommandResult holds the outcome of one command execution.
type CommandResult struct {
	Host    string `json:"host"`
	Command string `json:"command"` // original text, never the preprocessed form
	Output  string `json:"output"`
	Success bool   `json:"success"`
	// ExitStatus is set only for failed exec-mode commands; shell mode
	// carries no exit status channel.
	ExitStatus *int `json:"exit_status,omitempty"`
}

// WorkingDirectory holds the result of a working-directory query.
type WorkingDirectory struct {
	Host             string `json:"host"`
	WorkingDirectory string `json:"working_directory"`
}

// CloseStatus reports the outcome of closing a host's sessions.
type CloseStatus struct {
	Host    string `json:"host"`
	Message string `json:"message"`
}

// PoolStats is a point-in-time snapshot of the session pool.
type PoolStats struct {
	TotalHosts            int                  `json:"total_hosts"`
	ActiveHostConnections int                  `json:"active_host_connections"`
	TotalSessions         int                  `json:"total_sessions"`
	Hosts                 map[string]HostStats `json:"hosts"`
}

// HostStats describes the pooled sessions of one host.
type HostStats struct {
	SessionCount int  `json:"session_count"`
	Connected    bool `json:"connected"`
}
