package types

// ExecuteRequest is the request body for running a command.
type ExecuteRequest struct {
	Command          string `json:"command"`
	WorkingDirectory string `json:"workingDirectory,omitempty"` // default /workspace
	TimeoutMillis    *int   `json:"timeoutMillis,omitempty"`    // default 30000
}

// ExecuteResponse is the result of a completed command execution. Timeouts
// and non-zero exits are still successful calls; see ExitCode and TimedOut.
type ExecuteResponse struct {
	Success   bool   `json:"success"`
	Output    string `json:"output"`
	Error     string `json:"error"`
	ExitCode  int    `json:"exitCode"`
	TimedOut  bool   `json:"timedOut"`
	Truncated bool   `json:"truncated,omitempty"`
	Timestamp string `json:"timestamp"`
}

// CommandRecord is one entry of the command audit log.
type CommandRecord struct {
	ID         int64  `json:"id"`
	Command    string `json:"command"`
	WorkingDir string `json:"workingDirectory"`
	ExitCode   int    `json:"exitCode"`
	TimedOut   bool   `json:"timedOut"`
	DurationMs int    `json:"durationMs"`
	StdoutLen  int    `json:"stdoutLen"`
	StderrLen  int    `json:"stderrLen"`
	CreatedAt  string `json:"createdAt"`
}
