// Package runner executes shell commands on behalf of remote callers under a
// hard wall-clock deadline.
//
// The command string is interpreted by a shell. Callers of Run therefore get
// full shell access to the host as the server's user; whatever authenticates
// the request is responsible for restricting who may call it.
package runner

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
)

const (
	// TimeoutExitCode is reported when the deadline fires before the process exits.
	TimeoutExitCode = 124

	// TimeoutMarker is appended to stderr of a timed out command.
	TimeoutMarker = "Command timed out"

	DefaultShell          = "/bin/sh"
	DefaultWorkingDir     = "/workspace"
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 1 << 20

	// waitDelay bounds how long output is still read after the shell has
	// exited or been killed.
	waitDelay = 2 * time.Second
)

// ErrEmptyCommand is returned by Parse when the command has no words.
var ErrEmptyCommand = errors.New("command is empty")

// Request is a single command execution.
type Request struct {
	Command    string
	WorkingDir string
	Timeout    time.Duration
}

// Result is the terminal state of a Request. It is produced exactly once.
type Result struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	TimedOut  bool
	Truncated bool
	Duration  time.Duration

	// SpawnFailed is set when the command never started.
	SpawnFailed bool
}

// Runner launches commands. The zero value is usable and falls back to the
// package defaults.
type Runner struct {
	Shell          string
	MaxOutputBytes int
	Env            []string
}

// New creates a Runner using the given shell and per-stream output cap.
func New(shell string, maxOutputBytes int) *Runner {
	return &Runner{Shell: shell, MaxOutputBytes: maxOutputBytes}
}

// Parse splits a command into words using POSIX shell quoting rules. The
// first word is the program name.
func Parse(command string) ([]string, error) {
	words, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(words) == 0 {
		return nil, ErrEmptyCommand
	}
	return words, nil
}

// Run executes req and blocks until the process exits or the timeout fires,
// whichever happens first. It never returns an error: spawn failures,
// non-zero exits and timeouts are all encoded in the Result.
//
// Run is not tied to the caller's connection; only the timeout cancels it.
func (r *Runner) Run(req Request) *Result {
	start := time.Now()
	res := r.run(req)
	res.Duration = time.Since(start)
	res.Stdout = strings.TrimSpace(res.Stdout)
	res.Stderr = strings.TrimSpace(res.Stderr)
	return res
}

func (r *Runner) run(req Request) *Result {
	if _, err := Parse(req.Command); err != nil {
		return &Result{ExitCode: 1, Stderr: err.Error(), SpawnFailed: true}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dir := req.WorkingDir
	if dir == "" {
		dir = DefaultWorkingDir
	}

	limit := r.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	stdout := newCappedBuffer(limit)
	stderr := newCappedBuffer(limit)

	// The pipes are ours rather than exec's so that Wait returns as soon as
	// the shell exits, even while a background child still holds them open.
	outR, outW, err := os.Pipe()
	if err != nil {
		return spawnFailure(dir, err)
	}
	defer outR.Close()
	errR, errW, err := os.Pipe()
	if err != nil {
		outW.Close()
		return spawnFailure(dir, err)
	}
	defer errR.Close()

	cmd := exec.Command(r.shell(), "-c", req.Command)
	cmd.Dir = dir
	cmd.Env = r.env()
	cmd.Stdout = outW
	cmd.Stderr = errW
	setProcessGroup(cmd)

	err = cmd.Start()
	outW.Close()
	errW.Close()
	if err != nil {
		return spawnFailure(dir, err)
	}

	drained := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); io.Copy(stdout, outR) }()
		go func() { defer wg.Done(); io.Copy(stderr, errR) }()
		wg.Wait()
		close(drained)
	}()

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	res := &Result{}
	select {
	case err := <-exited:
		res.ExitCode, res.Stderr = exitStatus(err)
	case <-timer.C:
		if err := killProcessGroup(cmd); err != nil {
			log.Printf("runner: kill pid %d: %v", cmd.Process.Pid, err)
		}
		<-exited
		res.TimedOut = true
		res.ExitCode = TimeoutExitCode
	}

	// Background children may still hold the pipes open.
	select {
	case <-drained:
	case <-time.After(waitDelay):
		outR.Close()
		errR.Close()
		<-drained
	}

	res.Stdout = stdout.String()
	errText := stderr.String()
	if res.Stderr != "" {
		errText = joinLines(errText, res.Stderr)
	}
	if res.TimedOut {
		errText = joinLines(errText, TimeoutMarker)
	}
	res.Stderr = errText
	res.Truncated = stdout.Truncated() || stderr.Truncated()
	return res
}

// exitStatus maps the error from Wait to an exit code plus an optional note
// for stderr.
func exitStatus(err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, ""
		}
		// Killed by a signal we did not send; no code is available.
		return 0, "terminated by signal: " + exitErr.String()
	}
	return 1, err.Error()
}

func spawnFailure(dir string, err error) *Result {
	log.Printf("runner: spawn failed in %s: %v", dir, err)
	return &Result{ExitCode: 1, Stderr: err.Error(), SpawnFailed: true}
}

func (r *Runner) shell() string {
	if r.Shell != "" {
		return r.Shell
	}
	return DefaultShell
}

func (r *Runner) env() []string {
	env := os.Environ()
	if len(r.Env) > 0 {
		env = append(env, r.Env...)
	}
	return env
}

func joinLines(a, b string) string {
	a = strings.TrimRight(a, "\n")
	if a == "" {
		return b
	}
	return a + "\n" + b
}
