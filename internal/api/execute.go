package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/codespace/internal/audit"
	"github.com/opensandbox/codespace/internal/metrics"
	"github.com/opensandbox/codespace/internal/runner"
	"github.com/opensandbox/codespace/pkg/types"
)

func (s *Server) execute(c echo.Context) error {
	var req types.ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	if strings.TrimSpace(req.Command) == "" {
		return errorJSON(c, http.StatusBadRequest, "command is required")
	}
	if _, err := runner.Parse(req.Command); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	timeout := s.deps.DefaultTimeout
	if req.TimeoutMillis != nil {
		if *req.TimeoutMillis <= 0 {
			return errorJSON(c, http.StatusBadRequest, "timeoutMillis must be positive")
		}
		// Clamp in milliseconds; huge values would overflow a Duration.
		ms := int64(*req.TimeoutMillis)
		if limit := s.deps.MaxTimeout.Milliseconds(); ms > limit {
			ms = limit
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	dir := req.WorkingDirectory
	if dir == "" {
		dir = s.deps.DefaultWorkingDir
	}

	res := s.deps.Runner.Run(runner.Request{
		Command:    req.Command,
		WorkingDir: dir,
		Timeout:    timeout,
	})

	outcome := "ok"
	switch {
	case res.SpawnFailed:
		outcome = "spawn_error"
	case res.TimedOut:
		outcome = "timeout"
	case res.ExitCode != 0:
		outcome = "failed"
	}
	metrics.CommandsTotal.WithLabelValues(outcome).Inc()
	metrics.CommandDuration.WithLabelValues(outcome).Observe(res.Duration.Seconds())
	if res.Truncated {
		metrics.CommandOutputTruncatedTotal.Inc()
	}

	if s.deps.Audit != nil {
		if err := s.deps.Audit.Record(audit.Entry{
			Command:    req.Command,
			WorkingDir: dir,
			ExitCode:   res.ExitCode,
			TimedOut:   res.TimedOut,
			Duration:   res.Duration,
			StdoutLen:  len(res.Stdout),
			StderrLen:  len(res.Stderr),
		}); err != nil {
			log.Printf("api: audit record: %v", err)
		}
	}

	return c.JSON(http.StatusOK, types.ExecuteResponse{
		Success:   true,
		Output:    res.Stdout,
		Error:     res.Stderr,
		ExitCode:  res.ExitCode,
		TimedOut:  res.TimedOut,
		Truncated: res.Truncated,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) listCommands(c echo.Context) error {
	if s.deps.Audit == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "command audit log is not configured")
	}

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return errorJSON(c, http.StatusBadRequest, "limit must be a positive integer")
		}
		if n < 500 {
			limit = n
		} else {
			limit = 500
		}
	}

	records, err := s.deps.Audit.Recent(limit)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, records)
}
