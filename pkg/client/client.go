package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opensandbox/codespace/pkg/types"
)

// Client is an HTTP client for the codespace API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	// streamClient has no overall timeout; streams live until cancelled.
	streamClient *http.Client
}

// NewClient creates a new codespace API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			// Commands may run up to the server's maximum timeout.
			Timeout: 11 * time.Minute,
		},
		streamClient: &http.Client{},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// doRequest performs an HTTP request with API key authentication.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

// call performs a request and decodes a JSON response into out (if non-nil).
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// Execute runs a command on the server and waits for its result.
func (c *Client) Execute(ctx context.Context, req types.ExecuteRequest) (*types.ExecuteResponse, error) {
	var result types.ExecuteResponse
	if err := c.call(ctx, http.MethodPost, "/api/execute", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SubmitEvent submits a collaboration event. data is encoded as the event's
// data object.
func (c *Client) SubmitEvent(ctx context.Context, eventType, roomID string, data interface{}) (*types.EventAck, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	var ack types.EventAck
	err = c.call(ctx, http.MethodPost, "/api/collab/events", types.EventSubmission{
		Type:   eventType,
		RoomID: roomID,
		Data:   raw,
	}, &ack)
	if err != nil {
		return nil, err
	}
	return &ack, nil
}

// Stream opens a collaboration stream and calls fn for every frame until ctx
// is cancelled, the server ends the stream, or fn returns an error. Leaving
// participantID empty lets the server assign one. Cancelling ctx is the
// normal way to leave and yields a nil error.
func (c *Client) Stream(ctx context.Context, roomID, participantID string, fn func(types.StreamFrame) error) error {
	q := url.Values{"roomId": {roomID}}
	if participantID != "" {
		q.Set("participantId", participantID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/collab/stream?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var frame types.StreamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// Rooms lists live collaboration rooms.
func (c *Client) Rooms(ctx context.Context) ([]types.RoomInfo, error) {
	var rooms []types.RoomInfo
	if err := c.call(ctx, http.MethodGet, "/api/collab/rooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// ReadFile reads a workspace file.
func (c *Client) ReadFile(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/files?path="+url.QueryEscape(path), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	return io.ReadAll(resp.Body)
}

// WriteFile creates or replaces a workspace file.
func (c *Client) WriteFile(ctx context.Context, path string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/api/files?path="+url.QueryEscape(path), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return readAPIError(resp)
	}
	return nil
}

// ListDir lists a workspace directory.
func (c *Client) ListDir(ctx context.Context, path string) ([]types.EntryInfo, error) {
	var entries []types.EntryInfo
	if err := c.call(ctx, http.MethodGet, "/api/files/list?path="+url.QueryEscape(path), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteFile removes a workspace file or directory.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	return c.call(ctx, http.MethodDelete, "/api/files?path="+url.QueryEscape(path), nil, nil)
}

// Complete asks the server's responder for a completion.
func (c *Client) Complete(ctx context.Context, req types.CompletionRequest) (*types.CompletionResponse, error) {
	var out types.CompletionResponse
	if err := c.call(ctx, http.MethodPost, "/api/completions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
