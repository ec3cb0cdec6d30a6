// Package completion answers AI-assist prompts for collaborators.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultModel     = "codespace-sim-1"
	DefaultMaxTokens = 256
)

var ErrEmptyPrompt = errors.New("prompt is required")

// Options tune a single completion.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Usage counts tokens for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is a responder's reply.
type Completion struct {
	Text  string
	Usage Usage
	Model string
}

// Responder produces completions.
type Responder interface {
	Complete(ctx context.Context, prompt string, opts Options) (*Completion, error)
}

// SimulatedResponder replies deterministically without calling a model
// provider. Tokens are whitespace-separated words.
type SimulatedResponder struct{}

func (SimulatedResponder) Complete(ctx context.Context, prompt string, opts Options) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}

	words := strings.Fields(prompt)
	reply := append([]string{"Simulated", "response", "to:"}, words...)
	if len(reply) > opts.MaxTokens {
		reply = reply[:opts.MaxTokens]
	}

	return &Completion{
		Text: strings.Join(reply, " "),
		Usage: Usage{
			PromptTokens:     len(words),
			CompletionTokens: len(reply),
			TotalTokens:      len(words) + len(reply),
		},
		Model: opts.Model,
	}, nil
}

// String implements fmt.Stringer for log lines.
func (c *Completion) String() string {
	return fmt.Sprintf("model=%s tokens=%d", c.Model, c.Usage.TotalTokens)
}
