package types

// CompletionRequest asks the configured responder for a completion.
type CompletionRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// CompletionUsage counts tokens for one completion.
type CompletionUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// CompletionResponse is the responder's reply.
type CompletionResponse struct {
	Text  string          `json:"text"`
	Usage CompletionUsage `json:"usage"`
	Model string          `json:"model"`
}
