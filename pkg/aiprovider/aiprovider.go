// Package aiprovider defines the narrow completion interface the executor
// calls into, plus a deterministic stub implementation and an error
// classifier that maps arbitrary provider errors onto the sentinel error
// kinds pkg/model declares. Production provider adapters (OpenAI, Anthropic,
// Bedrock, ...) are out of scope; grounded on
// original_source/src/mongoclaw/ai/provider_router.py's ProviderRouter.complete,
// with LiteLLM's provider-specific exception types collapsed onto the five
// error kinds since no concrete provider SDK is wired here.
package aiprovider

import "context"

// Request is a single completion call.
type Request struct {
	Model          string
	Prompt         string
	SystemPrompt   string
	Temperature    float64
	MaxTokens      int
	ResponseFormat string
	ExtraParams    map[string]any
}

// Response is the raw result of a completion call, mirroring
// provider_router.py's AIResponse.
type Response struct {
	Content          string
	Model            string
	Provider         string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
	LatencyMillis    float64
	FinishReason     string
}

// Provider completes prompts against some AI backend.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
