package aiprovider

import (
	"context"
	"fmt"
)

// StubProvider returns deterministic canned completions without calling any
// external service, for tests and local runs where MONGOCLAW_AI_PROVIDER is
// left at its "stub" default. Grounded on provider_router.py's shape
// (request/usage/cost bookkeeping) without any network call.
type StubProvider struct {
	// Responder optionally computes the response content for a request.
	// When nil, Complete echoes the prompt back as the content; only when
	// ResponseFormat is "json_object" is the echo wrapped in a small JSON
	// envelope, so those callers still get parseable output.
	Responder func(Request) string
	Model     string
}

// NewStubProvider builds a StubProvider that reports model as its default
// completion model name.
func NewStubProvider(model string) *StubProvider {
	if model == "" {
		model = "stub-model"
	}
	return &StubProvider{Model: model}
}

func (s *StubProvider) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	content := s.content(req)
	model := req.Model
	if model == "" {
		model = s.Model
	}

	return Response{
		Content:          content,
		Model:            model,
		Provider:         "stub",
		PromptTokens:     len(req.Prompt) / 4,
		CompletionTokens: len(content) / 4,
		TotalTokens:      (len(req.Prompt) + len(content)) / 4,
		CostUSD:          0,
		FinishReason:     "stop",
	}, nil
}

func (s *StubProvider) content(req Request) string {
	if s.Responder != nil {
		return s.Responder(req)
	}
	if req.ResponseFormat == "json_object" {
		return fmt.Sprintf(`{"content": %q, "_stub": true}`, req.Prompt)
	}
	return req.Prompt
}
