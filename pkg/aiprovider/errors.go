package aiprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// ErrorClassifying wraps a Provider, mapping any error it returns onto one of
// the five sentinel kinds pkg/model declares (rate limit, auth, connectivity,
// parse, generic) so downstream retry/terminal classification in pkg/executor
// can switch on errors.Is without knowing about a specific provider SDK's
// exception hierarchy. Mirrors provider_router.py's except-clause ladder over
// LiteLLM's RateLimitError/AuthenticationError/APIConnectionError/APIError.
type ErrorClassifying struct {
	Inner Provider
}

// NewErrorClassifying wraps inner.
func NewErrorClassifying(inner Provider) *ErrorClassifying {
	return &ErrorClassifying{Inner: inner}
}

func (c *ErrorClassifying) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := c.Inner.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	return resp, Classify(err, req.Model)
}

// Classify maps err onto a sentinel-wrapped model error. If err already
// wraps one of the known sentinels (a provider adapter that classifies its
// own errors), it is returned unchanged. Otherwise a heuristic match against
// the error text stands in for LiteLLM's typed exceptions, since no concrete
// provider SDK is wired into this repo.
func Classify(err error, model_ string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	for _, known := range []error{
		model.ErrAIRateLimit, model.ErrAIAuth, model.ErrAIConnectivity, model.ErrAIParse, model.ErrAIProvider,
	} {
		if errors.Is(err, known) {
			return err
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "rate limit", "429", "too many requests"):
		return &model.AIRetryAfterError{Err: fmt.Errorf("%w: model %s: %w", model.ErrAIRateLimit, model_, err)}
	case containsAny(msg, "unauthorized", "authentication", "401", "403", "invalid api key"):
		return fmt.Errorf("%w: model %s: %w", model.ErrAIAuth, model_, err)
	case containsAny(msg, "connection", "timeout", "unavailable", "unreachable", "econnrefused"):
		return fmt.Errorf("%w: model %s: %w", model.ErrAIConnectivity, model_, err)
	default:
		return fmt.Errorf("%w: model %s: %w", model.ErrAIProvider, model_, err)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
