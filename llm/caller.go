package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// Caller issues forced-JSON chat completions against a primary model and
// retries once on a fallback model when the primary fails.
type Caller struct {
	Provider  Provider
	Primary   string
	Fallback  string
	MaxTokens int
}

// CompleteJSON sends msgs at temperature 0 in JSON mode. Transport retries
// happen inside the provider; this layer only switches models. When both
// models fail the returned error wraps ErrModelCall and the primary and
// fallback causes.
func (c *Caller) CompleteJSON(ctx context.Context, msgs []Message) (*ChatResponse, error) {
	return c.complete(ctx, msgs, c.MaxTokens)
}

// CompleteJSONWithLimit is CompleteJSON with an explicit completion budget.
func (c *Caller) CompleteJSONWithLimit(ctx context.Context, msgs []Message, maxTokens int) (*ChatResponse, error) {
	if maxTokens <= 0 {
		maxTokens = c.MaxTokens
	}
	return c.complete(ctx, msgs, maxTokens)
}

func (c *Caller) complete(ctx context.Context, msgs []Message, maxTokens int) (*ChatResponse, error) {
	req := ChatRequest{
		Model:          c.Primary,
		Messages:       msgs,
		Temperature:    0,
		MaxTokens:      maxTokens,
		ResponseFormat: "json_object",
	}

	resp, err := c.Provider.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelCall, ctx.Err())
	}
	if c.Fallback == "" || c.Fallback == c.Primary {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelCall, c.Primary, err)
	}

	slog.Warn("llm: primary model failed, trying fallback",
		"primary", c.Primary, "fallback", c.Fallback, "error", err)

	req.Model = c.Fallback
	resp, ferr := c.Provider.Chat(ctx, req)
	if ferr != nil {
		return nil, fmt.Errorf("%w: %s: %w; %s: %w", ErrModelCall, c.Primary, err, c.Fallback, ferr)
	}
	return resp, nil
}
