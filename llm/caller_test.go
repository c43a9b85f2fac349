package llm

import (
	"context"
	"errors"
	"testing"
)

type scriptedProvider struct {
	fail  map[string]error
	calls []ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	p.calls = append(p.calls, req)
	if err := p.fail[req.Model]; err != nil {
		return nil, err
	}
	return &ChatResponse{Content: `{"model":"` + req.Model + `"}`, Model: req.Model}, nil
}

func (p *scriptedProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, ErrEmbeddingsUnsupported
}

func TestCallerPrimary(t *testing.T) {
	p := &scriptedProvider{}
	c := &Caller{Provider: p, Primary: "gpt-4o", Fallback: "gpt-4o-mini", MaxTokens: 1000}

	resp, err := c.CompleteJSON(context.Background(), []Message{{Role: "user", Content: "x"}})
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if resp.Model != "gpt-4o" || len(p.calls) != 1 {
		t.Errorf("model = %q, calls = %d", resp.Model, len(p.calls))
	}
	req := p.calls[0]
	if req.Temperature != 0 || req.ResponseFormat != "json_object" || req.MaxTokens != 1000 {
		t.Errorf("request = %+v", req)
	}
}

func TestCallerFallback(t *testing.T) {
	p := &scriptedProvider{fail: map[string]error{"gpt-4o": errors.New("overloaded")}}
	c := &Caller{Provider: p, Primary: "gpt-4o", Fallback: "gpt-4o-mini"}

	resp, err := c.CompleteJSONWithLimit(context.Background(), nil, 1400)
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if resp.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want fallback", resp.Model)
	}
	if len(p.calls) != 2 || p.calls[1].MaxTokens != 1400 {
		t.Errorf("calls = %+v", p.calls)
	}
}

func TestCallerBothFail(t *testing.T) {
	primaryErr := errors.New("primary down")
	fallbackErr := errors.New("fallback down")
	p := &scriptedProvider{fail: map[string]error{"a": primaryErr, "b": fallbackErr}}
	c := &Caller{Provider: p, Primary: "a", Fallback: "b"}

	_, err := c.CompleteJSON(context.Background(), nil)
	if !errors.Is(err, ErrModelCall) {
		t.Fatalf("error %v does not wrap ErrModelCall", err)
	}
	if !errors.Is(err, primaryErr) || !errors.Is(err, fallbackErr) {
		t.Errorf("error %v should carry both causes", err)
	}
}

func TestCallerNoFallback(t *testing.T) {
	p := &scriptedProvider{fail: map[string]error{"a": errors.New("down")}}
	c := &Caller{Provider: p, Primary: "a", Fallback: "a"}

	if _, err := c.CompleteJSON(context.Background(), nil); !errors.Is(err, ErrModelCall) {
		t.Errorf("error = %v", err)
	}
	if len(p.calls) != 1 {
		t.Errorf("calls = %d, want 1 when fallback equals primary", len(p.calls))
	}
}

func TestCallerCancelledContextSkipsFallback(t *testing.T) {
	p := &scriptedProvider{fail: map[string]error{"a": context.Canceled}}
	c := &Caller{Provider: p, Primary: "a", Fallback: "b"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CompleteJSON(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(p.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(p.calls))
	}
}
