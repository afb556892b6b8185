package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/xaiforge/internal/backoff"
)

// ErrTimeout is returned when a provider call exceeds its per-call
// timeout.
var ErrTimeout = errors.New("timeout")

// ErrCircuitOpen is returned when the circuit breaker is open and fails
// a call fast without invoking the provider.
var ErrCircuitOpen = errors.New("circuit open")

// Config controls a Gateway's reliability behavior.
type Config struct {
	Timeout       time.Duration
	Retry         RetryPolicy
	Breaker       *CircuitBreaker // nil disables the circuit breaker
	Batch         BatchConfig
	Logger        *slog.Logger
}

// DefaultConfig returns sane defaults: 30s timeout, the default retry
// policy, no circuit breaker, batching disabled.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Retry:   DefaultRetryPolicy(),
		Batch:   DefaultBatchConfig(),
	}
}

// Gateway wraps a Provider with timeout, retry, optional circuit
// breaking, optional batching, and streaming. Grounded on the Python
// original's xaiforge/forge_gateway/gateway.py ModelGateway.
type Gateway struct {
	provider  Provider
	cfg       Config
	logger    *slog.Logger
	scheduler *BatchScheduler
}

// Name returns the wrapped provider's identity.
func (g *Gateway) Name() string { return g.provider.Name() }

// Provider returns the wrapped provider, for callers that need to type
// -assert a concrete adapter (e.g. the Agent Runner recognizing the
// Heuristic provider to synthesize its closing message).
func (g *Gateway) Provider() Provider { return g.provider }

// New builds a Gateway around provider.
func New(provider Provider, cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{provider: provider, cfg: cfg, logger: logger}
	if cfg.Batch.Enabled {
		g.scheduler = NewBatchScheduler(cfg.Batch, g.generateBatchDirect)
	}
	return g
}

// Generate invokes the wrapped provider, applying the circuit breaker
// gate, per-call timeout, and retry-with-backoff, optionally routing
// through the batching scheduler instead of a direct call.
func (g *Gateway) Generate(ctx context.Context, req Request) (Response, error) {
	if g.scheduler != nil {
		g.scheduler.Start(ctx)
		return g.generateWithRetry(ctx, req, func(ctx context.Context) (Response, error) {
			return g.scheduler.Submit(ctx, req)
		})
	}
	return g.generateWithRetry(ctx, req, func(ctx context.Context) (Response, error) {
		return g.invoke(ctx, req)
	})
}

func (g *Gateway) generateWithRetry(ctx context.Context, req Request, call func(context.Context) (Response, error)) (Response, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.Retry.MaxAttempts; attempt++ {
		resp, err := call(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			// Fails the run immediately; never retried.
			return Response{}, err
		}
		if attempt < g.cfg.Retry.MaxAttempts {
			delay := g.cfg.Retry.Delay(attempt)
			if err := backoff.SleepWithContext(ctx, delay); err != nil {
				return Response{}, err
			}
		}
	}
	return Response{}, fmt.Errorf("provider error after %d attempts: %w", g.cfg.Retry.MaxAttempts, lastErr)
}

// invoke applies the circuit breaker and timeout around one direct call
// to the provider.
func (g *Gateway) invoke(ctx context.Context, req Request) (Response, error) {
	if g.cfg.Breaker != nil && !g.cfg.Breaker.Allow() {
		return Response{}, ErrCircuitOpen
	}
	callCtx := ctx
	var cancel context.CancelFunc
	if g.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := g.provider.Generate(callCtx, req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if g.cfg.Breaker != nil {
				g.cfg.Breaker.RecordFailure()
			}
			return Response{}, fmt.Errorf("provider error: %w", r.err)
		}
		if g.cfg.Breaker != nil {
			g.cfg.Breaker.RecordSuccess()
		}
		return r.resp, nil
	case <-callCtx.Done():
		if g.cfg.Breaker != nil {
			g.cfg.Breaker.RecordFailure()
		}
		return Response{}, fmt.Errorf("%w: %v", ErrTimeout, callCtx.Err())
	}
}

func (g *Gateway) generateBatchDirect(ctx context.Context, reqs []Request) ([]Response, error) {
	return g.provider.GenerateBatch(ctx, reqs)
}

// Stream passes through to the provider's native streaming
// implementation, returning ordered StreamEvents. The Gateway does not
// wrap streaming in retry or the circuit breaker — a partially streamed
// response cannot be safely retried — matching the Python original's
// gateway.stream(), which is a direct passthrough.
func (g *Gateway) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	chunks, err := g.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		for chunk := range chunks {
			out <- StreamEvent{RequestID: req.RequestID, Provider: g.provider.Name(), Chunk: chunk}
		}
	}()
	return out, nil
}
