package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProvider struct {
	name       string
	calls      int32
	failTimes  int32 // number of leading calls that fail
	genErr     error
	generate   func(ctx context.Context, req Request) (Response, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, req Request) (Response, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.generate != nil {
		return f.generate(ctx, req)
	}
	if n <= f.failTimes {
		return Response{}, errors.New("simulated failure")
	}
	return Response{Text: "ok"}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	return DefaultStream(ctx, f, req)
}

func (f *fakeProvider) GenerateBatch(ctx context.Context, reqs []Request) ([]Response, error) {
	return DefaultGenerateBatch(ctx, f, reqs)
}

func TestGatewayRetriesThenSucceeds(t *testing.T) {
	p := &fakeProvider{name: "fake", failTimes: 2}
	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Retry.Jitter = time.Millisecond
	g := New(p, cfg)

	resp, err := g.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if p.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", p.calls)
	}
}

func TestGatewaySurfacesLastErrorAfterBudgetExhausted(t *testing.T) {
	p := &fakeProvider{name: "fake", failTimes: 10}
	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 2 * time.Millisecond
	cfg.Retry.Jitter = 0
	g := New(p, cfg)

	_, err := g.Generate(context.Background(), Request{})
	if err == nil {
		t.Fatalf("expected error after exhausting retry budget")
	}
	if p.calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", p.calls)
	}
}

func TestCircuitBreakerOpensAndFailsFast(t *testing.T) {
	p := &fakeProvider{name: "fake", failTimes: 100}
	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Breaker = NewCircuitBreaker(2, time.Hour)
	g := New(p, cfg)

	g.Generate(context.Background(), Request{})
	g.Generate(context.Background(), Request{})
	callsBeforeOpen := p.calls

	_, err := g.Generate(context.Background(), Request{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open error, got %v", err)
	}
	if p.calls != callsBeforeOpen {
		t.Fatalf("expected no additional provider calls while circuit open")
	}
}

func TestCircuitBreakerClosesOnReset(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	if cb.Allow() {
		t.Fatalf("breaker should be open immediately after threshold failure")
	}
	time.Sleep(15 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("breaker should allow a probe call after reset timeout")
	}
	cb.RecordSuccess()
	if cb.IsOpen() {
		t.Fatalf("breaker should close after a success")
	}
}

func TestStreamIsOrderedWithSingleFinalChunk(t *testing.T) {
	p := &fakeProvider{
		name: "fake",
		generate: func(ctx context.Context, req Request) (Response, error) {
			return Response{Text: "hello"}, nil
		},
	}
	g := New(p, DefaultConfig())
	stream, err := g.Stream(context.Background(), Request{RequestID: "r1"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var chunks []StreamEvent
	for ev := range stream {
		chunks = append(chunks, ev)
	}
	if len(chunks) != 1 || !chunks[0].Chunk.IsFinal {
		t.Fatalf("expected exactly one final chunk, got %+v", chunks)
	}
}
