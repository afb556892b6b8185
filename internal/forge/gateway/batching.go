package gateway

import (
	"context"
	"sync"
	"time"
)

// BatchConfig controls optional micro-batching of Generate calls.
type BatchConfig struct {
	Enabled      bool
	MaxBatchSize int
	MaxWaitMS    int
}

// DefaultBatchConfig matches the Python original's defaults: disabled,
// max_batch_size=4, max_wait_ms=25.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{Enabled: false, MaxBatchSize: 4, MaxWaitMS: 25}
}

type batchJob struct {
	req    Request
	result chan BatchResult
}

// BatchScheduler is a single-consumer goroutine that coalesces Generate
// calls into batches, dispatching them through a handler's
// GenerateBatch. This is the Go channel+goroutine analogue of the
// Python original's asyncio.Queue-backed BatchScheduler.
type BatchScheduler struct {
	cfg     BatchConfig
	handler func(ctx context.Context, reqs []Request) ([]Response, error)

	queue chan batchJob
	once  sync.Once
}

// NewBatchScheduler builds a scheduler that dispatches coalesced batches
// through handler.
func NewBatchScheduler(cfg BatchConfig, handler func(ctx context.Context, reqs []Request) ([]Response, error)) *BatchScheduler {
	return &BatchScheduler{cfg: cfg, handler: handler, queue: make(chan batchJob, 256)}
}

// Start spawns the worker goroutine. Calling Start more than once is a
// no-op, matching the Python original's idempotent start().
func (s *BatchScheduler) Start(ctx context.Context) {
	s.once.Do(func() {
		go s.worker(ctx)
	})
}

// Submit enqueues req and blocks until the batch it is assigned to has
// been dispatched and a result is available, or ctx is cancelled.
func (s *BatchScheduler) Submit(ctx context.Context, req Request) (Response, error) {
	job := batchJob{req: req, result: make(chan BatchResult, 1)}
	select {
	case s.queue <- job:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	select {
	case res := <-job.result:
		return res.Response, res.Err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (s *BatchScheduler) worker(ctx context.Context) {
	wait := time.Duration(s.cfg.MaxWaitMS) * time.Millisecond
	for {
		var first batchJob
		select {
		case first = <-s.queue:
		case <-ctx.Done():
			return
		}

		jobs := []batchJob{first}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		// Drain whatever has queued up during the wait, without
		// blocking further, up to max_batch_size-1 more requests.
		for len(jobs) < s.cfg.MaxBatchSize {
			select {
			case job := <-s.queue:
				jobs = append(jobs, job)
			default:
				goto dispatch
			}
		}
	dispatch:

		reqs := make([]Request, len(jobs))
		for i, j := range jobs {
			reqs[i] = j.req
		}
		responses, err := s.handler(ctx, reqs)
		if err != nil {
			for _, j := range jobs {
				j.result <- BatchResult{Err: err}
			}
			continue
		}
		// Match responses back to waiters by position.
		for i, j := range jobs {
			if i < len(responses) {
				j.result <- BatchResult{Response: responses[i]}
			} else {
				j.result <- BatchResult{Err: errShortBatchResponse}
			}
		}
	}
}

var errShortBatchResponse = batchShortError{}

type batchShortError struct{}

func (batchShortError) Error() string { return "batch handler returned fewer responses than requests" }
