package agent

import (
	"context"

	"github.com/haasonsaas/xaiforge/internal/forge/events"
)

// StreamRun runs task exactly as RunTask does — same trace, same
// manifest, same plugin chain — but additionally delivers a copy of
// every event over the returned channel as it is written, for an
// interactive caller to render incrementally. The channel is closed
// once the run (and the manifest/report write) has finished; the
// final Result is delivered on resultCh.
func (r *Runner) StreamRun(ctx context.Context, task string) (<-chan StreamedEvent, <-chan StreamResult) {
	out := make(chan StreamedEvent, 16)
	resultCh := make(chan StreamResult, 1)

	index := 0
	sink := func(e events.Event) {
		line, err := e.Marshal()
		if err != nil {
			return
		}
		out <- StreamedEvent{Index: index, Type: string(e.Type), JSON: line}
		index++
	}

	go func() {
		defer close(out)
		defer close(resultCh)
		res, err := r.runWithSink(ctx, task, sink)
		resultCh <- StreamResult{Result: res, Err: err}
	}()

	return out, resultCh
}

// StreamedEvent is one event emitted during a streamed run, tagged
// with its ordinal position for a consumer that wants to detect gaps.
type StreamedEvent struct {
	Index int
	Type  string
	JSON  string
}

// StreamResult is the terminal message delivered once a streamed run
// completes.
type StreamResult struct {
	Result Result
	Err    error
}
