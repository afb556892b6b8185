package gateway

import "context"

// Provider is the contract every model backend implements: a
// non-streaming call, an ordered streaming call, and a batch call.
// Grounded on the Python original's xaiforge/forge_gateway/providers/base.py
// ModelProvider ABC.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
	GenerateBatch(ctx context.Context, reqs []Request) ([]Response, error)
}

// DefaultStream wraps a single Generate call into a one-chunk stream,
// for providers with no native incremental output. Mirrors the Python
// ABC's default stream() implementation.
func DefaultStream(ctx context.Context, p Provider, req Request) (<-chan Chunk, error) {
	resp, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan Chunk, 1)
	ch <- resp.ToStreamChunk()
	close(ch)
	return ch, nil
}

// DefaultGenerateBatch calls Generate sequentially for each request, for
// providers with no native batch API. Mirrors the Python ABC's default
// generate_batch() implementation.
func DefaultGenerateBatch(ctx context.Context, p Provider, reqs []Request) ([]Response, error) {
	out := make([]Response, 0, len(reqs))
	for _, req := range reqs {
		resp, err := p.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}
