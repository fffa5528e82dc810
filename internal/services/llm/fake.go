package llm

import (
	"context"
	"sync"
)

// Fake is a scripted TextGenerator for tests and offline runs. Each call pops
// the next queued response; when the queue is empty Respond is consulted, and
// failing that the prompt is echoed back.
type Fake struct {
	mu        sync.Mutex
	queue     []fakeResponse
	requests  []Request
	Respond   func(Request) (Generation, error)
	ModelName string
}

type fakeResponse struct {
	gen Generation
	err error
}

// Push queues a successful generation.
func (f *Fake) Push(gen Generation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeResponse{gen: gen})
}

// PushError queues a failure.
func (f *Fake) PushError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeResponse{err: err})
}

// Requests returns a copy of every request received.
func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// Generate implements TextGenerator.
func (f *Fake) Generate(ctx context.Context, req Request) (Generation, error) {
	if err := ctx.Err(); err != nil {
		return Generation{}, err
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var next *fakeResponse
	if len(f.queue) > 0 {
		head := f.queue[0]
		f.queue = f.queue[1:]
		next = &head
	}
	respond := f.Respond
	model := f.ModelName
	f.mu.Unlock()

	if model == "" {
		model = "fake"
	}
	if next != nil {
		if next.err != nil {
			return Generation{}, next.err
		}
		if next.gen.Model == "" {
			next.gen.Model = model
		}
		return next.gen, nil
	}
	if respond != nil {
		return respond(req)
	}
	return Generation{Text: req.Prompt, Model: model, TokensIn: 1, TokensOut: 1}, nil
}
