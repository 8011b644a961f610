package llm

import (
	"context"
	"sync"
)

// MockBackend fails with the queued errors, in order, then answers Text.
type MockBackend struct {
	mu     sync.Mutex
	Errors []error
	Text   string
	// Block makes Submit wait for ctx to end.
	Block bool
	Calls  int
}

func (m *MockBackend) Name() string { return "mock" }

func (m *MockBackend) Submit(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.Calls++
	var err error
	if len(m.Errors) > 0 {
		err = m.Errors[0]
		m.Errors = m.Errors[1:]
	}
	m.mu.Unlock()

	if m.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &Response{Text: m.Text, Model: req.Model}, nil
}

func (m *MockBackend) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}
