package remote

import (
	"context"
	"sync"
)

// MockClient returns scripted outcomes for development and testing.
// Each endpoint pops from its script; an empty script falls back to Default.
type MockClient struct {
	mu      sync.Mutex
	Scripts map[Endpoint][]Outcome
	Default func(req Request) Outcome
	Calls   []MockCall
}

// MockCall records one call made against the mock.
type MockCall struct {
	Token   string
	Request Request
}

// NewMockClient creates a mock that answers OK with an empty payload by default.
func NewMockClient() *MockClient {
	return &MockClient{
		Scripts: make(map[Endpoint][]Outcome),
		Default: func(Request) Outcome { return OK(nil) },
	}
}

func (m *MockClient) Name() string { return "mock" }

// Push appends outcomes to an endpoint's script.
func (m *MockClient) Push(ep Endpoint, outcomes ...Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Scripts[ep] = append(m.Scripts[ep], outcomes...)
}

// Count returns how many calls hit ep.
func (m *MockClient) Count(ep Endpoint) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c.Request.Endpoint == ep {
			n++
		}
	}
	return n
}

func (m *MockClient) Call(_ context.Context, token string, req Request) Outcome {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Token: token, Request: req})
	if script := m.Scripts[req.Endpoint]; len(script) > 0 {
		o := script[0]
		m.Scripts[req.Endpoint] = script[1:]
		m.mu.Unlock()
		return o
	}
	fallback := m.Default
	m.mu.Unlock()
	return fallback(req)
}
