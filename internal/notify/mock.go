package notify

import (
	"context"
	"sync"

	"github.com/mvellano/enhancerd/internal/queue"
)

// MockSink records every delivery for assertions.
type MockSink struct {
	mu        sync.Mutex
	Err       error
	delivered []Delivery
}

type Delivery struct {
	Target  string
	Summary queue.Summary
}

func (m *MockSink) Notify(_ context.Context, target string, summary queue.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered = append(m.delivered, Delivery{Target: target, Summary: summary})
	return m.Err
}

func (m *MockSink) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.delivered))
	copy(out, m.delivered)
	return out
}
