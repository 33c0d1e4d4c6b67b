package alert

import (
	"context"
	"sync"
)

// Mock records alerts for tests.
type Mock struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

// NewMock creates an empty Mock.
func NewMock() *Mock {
	return &Mock{}
}

// Notify records a and returns the configured error.
func (m *Mock) Notify(_ context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return m.err
}

// SetError makes subsequent Notify calls fail with err.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// All returns a copy of every recorded alert.
func (m *Mock) All() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Count returns the number of recorded alerts.
func (m *Mock) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

// Last returns the most recent alert.
func (m *Mock) Last() (Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.alerts) == 0 {
		return Alert{}, false
	}
	return m.alerts[len(m.alerts)-1], true
}
