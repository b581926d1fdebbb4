package servo

import (
	"sync"

	"github.com/banshee-data/velocity.report/internal/packets"
)

// MockActuator records every commanded position, for the `mock` CLI
// subcommand and for package tests. It reports a synthetic encoder reading
// proportional to the commanded position so tests can observe movement
// without real hardware.
type MockActuator struct {
	mu      sync.Mutex
	history []packets.ServoExtension
	closed  bool
}

// NewMockActuator creates a MockActuator starting at MIN_NO_BUZZ.
func NewMockActuator() *MockActuator {
	return &MockActuator{history: []packets.ServoExtension{packets.ExtensionMinNoBuzz}}
}

func (m *MockActuator) SetPosition(ext packets.ServoExtension) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, ext)
	return nil
}

func (m *MockActuator) EncoderPosition() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return 0
	}
	return int(m.history[len(m.history)-1]) * 100
}

// History returns a copy of every position ever commanded, oldest first.
func (m *MockActuator) History() []packets.ServoExtension {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]packets.ServoExtension, len(m.history))
	copy(out, m.history)
	return out
}

func (m *MockActuator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
