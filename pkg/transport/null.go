package transport

import (
	"sync"
	"time"
)

// Null is a Transport with no device behind it. Backends that simulate
// a rig in process use it.
type Null struct {
	mu   sync.Mutex
	open bool
}

// NewNull creates a null transport.
func NewNull() *Null {
	return &Null{}
}

func (n *Null) Open() error {
	n.mu.Lock()
	n.open = true
	n.mu.Unlock()
	return nil
}

func (n *Null) Write(p []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.open {
		return ErrNotOpen
	}
	return nil
}

func (n *Null) Read(max int, timeout time.Duration) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.open {
		return nil, ErrNotOpen
	}
	return nil, ErrTimeout
}

func (n *Null) Flush() error { return nil }

func (n *Null) Close() error {
	n.mu.Lock()
	n.open = false
	n.mu.Unlock()
	return nil
}
