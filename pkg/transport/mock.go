package transport

import (
	"bytes"
	"sync"
	"time"
)

// Mock is a scripted Transport for tests. Responder is called with every
// written command and its result becomes readable input; a nil result
// means the device stays silent and reads time out.
//
// Mock counts an overlap whenever a command or a flush arrives while the
// reply to a previous command is still unread. Responders should only
// answer commands whose replies are actually read.
type Mock struct {
	Responder func(cmd []byte) []byte
	// Echo prepends every command to its reply, like a shared CI-V bus.
	Echo bool
	// Latency is slept inside Write, widening any interleaving window.
	Latency time.Duration

	OpenErr  error
	WriteErr error
	ReadErr  error

	mu       sync.Mutex
	open     bool
	pending  []byte
	busy     bool
	writes   [][]byte
	reads    int
	flushes  int
	opens    int
	closes   int
	overlaps int
	dtr, rts bool
}

// NewMock creates a mock answering with responder.
func NewMock(responder func(cmd []byte) []byte) *Mock {
	return &Mock{Responder: responder}
}

func (m *Mock) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.open = true
	m.opens++
	return nil
}

func (m *Mock) Write(p []byte) error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return ErrNotOpen
	}
	if m.WriteErr != nil {
		err := m.WriteErr
		m.mu.Unlock()
		return err
	}
	if m.busy && len(m.pending) > 0 {
		m.overlaps++
	}
	cmd := bytes.Clone(p)
	m.writes = append(m.writes, cmd)
	var reply []byte
	if m.Responder != nil {
		reply = m.Responder(cmd)
	}
	if m.Echo {
		m.pending = append(m.pending, cmd...)
	}
	m.pending = append(m.pending, reply...)
	m.busy = len(m.pending) > 0
	latency := m.Latency
	m.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	return nil
}

func (m *Mock) Read(max int, timeout time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return nil, ErrNotOpen
	}
	m.reads++
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	if len(m.pending) == 0 {
		m.busy = false
		return nil, ErrTimeout
	}
	n := max
	if n > len(m.pending) {
		n = len(m.pending)
	}
	out := bytes.Clone(m.pending[:n])
	m.pending = m.pending[n:]
	if len(m.pending) == 0 {
		m.busy = false
	}
	return out, nil
}

func (m *Mock) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy && len(m.pending) > 0 {
		m.overlaps++
	}
	m.flushes++
	m.pending = nil
	m.busy = false
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	m.closes++
	return nil
}

func (m *Mock) SetDTR(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dtr = on
	return nil
}

func (m *Mock) SetRTS(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rts = on
	return nil
}

// Inject queues unsolicited input.
func (m *Mock) Inject(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, p...)
}

// Writes returns copies of every written command.
func (m *Mock) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// WriteCount returns the number of Write calls.
func (m *Mock) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

// ReadCount returns the number of Read calls.
func (m *Mock) ReadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Overlaps returns how many interleaved exchanges were observed.
func (m *Mock) Overlaps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlaps
}

// Lines returns the DTR and RTS states.
func (m *Mock) Lines() (dtr, rts bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dtr, m.rts
}

// IsOpen reports whether the mock is open.
func (m *Mock) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Reset clears recorded traffic.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = nil
	m.reads = 0
	m.flushes = 0
	m.overlaps = 0
	m.pending = nil
	m.busy = false
}
