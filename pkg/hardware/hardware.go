package hardware

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dougsko/rigd/pkg/logging"
	"github.com/dougsko/rigd/pkg/rig"
)

// ErrNotInitialized is returned when a device is used before Initialize
// or when it was not configured.
var ErrNotInitialized = errors.New("device not initialized")

// Config selects the devices the manager opens. A zero RotatorModel
// means no rotator.
type Config struct {
	RigModel     int
	Rig          rig.Config
	RotatorModel int
	Rotator      rig.Config
}

// Manager owns the rig and rotator sessions of the daemon.
type Manager struct {
	config Config
	logger *logging.Logger
	opts   []rig.Option
	mutex  sync.RWMutex

	rig     *rig.Session
	rotator *rig.Session

	initialized bool

	backoff    time.Duration
	maxBackoff time.Duration
	retries    map[*rig.Session]*retry
	now        func() time.Time
}

// retry tracks a session whose reconnect failed.
type retry struct {
	attempts int
	next     time.Time
}

const (
	defaultReconnectBackoff = time.Second
	maxReconnectBackoff     = 30 * time.Second
)

// Status is a snapshot of one managed device.
type Status struct {
	Model        int       `json:"model"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	State        string    `json:"state"`
	Error        string    `json:"error,omitempty"`
	SessionID    string    `json:"session_id"`
	Stats        rig.Stats `json:"stats"`
	Capabilities []string  `json:"capabilities"`
}

// NewManager creates a manager. The options are passed to every session.
func NewManager(config Config, logger *logging.Logger, opts ...rig.Option) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		config:     config,
		logger:     logger,
		opts:       append([]rig.Option{rig.WithLogger(logger)}, opts...),
		backoff:    defaultReconnectBackoff,
		maxBackoff: maxReconnectBackoff,
		retries:    make(map[*rig.Session]*retry),
		now:        time.Now,
	}
}

// SetReconnectBackoff sets the wait after a failed reconnect and its cap.
// The wait doubles with every further failure. Zero retries on every call.
func (m *Manager) SetReconnectBackoff(initial, limit time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if limit < initial {
		limit = initial
	}
	m.backoff, m.maxBackoff = initial, limit
}

func (m *Manager) backoffFor(attempts int) time.Duration {
	d := m.backoff
	for i := 1; i < attempts && d < m.maxBackoff; i++ {
		d *= 2
	}
	if d > m.maxBackoff {
		d = m.maxBackoff
	}
	return d
}

// Initialize opens every configured device.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.initialized {
		return nil
	}

	m.logger.Info("hardware", "Initializing hardware manager")

	s, err := m.open(ctx, m.config.RigModel, m.config.Rig)
	if err != nil {
		return fmt.Errorf("failed to initialize rig: %w", err)
	}
	m.rig = s

	if m.config.RotatorModel != 0 {
		rot, err := m.open(ctx, m.config.RotatorModel, m.config.Rotator)
		if err != nil {
			_ = m.rig.Close(ctx)
			m.rig = nil
			return fmt.Errorf("failed to initialize rotator: %w", err)
		}
		m.rotator = rot
	}

	m.initialized = true
	m.logger.Info("hardware", "Hardware manager initialized")
	return nil
}

func (m *Manager) open(ctx context.Context, model int, cfg rig.Config) (*rig.Session, error) {
	s, err := rig.New(model, cfg, m.opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	m.logger.Infof("hardware", "%s ready on %s", s.Caps().FullName(), describe(s))
	return s, nil
}

func describe(s *rig.Session) string {
	port := s.Config().Port
	if port.Path == "" {
		return port.ResolveType()
	}
	return port.Path
}

// Close releases PTT if it is known to be keyed, then closes the sessions.
func (m *Manager) Close(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.initialized {
		return nil
	}

	m.logger.Info("hardware", "Shutting down hardware manager")

	var errs []error
	if m.rig != nil {
		if v, _, ok := m.rig.Peek(rig.OpPTT, rig.VFOCurrent, ""); ok && v.Bool {
			if err := m.rig.SetPTT(ctx, rig.VFOCurrent, false); err != nil {
				m.logger.Errorf("hardware", "Error releasing PTT: %v", err)
			}
		}
		if err := m.rig.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing rig: %w", err))
		}
	}
	if m.rotator != nil {
		if err := m.rotator.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing rotator: %w", err))
		}
	}
	m.rig, m.rotator = nil, nil
	m.retries = make(map[*rig.Session]*retry)

	m.initialized = false
	m.logger.Info("hardware", "Hardware manager shut down")
	return errors.Join(errs...)
}

// NeedsReconnect reports whether a managed session is not open, either
// failed on a transport error or left closed by a failed reconnect.
func (m *Manager) NeedsReconnect() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if !m.initialized {
		return false
	}
	for _, s := range []*rig.Session{m.rig, m.rotator} {
		if s != nil && s.State() != rig.StateOpen {
			return true
		}
	}
	return false
}

// Reconnect reopens every managed session that is not open. A session
// whose reconnect failed is skipped until its backoff has elapsed.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}
	now := m.now()
	var errs []error
	for _, s := range []*rig.Session{m.rig, m.rotator} {
		if s == nil {
			continue
		}
		if s.State() == rig.StateOpen {
			delete(m.retries, s)
			continue
		}
		r := m.retries[s]
		if r != nil && now.Before(r.next) {
			continue
		}

		name := s.Caps().FullName()
		if err := s.Err(); err != nil && s.State() == rig.StateFailed {
			m.logger.Warnf("hardware", "Reconnecting %s after %v", name, err)
		} else {
			m.logger.Infof("hardware", "Reconnecting %s", name)
		}
		_ = s.Close(ctx)
		if err := s.Open(ctx); err != nil {
			if r == nil {
				r = &retry{}
				m.retries[s] = r
			}
			r.attempts++
			wait := m.backoffFor(r.attempts)
			r.next = now.Add(wait)
			errs = append(errs, fmt.Errorf("reconnecting %s (attempt %d, next in %s): %w", name, r.attempts, wait, err))
			continue
		}
		delete(m.retries, s)
		m.logger.Infof("hardware", "%s reconnected", name)
	}
	return errors.Join(errs...)
}

// Rig returns the transceiver session.
func (m *Manager) Rig() (*rig.Session, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if !m.initialized || m.rig == nil {
		return nil, fmt.Errorf("rig: %w", ErrNotInitialized)
	}
	return m.rig, nil
}

// Rotator returns the rotator session.
func (m *Manager) Rotator() (*rig.Session, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if !m.initialized || m.rotator == nil {
		return nil, fmt.Errorf("rotator: %w", ErrNotInitialized)
	}
	return m.rotator, nil
}

// IsInitialized returns whether the devices are open
func (m *Manager) IsInitialized() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.initialized
}

// Status describes every open device.
func (m *Manager) Status() []Status {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var out []Status
	for _, s := range []*rig.Session{m.rig, m.rotator} {
		if s == nil {
			continue
		}
		out = append(out, StatusOf(s))
	}
	return out
}

// StatusOf snapshots a session.
func StatusOf(s *rig.Session) Status {
	caps := s.Caps()
	st := Status{
		Model:     caps.Model,
		Name:      caps.FullName(),
		Type:      caps.Type.String(),
		State:     s.State().String(),
		SessionID: s.ID(),
		Stats:     s.Stats(),
	}
	if err := s.Err(); err != nil {
		st.Error = err.Error()
	}
	for op := range caps.Ops {
		st.Capabilities = append(st.Capabilities, op.String())
	}
	sort.Strings(st.Capabilities)
	return st
}
