package rig

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dougsko/rigd/pkg/logging"
	"github.com/dougsko/rigd/pkg/transport"
)

// State of a session.
type State int

const (
	StateClosed State = iota
	StateOpen
	// StateFailed sessions keep their cache readable but refuse I/O
	// until closed and reopened.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFailed:
		return "failed"
	default:
		return "closed"
	}
}

// PTTType selects how PTT is keyed.
type PTTType int

const (
	PTTRig PTTType = iota // CAT command
	PTTDTR
	PTTRTS
	PTTNone
)

// ParsePTTType parses "rig", "cat", "dtr", "rts" or "none".
func ParsePTTType(s string) (PTTType, error) {
	switch s {
	case "", "rig", "cat":
		return PTTRig, nil
	case "dtr":
		return PTTDTR, nil
	case "rts":
		return PTTRTS, nil
	case "none":
		return PTTNone, nil
	}
	return PTTRig, fmt.Errorf("%w: unknown ptt type %q", ErrInvalidArgument, s)
}

// Config holds per-session settings. Zero durations and counts fall back
// to the model defaults, except CacheTimeout where zero disables caching.
type Config struct {
	Port           transport.Config
	Timeout        time.Duration
	Retry          int
	CacheTimeout   time.Duration
	WriteDelay     time.Duration
	PostWriteDelay time.Duration
	PTTType        PTTType
}

// DefaultCacheTimeout is what the daemon uses when none is configured.
const DefaultCacheTimeout = 500 * time.Millisecond

// WireEvent is one chunk of traffic, reported to a Tracer.
type WireEvent struct {
	Session string
	Model   int
	Time    time.Time
	TX      bool
	Data    []byte
	Err     error
}

// Tracer receives wire traffic.
type Tracer interface {
	Trace(ev WireEvent)
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithTransport replaces the transport built from the config.
func WithTransport(t transport.Transport) Option {
	return func(s *Session) { s.tr = t }
}

// WithClock replaces the cache clock.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithTracer attaches a wire tracer.
func WithTracer(t Tracer) Option {
	return func(s *Session) { s.tracer = t }
}

// WithBufferPool shares a reply buffer pool.
func WithBufferPool(p *BufferPool) Option {
	return func(s *Session) { s.pool = p }
}

// Session is one open connection to one device.
type Session struct {
	id     string
	caps   *Caps
	cfg    Config
	tr     transport.Transport
	cache  *Cache
	guard  *Guard
	logger *logging.Logger
	log    *logging.FieldLogger
	tracer Tracer
	pool   *BufferPool
	now    func() time.Time

	timeout        time.Duration
	retry          int
	writeDelay     time.Duration
	postWriteDelay time.Duration

	mu      sync.RWMutex
	state   State
	vfo     VFO
	lastErr error
	priv    any

	// rx holds bytes read past the end of a frame; touched only under the guard
	rx []byte

	linePTT atomic.Bool
	stats   sessionCounters
}

type sessionCounters struct {
	exchanges atomic.Uint64
	retries   atomic.Uint64
	timeouts  atomic.Uint64
	protocol  atomic.Uint64
}

// Stats is a snapshot of session counters.
type Stats struct {
	ID        string     `json:"id"`
	Model     int        `json:"model"`
	State     string     `json:"state"`
	Exchanges uint64     `json:"exchanges"`
	Retries   uint64     `json:"retries"`
	Timeouts  uint64     `json:"timeouts"`
	Protocol  uint64     `json:"protocol_errors"`
	Cache     CacheStats `json:"cache"`
	Guard     GuardStats `json:"guard"`
}

// New creates a closed session for a registered model.
func New(model int, cfg Config, opts ...Option) (*Session, error) {
	caps, ok := Lookup(model)
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %d", ErrInvalidArgument, model)
	}

	s := &Session{
		id:    uuid.NewString(),
		caps:  caps,
		cfg:   cfg,
		guard: NewGuard(),
		vfo:   VFOCurrent,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logging.Nop()
	}
	s.log = s.logger.WithFields(map[string]interface{}{"session": s.id[:8], "model": caps.Model})
	if s.pool == nil {
		s.pool = defaultPool
	}
	s.cache = NewCache(cfg.CacheTimeout, s.now)

	s.cfg.Port = cfg.Port.Merge(caps.Port)
	s.timeout = pick(cfg.Timeout, caps.Timeout, time.Second)
	s.retry = cfg.Retry
	if s.retry <= 0 {
		s.retry = caps.Retry
	}
	s.writeDelay = pick(cfg.WriteDelay, caps.WriteDelay, 0)
	s.postWriteDelay = pick(cfg.PostWriteDelay, caps.PostWriteDelay, 0)

	if s.tr == nil {
		tr, err := transport.New(s.cfg.Port)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		s.tr = tr
	}
	if caps.NewState != nil {
		s.priv = caps.NewState()
	}
	return s, nil
}

func pick(v, fallback, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	if fallback > 0 {
		return fallback
	}
	return def
}

// ID is a unique session identifier.
func (s *Session) ID() string { return s.id }

// Caps returns the model descriptor.
func (s *Session) Caps() *Caps { return s.caps }

// Config returns the effective configuration.
func (s *Session) Config() Config {
	cfg := s.cfg
	cfg.Timeout = s.timeout
	cfg.Retry = s.retry
	cfg.WriteDelay = s.writeDelay
	cfg.PostWriteDelay = s.postWriteDelay
	cfg.CacheTimeout = s.cache.Timeout()
	return cfg
}

// Cache exposes the session cache.
func (s *Session) Cache() *Cache { return s.cache }

// Guard exposes the transaction guard.
func (s *Session) Guard() *Guard { return s.guard }

// Transport returns the underlying channel.
func (s *Session) Transport() transport.Transport { return s.tr }

// Logger returns the session logger.
func (s *Session) Logger() *logging.FieldLogger { return s.log }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the failure that moved the session to StateFailed.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// CurrentVFO is the selector last set with set_vfo.
func (s *Session) CurrentVFO() VFO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vfo
}

func (s *Session) setCurrentVFO(v VFO) {
	s.mu.Lock()
	s.vfo = v
	s.mu.Unlock()
}

// BackendState returns the value created by Caps.NewState.
func (s *Session) BackendState() any { return s.priv }

// SetCacheTimeout overrides the cache timeout for one op.
func (s *Session) SetCacheTimeout(op Op, d time.Duration) {
	s.cache.SetOpTimeout(op, d)
}

// Peek returns the last value seen for a key, fresh or not. It never
// touches the device and works on failed sessions.
func (s *Session) Peek(op Op, vfo VFO, item string) (Value, time.Time, bool) {
	return s.cache.Peek(Key{Op: op, VFO: vfo, Item: item})
}

// Stats returns a snapshot of counters.
func (s *Session) Stats() Stats {
	return Stats{
		ID:        s.id,
		Model:     s.caps.Model,
		State:     s.State().String(),
		Exchanges: s.stats.exchanges.Load(),
		Retries:   s.stats.retries.Load(),
		Timeouts:  s.stats.timeouts.Load(),
		Protocol:  s.stats.protocol.Load(),
		Cache:     s.cache.Stats(),
		Guard:     s.guard.Stats(),
	}
}

// Open connects the transport and runs the model handshake. Opening an
// open session is a no-op; a failed session must be closed first.
func (s *Session) Open(ctx context.Context) error {
	ctx, release, err := s.guard.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	switch s.State() {
	case StateOpen:
		return nil
	case StateFailed:
		return fmt.Errorf("%w: session failed, close it first: %v", ErrTransport, s.Err())
	}

	s.log.Infof("rig", "Opening %s (model %d) on %s", s.caps.FullName(), s.caps.Model, describePort(s.cfg.Port))
	if err := s.tr.Open(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	s.rx = nil

	s.mu.Lock()
	s.state = StateOpen
	s.lastErr = nil
	s.vfo = VFOCurrent
	s.mu.Unlock()

	if s.cfg.PTTType == PTTDTR || s.cfg.PTTType == PTTRTS {
		if _, ok := s.tr.(transport.LineController); !ok {
			s.teardown()
			return fmt.Errorf("%w: transport cannot drive control lines for PTT", ErrUnsupported)
		}
	}

	if s.caps.Open != nil {
		if err := s.caps.Open(ctx, s); err != nil {
			s.log.Errorf("rig", "Handshake failed: %v", err)
			s.teardown()
			return err
		}
	}
	s.log.Info("rig", "Session open")
	return nil
}

// Close waits for any in-flight transaction, runs the model teardown and
// closes the transport. The cache is cleared.
func (s *Session) Close(ctx context.Context) error {
	ctx, release, err := s.guard.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	state := s.State()
	if state == StateClosed {
		return nil
	}
	if state == StateOpen && s.caps.Close != nil {
		if err := s.caps.Close(ctx, s); err != nil {
			s.log.Warnf("rig", "Backend close hook: %v", err)
		}
	}
	err = s.teardown()
	s.cache.Clear()
	s.log.Info("rig", "Session closed")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

func (s *Session) teardown() error {
	err := s.tr.Close()
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.rx = nil
	return err
}

func (s *Session) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case StateOpen:
		return nil
	case StateFailed:
		return fmt.Errorf("%w: session failed: %v", ErrTransport, s.lastErr)
	default:
		return ErrClosed
	}
}

// fail records a channel failure and moves the session to StateFailed.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	if s.state == StateOpen {
		s.state = StateFailed
		s.lastErr = err
	}
	s.mu.Unlock()
	s.log.Errorf("rig", "Transport failure, session marked failed: %v", err)
	if errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

func describePort(cfg transport.Config) string {
	switch cfg.ResolveType() {
	case transport.TypeNone:
		return "no port"
	case transport.TypeNetwork:
		return cfg.Path
	default:
		return fmt.Sprintf("%s %d baud", cfg.Path, cfg.BaudRate)
	}
}
