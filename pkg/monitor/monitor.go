// Package monitor polls the managed devices and fans the resulting state
// snapshots out to subscribers.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dougsko/rigd/pkg/hardware"
	"github.com/dougsko/rigd/pkg/logging"
	"github.com/dougsko/rigd/pkg/rig"
)

// Meters read on every poll when the rig has them.
var Meters = []string{rig.LevelStrength, rig.LevelSWR, rig.LevelALC, rig.LevelRFPowerMeter}

// Position is a rotator reading.
type Position struct {
	Az float64 `json:"az"`
	El float64 `json:"el"`
}

// Snapshot is the polled state of the rig and rotator.
type Snapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Model     int                `json:"model"`
	Name      string             `json:"name"`
	State     string             `json:"state"`
	Freq      int64              `json:"freq"`
	Mode      rig.Mode           `json:"mode"`
	Width     int                `json:"width"`
	VFO       string             `json:"vfo"`
	PTT       bool               `json:"ptt"`
	Split     bool               `json:"split"`
	TXVFO     string             `json:"tx_vfo,omitempty"`
	Meters    map[string]float64 `json:"meters,omitempty"`
	Rotator   *Position          `json:"rotator,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Changed reports whether the operating state differs from prev. Meter
// readings and timestamps are ignored.
func (s Snapshot) Changed(prev Snapshot) bool {
	if s.Model != prev.Model || s.State != prev.State || s.Freq != prev.Freq ||
		s.Mode != prev.Mode || s.Width != prev.Width || s.VFO != prev.VFO ||
		s.PTT != prev.PTT || s.Split != prev.Split || s.TXVFO != prev.TXVFO ||
		s.Error != prev.Error {
		return true
	}
	if (s.Rotator == nil) != (prev.Rotator == nil) {
		return true
	}
	return s.Rotator != nil && *s.Rotator != *prev.Rotator
}

// Monitor polls the hardware manager at a fixed interval.
type Monitor struct {
	mutex    sync.RWMutex
	hardware *hardware.Manager
	logger   *logging.Logger
	interval time.Duration

	current Snapshot
	polls   int64
	errors  int64
	dropped int64

	subscribers map[chan Snapshot]struct{}

	running  bool
	trigger  chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a monitor polling every interval.
func New(hw *hardware.Manager, interval time.Duration, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Nop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		hardware:    hw,
		logger:      logger,
		interval:    interval,
		subscribers: make(map[chan Snapshot]struct{}),
		trigger:     make(chan struct{}, 1),
	}
}

// Start begins polling in the background.
func (m *Monitor) Start(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.running {
		return nil
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.wg.Add(1)
	go m.run(ctx, m.stopChan)
	m.logger.Infof("monitor", "Polling every %s", m.interval)
	return nil
}

// Stop halts polling and closes every subscription.
func (m *Monitor) Stop() {
	m.mutex.Lock()
	if !m.running {
		m.mutex.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.mutex.Unlock()

	m.wg.Wait()

	m.mutex.Lock()
	for ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, ch)
	}
	m.mutex.Unlock()
}

// IsRunning reports whether the poll loop is active.
func (m *Monitor) IsRunning() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.running
}

// Trigger asks for a poll as soon as possible.
func (m *Monitor) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

func (m *Monitor) run(ctx context.Context, stop chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		case <-m.trigger:
		}
		m.Poll(ctx)
	}
}

// Poll reads the devices once, publishes the snapshot and returns it.
func (m *Monitor) Poll(ctx context.Context) Snapshot {
	snap := m.read(ctx)

	m.mutex.Lock()
	m.current = snap
	m.polls++
	if snap.Error != "" {
		m.errors++
	}
	for ch := range m.subscribers {
		select {
		case ch <- snap:
		default:
			// Slow subscriber: replace its pending snapshot.
			select {
			case <-ch:
			default:
			}
			ch <- snap
			m.dropped++
		}
	}
	m.mutex.Unlock()
	return snap
}

func (m *Monitor) read(ctx context.Context) Snapshot {
	snap := Snapshot{Timestamp: time.Now().UTC()}

	s, err := m.hardware.Rig()
	if err != nil {
		snap.State = rig.StateClosed.String()
		snap.Error = err.Error()
		return snap
	}

	if m.hardware.NeedsReconnect() {
		if err := m.hardware.Reconnect(ctx); err != nil {
			m.logger.Warnf("monitor", "Reconnect failed: %v", err)
		}
	}

	caps := s.Caps()
	snap.Model = caps.Model
	snap.Name = caps.FullName()
	snap.State = s.State().String()

	var errs []error
	keep := func(err error) {
		if err != nil && !errors.Is(err, rig.ErrUnsupported) {
			errs = append(errs, err)
		}
	}

	snap.Freq, err = s.GetFreq(ctx, rig.VFOCurrent)
	keep(err)
	snap.Mode, snap.Width, err = s.GetMode(ctx, rig.VFOCurrent)
	keep(err)

	vfo := s.CurrentVFO()
	if caps.Supports(rig.OpVFO, rig.Get) {
		if v, err := s.GetVFO(ctx); err == nil {
			vfo = v
		} else {
			keep(err)
		}
	}
	snap.VFO = vfo.String()

	if caps.Supports(rig.OpPTT, rig.Get) {
		snap.PTT, err = s.GetPTT(ctx, rig.VFOCurrent)
		keep(err)
	}
	if caps.Supports(rig.OpSplitVFO, rig.Get) {
		var tx rig.VFO
		snap.Split, tx, err = s.GetSplitVFO(ctx, rig.VFOCurrent)
		keep(err)
		if snap.Split {
			snap.TXVFO = tx.String()
		}
	}

	for _, name := range Meters {
		h, ok := caps.Ops[rig.OpLevel]
		if !ok {
			break
		}
		if it, ok := h.Items[name]; !ok || !it.Access.Allows(rig.Get) {
			continue
		}
		x, err := s.GetLevel(ctx, rig.VFOCurrent, name)
		if err != nil {
			keep(err)
			continue
		}
		if snap.Meters == nil {
			snap.Meters = make(map[string]float64)
		}
		snap.Meters[name] = x
	}

	if rot, err := m.hardware.Rotator(); err == nil {
		az, el, err := rot.GetPosition(ctx)
		if err == nil {
			snap.Rotator = &Position{Az: az, El: el}
		} else {
			keep(err)
		}
	}

	snap.State = s.State().String()
	if len(errs) > 0 {
		snap.Error = errs[0].Error()
		m.logger.Debugf("monitor", "Poll error: %v", errors.Join(errs...))
	}
	return snap
}

// Current returns the latest snapshot.
func (m *Monitor) Current() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}

// Subscribe returns a channel receiving every snapshot and a function
// that cancels the subscription. A slow reader only sees the newest
// snapshot.
func (m *Monitor) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	m.mutex.Lock()
	m.subscribers[ch] = struct{}{}
	m.mutex.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mutex.Lock()
			if _, ok := m.subscribers[ch]; ok {
				delete(m.subscribers, ch)
				close(ch)
			}
			m.mutex.Unlock()
		})
	}
}

// GetStatistics returns poll counters.
func (m *Monitor) GetStatistics() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return map[string]interface{}{
		"polls":       m.polls,
		"errors":      m.errors,
		"dropped":     m.dropped,
		"subscribers": len(m.subscribers),
		"interval":    m.interval.String(),
		"running":     m.running,
	}
}
