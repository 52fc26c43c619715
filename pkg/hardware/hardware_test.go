package hardware

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dougsko/rigd/pkg/backends/dummy"
	"github.com/dougsko/rigd/pkg/logging"
	"github.com/dougsko/rigd/pkg/rig"
	"github.com/dougsko/rigd/pkg/transport"
)

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Uninitialized Manager", func(t *testing.T) {
		m := NewManager(Config{RigModel: dummy.Model}, nil)
		if m.IsInitialized() {
			t.Error("Expected manager to start uninitialized")
		}
		if _, err := m.Rig(); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("Expected ErrNotInitialized, got %v", err)
		}
		if err := m.Close(ctx); err != nil {
			t.Errorf("Expected closing an uninitialized manager to succeed, got %v", err)
		}
	})

	t.Run("Rig Only", func(t *testing.T) {
		m := NewManager(Config{RigModel: dummy.Model, Rig: rig.Config{CacheTimeout: rig.DefaultCacheTimeout}}, nil)
		if err := m.Initialize(ctx); err != nil {
			t.Fatalf("Failed to initialize: %v", err)
		}
		defer m.Close(ctx)

		s, err := m.Rig()
		if err != nil {
			t.Fatalf("Expected rig session, got %v", err)
		}
		if s.State() != rig.StateOpen {
			t.Errorf("Expected open session, got %s", s.State())
		}
		if _, err := m.Rotator(); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("Expected no rotator, got %v", err)
		}

		// Initialize twice is a no-op
		if err := m.Initialize(ctx); err != nil {
			t.Errorf("Expected second Initialize to succeed, got %v", err)
		}
		if same, _ := m.Rig(); same != s {
			t.Error("Expected the same session after a second Initialize")
		}
	})

	t.Run("Rig And Rotator", func(t *testing.T) {
		m := NewManager(Config{RigModel: dummy.Model, RotatorModel: dummy.RotatorModel}, nil)
		if err := m.Initialize(ctx); err != nil {
			t.Fatalf("Failed to initialize: %v", err)
		}
		defer m.Close(ctx)

		status := m.Status()
		if len(status) != 2 {
			t.Fatalf("Expected 2 devices, got %d", len(status))
		}
		if status[1].Type != "rotator" {
			t.Errorf("Expected second device to be a rotator, got %s", status[1].Type)
		}
		if status[0].State != "open" {
			t.Errorf("Expected rig to be open, got %s", status[0].State)
		}
	})

	t.Run("Unknown Model", func(t *testing.T) {
		m := NewManager(Config{RigModel: 99999}, nil)
		err := m.Initialize(ctx)
		if !errors.Is(err, rig.ErrInvalidArgument) {
			t.Errorf("Expected invalid argument, got %v", err)
		}
		if m.IsInitialized() {
			t.Error("Expected manager to stay uninitialized")
		}
	})

	t.Run("Rotator Failure Closes Rig", func(t *testing.T) {
		m := NewManager(Config{RigModel: dummy.Model, RotatorModel: 99998}, nil)
		if err := m.Initialize(ctx); err == nil {
			t.Fatal("Expected rotator failure")
		}
		if _, err := m.Rig(); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("Expected rig to be released, got %v", err)
		}
	})
}

func TestManagerClose(t *testing.T) {
	ctx := context.Background()

	t.Run("Releases PTT", func(t *testing.T) {
		var out bytes.Buffer
		logger, err := logging.NewLogger(logging.Options{Level: "debug", Output: &out})
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		m := NewManager(Config{RigModel: dummy.Model, Rig: rig.Config{CacheTimeout: rig.CacheForever}}, logger)
		if err := m.Initialize(ctx); err != nil {
			t.Fatalf("Failed to initialize: %v", err)
		}
		s, _ := m.Rig()
		if err := s.SetPTT(ctx, rig.VFOCurrent, true); err != nil {
			t.Fatalf("Failed to key PTT: %v", err)
		}

		out.Reset()
		if err := m.Close(ctx); err != nil {
			t.Fatalf("Failed to close: %v", err)
		}
		if !strings.Contains(out.String(), "set_ptt") {
			t.Errorf("Expected PTT to be released on close, log:\n%s", out.String())
		}
		if s.State() != rig.StateClosed {
			t.Errorf("Expected closed session, got %s", s.State())
		}
		if m.IsInitialized() {
			t.Error("Expected manager to be uninitialized after Close")
		}
	})

	t.Run("Leaves Unkeyed Rig Alone", func(t *testing.T) {
		var out bytes.Buffer
		logger, _ := logging.NewLogger(logging.Options{Level: "debug", Output: &out})
		m := NewManager(Config{RigModel: dummy.Model, Rig: rig.Config{CacheTimeout: rig.CacheForever}}, logger)
		if err := m.Initialize(ctx); err != nil {
			t.Fatalf("Failed to initialize: %v", err)
		}
		out.Reset()
		if err := m.Close(ctx); err != nil {
			t.Fatalf("Failed to close: %v", err)
		}
		if strings.Contains(out.String(), "set_ptt") {
			t.Errorf("Expected no PTT command, log:\n%s", out.String())
		}
	})
}

func TestManagerReconnect(t *testing.T) {
	ctx := context.Background()

	mock := transport.NewMock(func(cmd []byte) []byte { return nil })
	m := NewManager(Config{RigModel: dummy.Model}, nil, rig.WithTransport(mock))
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	defer m.Close(ctx)

	if err := m.Reconnect(ctx); err != nil {
		t.Errorf("Expected reconnect of a healthy session to be a no-op, got %v", err)
	}
	if !mock.IsOpen() {
		t.Error("Expected transport to stay open")
	}
}

func TestManagerReconnectRetries(t *testing.T) {
	ctx := context.Background()

	mock := transport.NewMock(func(cmd []byte) []byte { return nil })
	m := NewManager(Config{RigModel: dummy.Model}, nil, rig.WithTransport(mock))
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	defer m.Close(ctx)

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	m.SetReconnectBackoff(time.Second, 4*time.Second)

	s, _ := m.Rig()
	if m.NeedsReconnect() {
		t.Fatal("Expected an open session to need no reconnect")
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Failed to close session: %v", err)
	}
	if !m.NeedsReconnect() {
		t.Fatal("Expected a closed session to need a reconnect")
	}

	mock.OpenErr = errors.New("no such device")
	if err := m.Reconnect(ctx); err == nil {
		t.Fatal("Expected reconnect to fail while the device is missing")
	}
	if s.State() != rig.StateClosed {
		t.Errorf("Expected closed session, got %s", s.State())
	}

	t.Run("Waits For Backoff", func(t *testing.T) {
		mock.OpenErr = nil
		if err := m.Reconnect(ctx); err != nil {
			t.Errorf("Expected a skipped reconnect to succeed, got %v", err)
		}
		if s.State() != rig.StateClosed {
			t.Errorf("Expected session to stay closed during backoff, got %s", s.State())
		}
	})

	t.Run("Recovers After Backoff", func(t *testing.T) {
		clock = clock.Add(time.Second)
		if err := m.Reconnect(ctx); err != nil {
			t.Fatalf("Expected reconnect to succeed, got %v", err)
		}
		if s.State() != rig.StateOpen {
			t.Errorf("Expected open session, got %s", s.State())
		}
		if m.NeedsReconnect() {
			t.Error("Expected no pending reconnect")
		}
		if len(m.retries) != 0 {
			t.Errorf("Expected retry state to be cleared, got %d entries", len(m.retries))
		}
	})
}

func TestReconnectBackoff(t *testing.T) {
	m := NewManager(Config{RigModel: dummy.Model}, nil)
	m.SetReconnectBackoff(time.Second, 5*time.Second)

	tests := map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 5 * time.Second, 10: 5 * time.Second}
	for attempts, want := range tests {
		if got := m.backoffFor(attempts); got != want {
			t.Errorf("Expected %s after %d attempts, got %s", want, attempts, got)
		}
	}

	m.SetReconnectBackoff(0, 0)
	if got := m.backoffFor(3); got != 0 {
		t.Errorf("Expected no backoff, got %s", got)
	}
}
