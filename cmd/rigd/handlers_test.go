package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dougsko/rigd/pkg/auth"
	"github.com/dougsko/rigd/pkg/config"
	"github.com/dougsko/rigd/pkg/monitor"
	"github.com/dougsko/rigd/pkg/rig"
	"github.com/dougsko/rigd/pkg/storage"
)

func newTestDaemon(t *testing.T, mutate func(*config.Config)) *Daemon {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Server.UnixSocket = filepath.Join(dir, "rigd.sock")
	cfg.Storage.DatabasePath = filepath.Join(dir, "rigd.db")
	cfg.Rotator.Model = 2
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Invalid test config: %v", err)
	}

	d, err := NewDaemon(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create daemon: %v", err)
	}
	if err := d.hardware.Initialize(context.Background()); err != nil {
		t.Fatalf("Failed to initialize hardware: %v", err)
	}
	t.Cleanup(func() {
		d.hardware.Close(context.Background())
		d.closeResources()
	})
	return d
}

func request(t *testing.T, d *Daemon, method, path string, body interface{}, token string) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	d.webServer.Handler.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("Failed to decode %s %s reply %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, out
}

func TestHTTPStatus(t *testing.T) {
	tests := map[string]int{
		"":                 http.StatusOK,
		"invalid_argument": http.StatusBadRequest,
		"unsupported":      http.StatusNotImplemented,
		"timeout":          http.StatusGatewayTimeout,
		"protocol":         http.StatusBadGateway,
		"transport":        http.StatusBadGateway,
		"closed":           http.StatusServiceUnavailable,
		"canceled":         http.StatusRequestTimeout,
		"internal":         http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := httpStatus(code); got != want {
			t.Errorf("Expected %d for %q, got %d", want, code, got)
		}
	}
}

func TestRadioEndpoints(t *testing.T) {
	d := newTestDaemon(t, nil)

	t.Run("Set Frequency", func(t *testing.T) {
		code, body := request(t, d, "PUT", "/api/v1/radio/frequency", map[string]interface{}{"frequency": 7074000}, "")
		if code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %v", code, body)
		}
		code, body = request(t, d, "GET", "/api/v1/radio?refresh=1", nil, "")
		if code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", code)
		}
		if body["freq"] != float64(7074000) {
			t.Errorf("Expected freq 7074000, got %v", body["freq"])
		}
	})

	t.Run("Out Of Range", func(t *testing.T) {
		code, body := request(t, d, "PUT", "/api/v1/radio/frequency", map[string]interface{}{"frequency": 10}, "")
		if code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", code)
		}
		if body["code"] != "invalid_argument" {
			t.Errorf("Expected invalid_argument, got %v", body["code"])
		}
	})

	t.Run("Mode On VFOB", func(t *testing.T) {
		code, _ := request(t, d, "PUT", "/api/v1/radio/mode", map[string]interface{}{"mode": "CW", "width": 500, "vfo": "VFOB"}, "")
		if code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", code)
		}
		s, _ := d.hardware.Rig()
		mode, width, err := s.GetMode(context.Background(), rig.VFOB)
		if err != nil || mode != rig.ModeCW || width != 500 {
			t.Errorf("Expected CW 500 on VFOB, got %s %d (%v)", mode, width, err)
		}
	})

	t.Run("PTT Requires Value", func(t *testing.T) {
		code, _ := request(t, d, "PUT", "/api/v1/radio/ptt", map[string]interface{}{}, "")
		if code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", code)
		}
		code, _ = request(t, d, "PUT", "/api/v1/radio/ptt", map[string]interface{}{"ptt": false}, "")
		if code != http.StatusOK {
			t.Errorf("Expected 200, got %d", code)
		}
	})

	t.Run("Rotator Position", func(t *testing.T) {
		code, _ := request(t, d, "PUT", "/api/v1/rotator/position", map[string]interface{}{"az": 120, "el": 15}, "")
		if code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", code)
		}
		rot, _ := d.hardware.Rotator()
		az, el, _ := rot.GetPosition(context.Background())
		if az != 120 || el != 15 {
			t.Errorf("Expected 120/15, got %v/%v", az, el)
		}
	})

	t.Run("Command", func(t *testing.T) {
		code, body := request(t, d, "POST", "/api/v1/command", map[string]string{"command": "L SWR 2"}, "")
		if code != http.StatusNotImplemented {
			t.Errorf("Expected 501, got %d: %v", code, body)
		}
		code, _ = request(t, d, "POST", "/api/v1/command", map[string]string{"command": "quit"}, "")
		if code != http.StatusBadRequest {
			t.Errorf("Expected 400 for quit, got %d", code)
		}
		code, body = request(t, d, "POST", "/api/v1/command", map[string]string{"command": "f"}, "")
		if code != http.StatusOK || body["success"] != true {
			t.Errorf("Expected success, got %d %v", code, body)
		}
	})

	t.Run("Caps And Status", func(t *testing.T) {
		code, body := request(t, d, "GET", "/api/v1/caps?device=rotator", nil, "")
		if code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", code)
		}
		caps := body["data"].(map[string]interface{})["caps"].(map[string]interface{})
		if caps["type"] != "rotator" {
			t.Errorf("Expected rotator caps, got %v", caps["type"])
		}

		code, body = request(t, d, "GET", "/api/v1/status", nil, "")
		if code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", code)
		}
		if _, ok := body["monitor"]; !ok {
			t.Error("Expected monitor statistics in status")
		}
	})

	t.Run("Models", func(t *testing.T) {
		code, body := request(t, d, "GET", "/api/v1/models", nil, "")
		if code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", code)
		}
		if models := body["models"].([]interface{}); len(models) < 2 {
			t.Errorf("Expected registered models, got %d", len(models))
		}
	})
}

func TestHistory(t *testing.T) {
	d := newTestDaemon(t, nil)

	ch := make(chan monitor.Snapshot, 4)
	base := monitor.Snapshot{Timestamp: time.Now().UTC(), Model: 1, State: "open", Freq: 14074000, Mode: rig.ModeUSB, VFO: "VFOA"}
	ch <- base
	ch <- base // unchanged, skipped
	failed := base
	failed.Error = "timeout"
	ch <- failed // errors are not persisted
	moved := base
	moved.Freq = 7074000
	moved.Timestamp = base.Timestamp.Add(time.Second)
	ch <- moved
	close(ch)

	d.persistStates(context.Background(), ch)

	code, body := request(t, d, "GET", "/api/v1/history", nil, "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	states := body["states"].([]interface{})
	if len(states) != 2 {
		t.Fatalf("Expected 2 states, got %d", len(states))
	}
	if first := states[0].(map[string]interface{}); first["frequency"] != float64(7074000) {
		t.Errorf("Expected newest first, got %v", first["frequency"])
	}

	code, _ = request(t, d, "GET", "/api/v1/history?since=yesterday", nil, "")
	if code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad since, got %d", code)
	}

	st, err := d.store.LoadState(1)
	if err != nil {
		t.Fatalf("Expected saved state, got %v", err)
	}
	if st.Frequency != 7074000 {
		t.Errorf("Expected 7074000, got %d", st.Frequency)
	}
}

func TestRestoreState(t *testing.T) {
	d := newTestDaemon(t, nil)
	if err := d.store.SaveState(storage.RigState{Model: 1, Frequency: 3573000, Mode: "CW", Width: 500, PTT: true}); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}

	d.restoreState()

	s, _ := d.hardware.Rig()
	hz, _ := s.GetFreq(context.Background(), rig.VFOCurrent)
	if hz != 3573000 {
		t.Errorf("Expected 3573000, got %d", hz)
	}
	mode, width, _ := s.GetMode(context.Background(), rig.VFOCurrent)
	if mode != rig.ModeCW || width != 500 {
		t.Errorf("Expected CW 500, got %s %d", mode, width)
	}
	if ptt, _ := s.GetPTT(context.Background(), rig.VFOCurrent); ptt {
		t.Error("PTT must never be restored")
	}
}

func TestAuthentication(t *testing.T) {
	d := newTestDaemon(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.Secret = "test-secret"
	})

	readToken, _, _ := d.authority.Issue("viewer", auth.ScopeRead)
	controlToken, _, _ := d.authority.Issue("operator", auth.ScopeControl)

	if code, _ := request(t, d, "GET", "/health", nil, ""); code != http.StatusOK {
		t.Errorf("Expected open health endpoint, got %d", code)
	}
	if code, _ := request(t, d, "GET", "/api/v1/radio", nil, ""); code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", code)
	}
	if code, _ := request(t, d, "GET", "/api/v1/radio", nil, readToken); code != http.StatusOK {
		t.Errorf("Expected 200 with read token, got %d", code)
	}

	freq := map[string]interface{}{"frequency": 14074000}
	if code, _ := request(t, d, "PUT", "/api/v1/radio/frequency", freq, readToken); code != http.StatusForbidden {
		t.Errorf("Expected 403 with read token, got %d", code)
	}
	if code, _ := request(t, d, "PUT", "/api/v1/radio/frequency", freq, controlToken); code != http.StatusOK {
		t.Errorf("Expected 200 with control token, got %d", code)
	}

	code, body := request(t, d, "POST", "/api/v1/token", map[string]interface{}{"subject": "logger"}, controlToken)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	claims, err := d.authority.Verify(body["access_token"].(string))
	if err != nil {
		t.Fatalf("Issued token does not verify: %v", err)
	}
	if claims.HasScope(auth.ScopeControl) {
		t.Error("Expected read-only default scope")
	}
}
