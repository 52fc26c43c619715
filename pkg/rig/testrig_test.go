package rig

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dougsko/rigd/pkg/transport"
)

const testModel = 90001

// testRadio answers a small ASCII CAT dialect: FA; FB; TX; SM; PC; ID; SV;
type testRadio struct {
	mu       sync.Mutex
	freqA    int64
	freqB    int64
	ptt      bool
	strength int
	power    int
	silent   bool
}

func (r *testRadio) respond(cmd []byte) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.silent {
		return nil
	}
	c := string(cmd)
	switch {
	case c == "FA;":
		return []byte(fmt.Sprintf("FA%011d;", r.freqA))
	case c == "FB;":
		return []byte(fmt.Sprintf("FB%011d;", r.freqB))
	case strings.HasPrefix(c, "FA"):
		r.freqA, _ = strconv.ParseInt(strings.TrimSuffix(c[2:], ";"), 10, 64)
	case strings.HasPrefix(c, "FB"):
		r.freqB, _ = strconv.ParseInt(strings.TrimSuffix(c[2:], ";"), 10, 64)
	case c == "TX;":
		if r.ptt {
			return []byte("TX1;")
		}
		return []byte("TX0;")
	case c == "TX1;" || c == "TX0;":
		r.ptt = c == "TX1;"
	case c == "SM;":
		return []byte(fmt.Sprintf("SM%03d;", r.strength))
	case strings.HasPrefix(c, "PC") && c != "PC;":
		r.power, _ = strconv.Atoi(strings.TrimSuffix(c[2:], ";"))
	case c == "PC;":
		return []byte(fmt.Sprintf("PC%03d;", r.power))
	case c == "ID;":
		return []byte("ID0999;")
	case c == "SV;":
		r.freqA, r.freqB = r.freqB, r.freqA
	case c == "XX;":
		return []byte(strings.Repeat("X", 300))
	case c == "EC;":
		return []byte("EC1;")
	case c == "??;":
		return []byte("?;")
	}
	return nil
}

func vfoLetter(s *Session, vfo VFO) string {
	if vfo == VFOCurrent {
		vfo = s.CurrentVFO()
	}
	if vfo == VFOB {
		return "B"
	}
	return "A"
}

func query(cmd string) Command {
	return Command{Data: []byte(cmd), Reply: &Frame{Term: ';', Max: 32}}
}

func parseTail(reply []byte, prefix string) (int64, error) {
	s := string(reply)
	if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, ";") {
		return 0, Protocolf("unexpected reply %q", s)
	}
	return strconv.ParseInt(s[len(prefix):len(s)-1], 10, 64)
}

func testCaps() *Caps {
	return &Caps{
		Model:        testModel,
		Name:         "Test Rig",
		Manufacturer: "Acme",
		Timeout:      20 * time.Millisecond,
		Retry:        3,
		Ops: map[Op]*Handler{
			OpFreq: {
				Access: AccessGetSet,
				Bounds: []Bound{{Field: FieldFreq, Ranges: []Range{{Min: 1, Max: 30e6, Step: 1}}}},
				Encode: func(s *Session, req Request) (Command, error) {
					letter := vfoLetter(s, req.VFO)
					if req.Dir == Set {
						return Command{Data: []byte(fmt.Sprintf("F%s%011d;", letter, req.Value.Freq))}, nil
					}
					return query("F" + letter + ";"), nil
				},
				Decode: func(s *Session, req Request, reply []byte) (Value, error) {
					hz, err := parseTail(reply, "F"+vfoLetter(s, req.VFO))
					return Value{Freq: hz}, err
				},
			},
			OpPTT: {
				Access: AccessGetSet,
				Encode: func(s *Session, req Request) (Command, error) {
					if req.Dir == Set {
						if req.Value.Bool {
							return Command{Data: []byte("TX1;")}, nil
						}
						return Command{Data: []byte("TX0;")}, nil
					}
					return query("TX;"), nil
				},
				Decode: func(s *Session, req Request, reply []byte) (Value, error) {
					n, err := parseTail(reply, "TX")
					return Value{Bool: n == 1}, err
				},
			},
			OpLevel: {
				Items: map[string]Item{
					LevelStrength: {Access: AccessGet},
					LevelRFPower: {Access: AccessGetSet, Bounds: []Bound{{Field: FieldFloat,
						Ranges: []Range{{Min: 0.05, Max: 1, Policy: Clamp}}}}},
				},
				Encode: func(s *Session, req Request) (Command, error) {
					if req.Item == LevelStrength {
						return query("SM;"), nil
					}
					if req.Dir == Set {
						return Command{Data: []byte(fmt.Sprintf("PC%03d;", int(req.Value.Float*100+0.5)))}, nil
					}
					return query("PC;"), nil
				},
				Decode: func(s *Session, req Request, reply []byte) (Value, error) {
					if req.Item == LevelStrength {
						n, err := parseTail(reply, "SM")
						return Value{Float: float64(n)}, err
					}
					n, err := parseTail(reply, "PC")
					return Value{Float: float64(n) / 100}, err
				},
			},
			OpParm: {
				Items: map[string]Item{
					"GARBAGE":  {Access: AccessGet},
					"ECHO":     {Access: AccessGet},
					"REJECTED": {Access: AccessGet},
				},
				Encode: func(s *Session, req Request) (Command, error) {
					switch req.Item {
					case "GARBAGE":
						return query("XX;"), nil
					case "ECHO":
						return Command{Data: []byte("EC;"), Reply: &Frame{Term: ';', Echo: true}}, nil
					}
					return Command{Data: []byte("??;"), Reply: &Frame{Term: ';', Validate: func(f []byte) error {
						if string(f) == "?;" {
							return ErrRejected
						}
						return nil
					}}}, nil
				},
				Decode: func(s *Session, req Request, reply []byte) (Value, error) {
					return Value{Str: string(reply)}, nil
				},
			},
			OpInfo: {
				Access: AccessGet,
				Static: true,
				Encode: func(s *Session, req Request) (Command, error) { return query("ID;"), nil },
				Decode: func(s *Session, req Request, reply []byte) (Value, error) {
					return Value{Str: strings.TrimSuffix(string(reply), ";")}, nil
				},
			},
			OpVFO: {
				Access: AccessGetSet,
				Do: func(ctx context.Context, s *Session, req Request) (Value, error) {
					if req.Dir == Set {
						if req.Value.VFO != VFOA && req.Value.VFO != VFOB {
							return Value{}, Invalidf("vfo %s", req.Value.VFO)
						}
						return req.Value, nil
					}
					return Value{VFO: s.CurrentVFO()}, nil
				},
			},
			OpVFOOp: {
				Items: map[string]Item{VFOOpExchange: {Access: AccessSet}},
				Encode: func(s *Session, req Request) (Command, error) {
					return Command{Data: []byte("SV;")}, nil
				},
			},
			// Split frequency lives on VFO B and is reached through nested calls.
			OpSplitFreq: {
				Access: AccessGetSet,
				Do: func(ctx context.Context, s *Session, req Request) (Value, error) {
					if req.Dir == Set {
						return req.Value, s.SetFreq(ctx, VFOB, req.Value.Freq)
					}
					hz, err := s.GetFreq(ctx, VFOB)
					return Value{Freq: hz}, err
				},
			},
		},
	}
}

func init() {
	Register(testCaps())
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	radio   *testRadio
	mock    *transport.Mock
	clock   *fakeClock
	session *Session
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		radio: &testRadio{freqA: 14074000, freqB: 7074000, strength: 123, power: 50},
		clock: newFakeClock(),
	}
	f.mock = transport.NewMock(f.radio.respond)
	s, err := New(testModel, cfg, WithTransport(f.mock), WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Expected no error opening session, got: %v", err)
	}
	f.session = s
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return f
}
