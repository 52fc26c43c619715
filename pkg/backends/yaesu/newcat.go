// Package yaesu implements the Yaesu "newcat" ASCII CAT protocol. Every
// command and reply is terminated by ';'. Set commands are silent; a rig
// that refuses a command answers "?;".
package yaesu

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dougsko/rigd/pkg/rig"
	"github.com/dougsko/rigd/pkg/transport"
)

const term = ';'

// infoLen is the length of an IF; or OI; reply including the terminator.
const infoLen = 28

func rejected(frame []byte) error {
	if string(frame) == "?;" {
		return fmt.Errorf("%w: rig answered ?;", rig.ErrRejected)
	}
	return nil
}

func query(cmd string) rig.Command {
	return rig.Command{Data: []byte(cmd + ";"), Reply: &rig.Frame{Term: term, Max: 64, Validate: rejected}}
}

func command(format string, args ...interface{}) rig.Command {
	return rig.Command{Data: []byte(fmt.Sprintf(format, args...) + ";")}
}

// body strips prefix and terminator from a reply.
func body(reply []byte, prefix string) (string, error) {
	s := string(reply)
	if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, ";") {
		return "", rig.Protocolf("expected %s reply, got %q", prefix, s)
	}
	return s[len(prefix) : len(s)-1], nil
}

func number(reply []byte, prefix string) (int, error) {
	b, err := body(reply, prefix)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(b)
	if err != nil {
		return 0, rig.Protocolf("bad number in %q", reply)
	}
	return n, nil
}

// letter maps a selector to the A or B used in FA/FB style commands.
// Relative selectors follow the session's current VFO.
func letter(s *rig.Session, vfo rig.VFO) (byte, error) {
	switch vfo {
	case rig.VFOA, rig.VFOMain:
		return 'A', nil
	case rig.VFOB, rig.VFOSub:
		return 'B', nil
	case rig.VFOCurrent, rig.VFORX, rig.VFOTX:
		if cur := s.CurrentVFO(); cur == rig.VFOB || cur == rig.VFOSub {
			return 'B', nil
		}
		return 'A', nil
	}
	return 0, rig.Invalidf("%s has no newcat equivalent", vfo)
}

func vfoOf(l byte) rig.VFO {
	if l == 'B' || l == '1' {
		return rig.VFOB
	}
	return rig.VFOA
}

var modes = []struct {
	code  byte
	mode  rig.Mode
	width int
}{
	{'1', rig.ModeLSB, 2400},
	{'2', rig.ModeUSB, 2400},
	{'3', rig.ModeCW, 500},
	{'4', rig.ModeFM, 12000},
	{'5', rig.ModeAM, 6000},
	{'6', rig.ModeRTTY, 500},
	{'7', rig.ModeCWR, 500},
	{'8', rig.ModePKTLSB, 3000},
	{'9', rig.ModeRTTYR, 500},
	{'A', rig.ModePKTFM, 12000},
	{'B', rig.ModeFMN, 9000},
	{'C', rig.ModePKTUSB, 3000},
	{'E', rig.ModeC4FM, 12000},
}

func modeCode(m rig.Mode) (byte, error) {
	for _, e := range modes {
		if e.mode == m {
			return e.code, nil
		}
	}
	return 0, rig.Invalidf("mode %s not supported", m)
}

func modeOf(code byte) (rig.Value, error) {
	for _, e := range modes {
		if e.code == code {
			return rig.Value{Mode: e.mode, Width: e.width}, nil
		}
	}
	return rig.Value{}, rig.Protocolf("unknown mode code %q", code)
}

func modeList() []rig.Mode {
	out := make([]rig.Mode, 0, len(modes))
	for _, e := range modes {
		out = append(out, e.mode)
	}
	return out
}

// info is a decoded IF; or OI; frame.
type info struct {
	freq      int64
	clarifier int
	rxClar    bool
	txClar    bool
	mode      byte
	tone      byte
}

// parseInfo decodes IF001014074000+0000002000000; style frames:
// memory channel(3) frequency(9) clarifier(5) rx clar(1) tx clar(1)
// mode(1) vfo/memory(1) tone mode(1) fixed(2) shift(1).
func parseInfo(reply []byte, prefix string) (info, error) {
	if len(reply) != infoLen {
		return info{}, rig.Protocolf("%s reply has %d bytes, want %d: %q", prefix, len(reply), infoLen, reply)
	}
	b, err := body(reply, prefix)
	if err != nil {
		return info{}, err
	}
	hz, err := strconv.ParseInt(b[3:12], 10, 64)
	if err != nil {
		return info{}, rig.Protocolf("bad frequency in %q", reply)
	}
	clar, err := strconv.Atoi(b[12:17])
	if err != nil {
		return info{}, rig.Protocolf("bad clarifier in %q", reply)
	}
	return info{
		freq:      hz,
		clarifier: clar,
		rxClar:    b[17] == '1',
		txClar:    b[18] == '1',
		mode:      b[19],
		tone:      b[21],
	}, nil
}

// dialect carries the per-model differences of the newcat command set.
type dialect struct {
	model     int
	name      string
	id        string
	rx, tx    []rig.FreqRange
	power     level
	clarifier func(rit bool, hz int) rig.Command
	postWrite time.Duration
	baudRate  int
	bandCodes int
}

// level describes one numeric item. Values are raw/scale unless a
// calibration table converts the raw reading.
type level struct {
	get    string
	set    string
	skip   int
	digits int
	scale  float64
	cal    rig.CalTable
	bounds []rig.Bound
}

func (l level) item() rig.Item {
	if l.set == "" {
		return rig.Item{Access: rig.AccessGet, NoCache: true}
	}
	return rig.Item{Access: rig.AccessGetSet, Bounds: l.bounds}
}

func (l level) encode(req rig.Request) rig.Command {
	if req.Dir == rig.Get {
		return query(l.get)
	}
	raw := int(math.Round(req.Value.Float * l.scale))
	return command("%s%0*d", l.set, l.digits, raw)
}

func (l level) decode(reply []byte) (rig.Value, error) {
	b, err := body(reply, l.get)
	if err != nil {
		return rig.Value{}, err
	}
	if len(b) != l.skip+l.digits {
		return rig.Value{}, rig.Protocolf("%s reply %q has wrong length", l.get, reply)
	}
	raw, err := strconv.Atoi(b[l.skip:])
	if err != nil {
		return rig.Value{}, rig.Protocolf("bad level in %q", reply)
	}
	if l.cal != nil {
		return rig.Value{Float: l.cal.Interpolate(raw)}, nil
	}
	return rig.Value{Float: float64(raw) / l.scale}, nil
}

func unit(min, step float64, policy rig.Policy) []rig.Bound {
	return []rig.Bound{{Field: rig.FieldFloat, Ranges: []rig.Range{{Min: min, Max: 1, Step: step, Policy: policy}}}}
}

var commonLevels = map[string]level{
	rig.LevelAF:      {get: "AG0", set: "AG0", digits: 3, scale: 255, bounds: unit(0, 0, rig.Clamp)},
	rig.LevelRF:      {get: "RG0", set: "RG0", digits: 3, scale: 255, bounds: unit(0, 0, rig.Clamp)},
	rig.LevelSQL:     {get: "SQ0", set: "SQ0", digits: 3, scale: 100, bounds: unit(0, 0.01, rig.Clamp)},
	rig.LevelMicGain: {get: "MG", set: "MG", digits: 3, scale: 100, bounds: unit(0, 0.01, rig.Clamp)},
	rig.LevelKeySpeed: {get: "KS", set: "KS", digits: 3, scale: 1, bounds: []rig.Bound{{Field: rig.FieldFloat,
		Ranges: []rig.Range{{Min: 4, Max: 60, Step: 1}}}}},
	rig.LevelStrength:     {get: "SM0", digits: 3, scale: 1, cal: rig.DefaultStrengthCal},
	rig.LevelSWR:          {get: "RM6", digits: 3, scale: 1, cal: rig.DefaultSWRCal},
	rig.LevelALC:          {get: "RM4", digits: 3, scale: 255},
	rig.LevelRFPowerMeter: {get: "RM5", digits: 3, scale: 255},
}

var commonFuncs = map[string]string{
	rig.FuncNB:   "NB0",
	rig.FuncNR:   "NR0",
	rig.FuncComp: "PR0",
	rig.FuncVOX:  "VX",
	rig.FuncLock: "LK",
	rig.FuncMon:  "ML0",
}

var vfoOps = map[string]string{
	rig.VFOOpCopy:     "AB",
	rig.VFOOpExchange: "SV",
	rig.VFOOpUp:       "UP",
	rig.VFOOpDown:     "DN",
	rig.VFOOpBandUp:   "BU0",
	rig.VFOOpBandDown: "BD0",
	rig.VFOOpTune:     "AC002",
}

func (d *dialect) levels() map[string]level {
	out := make(map[string]level, len(commonLevels)+1)
	for k, v := range commonLevels {
		out[k] = v
	}
	out[rig.LevelRFPower] = d.power
	return out
}

func freqHandler(ranges []rig.FreqRange) *rig.Handler {
	return &rig.Handler{
		Access: rig.AccessGetSet,
		Bounds: []rig.Bound{rig.FreqBound(1, rig.Reject, ranges...)},
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			l, err := letter(s, req.VFO)
			if err != nil {
				return rig.Command{}, err
			}
			if req.Dir == rig.Set {
				return command("F%c%09d", l, req.Value.Freq), nil
			}
			return query("F" + string(l)), nil
		},
		Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
			l, err := letter(s, req.VFO)
			if err != nil {
				return rig.Value{}, err
			}
			b, err := body(reply, "F"+string(l))
			if err != nil {
				return rig.Value{}, err
			}
			hz, err := strconv.ParseInt(b, 10, 64)
			if err != nil {
				return rig.Value{}, rig.Protocolf("bad frequency in %q", reply)
			}
			return rig.Value{Freq: hz}, nil
		},
	}
}

// MD0 addresses the operating VFO only. The passband always follows the
// mode, so any requested width clamps to zero.
var modeHandler = &rig.Handler{
	Access: rig.AccessGetSet,
	Bounds: []rig.Bound{{Field: rig.FieldWidth, Ranges: []rig.Range{{Min: 0, Max: 0, Policy: rig.Clamp}}}},
	Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
		l, err := letter(s, req.VFO)
		if err != nil {
			return rig.Command{}, err
		}
		if cur, _ := letter(s, rig.VFOCurrent); l != cur {
			return rig.Command{}, fmt.Errorf("%w: mode of the inactive VFO", rig.ErrUnsupported)
		}
		if req.Dir == rig.Get {
			return query("MD0"), nil
		}
		c, err := modeCode(req.Value.Mode)
		if err != nil {
			return rig.Command{}, err
		}
		return command("MD0%c", c), nil
	},
	Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
		b, err := body(reply, "MD0")
		if err != nil || len(b) != 1 {
			return rig.Value{}, rig.Protocolf("bad mode reply %q", reply)
		}
		return modeOf(b[0])
	},
}

var vfoHandler = &rig.Handler{
	Access: rig.AccessGetSet,
	Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
		if req.Dir == rig.Get {
			return query("VS"), nil
		}
		l, err := letter(s, req.Value.VFO)
		if err != nil {
			return rig.Command{}, err
		}
		return command("VS%d", l-'A'), nil
	},
	Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
		n, err := number(reply, "VS")
		if err != nil {
			return rig.Value{}, err
		}
		return rig.Value{VFO: vfoOf(byte('0' + n))}, nil
	},
}

var pttHandler = &rig.Handler{
	Access: rig.AccessGetSet,
	Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
		if req.Dir == rig.Get {
			return query("TX"), nil
		}
		if req.Value.Bool {
			return command("TX1"), nil
		}
		return command("TX0"), nil
	},
	Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
		n, err := number(reply, "TX")
		return rig.Value{Bool: n != 0}, err
	},
}

// FT selects the transmitting VFO; split is on when it differs from the
// operating VFO.
var splitVFOHandler = &rig.Handler{
	Access: rig.AccessGetSet,
	Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
		if req.Dir == rig.Get {
			return query("FT"), nil
		}
		cur, _ := letter(s, rig.VFOCurrent)
		tx := cur
		if req.Value.Bool {
			tx = 'A' + 'B' - cur
			if req.Value.VFO != rig.VFOCurrent && req.Value.VFO != rig.VFONone {
				l, err := letter(s, req.Value.VFO)
				if err != nil {
					return rig.Command{}, err
				}
				tx = l
			}
		}
		return command("FT%d", tx-'A'), nil
	},
	Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
		n, err := number(reply, "FT")
		if err != nil {
			return rig.Value{}, err
		}
		cur, _ := letter(s, rig.VFOCurrent)
		tx := vfoOf(byte('0' + n))
		return rig.Value{Bool: tx != vfoOf(cur), VFO: tx}, nil
	},
}

// splitFreq tunes the transmit VFO, turning split on first when needed.
func splitFreq(ctx context.Context, s *rig.Session, req rig.Request) (rig.Value, error) {
	split, tx, err := s.GetSplitVFO(ctx, rig.VFOCurrent)
	if err != nil {
		return rig.Value{}, err
	}
	if req.Dir == rig.Get {
		if !split {
			return rig.Value{}, nil
		}
		hz, err := s.GetFreq(ctx, tx)
		return rig.Value{Freq: hz}, err
	}
	if !split {
		if err := s.SetSplitVFO(ctx, rig.VFOCurrent, true, rig.VFOB); err != nil {
			return rig.Value{}, err
		}
		tx = rig.VFOB
	}
	return req.Value, s.SetFreq(ctx, tx, req.Value.Freq)
}

// splitMode reads the transmit mode from the opposite band info. MD0 only
// reaches VFO A, so a set goes through A and copies it across with AB,
// restoring VFO B's frequency and VFO A's mode afterwards.
func splitMode(ctx context.Context, s *rig.Session, req rig.Request) (rig.Value, error) {
	if req.Dir == rig.Get {
		split, _, err := s.GetSplitVFO(ctx, rig.VFOCurrent)
		if err != nil || !split {
			return rig.Value{}, err
		}
		reply, err := s.Transact(ctx, query("OI"))
		if err != nil {
			return rig.Value{}, err
		}
		inf, err := parseInfo(reply, "OI")
		if err != nil {
			return rig.Value{}, err
		}
		return modeOf(inf.mode)
	}

	hzB, err := s.GetFreq(ctx, rig.VFOB)
	if err != nil {
		return rig.Value{}, err
	}
	modeA, _, err := s.GetMode(ctx, rig.VFOA)
	if err != nil {
		return rig.Value{}, err
	}
	var steps []func() error
	if modeA != req.Value.Mode {
		steps = append(steps, func() error { return s.SetMode(ctx, rig.VFOA, req.Value.Mode, 0) })
	}
	steps = append(steps,
		func() error { return s.VFOOp(ctx, rig.VFOA, rig.VFOOpCopy) },
		func() error { return s.SetFreq(ctx, rig.VFOB, hzB) },
	)
	if modeA != req.Value.Mode {
		steps = append(steps, func() error { return s.SetMode(ctx, rig.VFOA, modeA, 0) })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return rig.Value{}, err
		}
	}
	return req.Value, nil
}

func levelHandler(table map[string]level) *rig.Handler {
	items := make(map[string]rig.Item, len(table))
	for name, l := range table {
		items[name] = l.item()
	}
	return &rig.Handler{
		Items: items,
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			return table[req.Item].encode(req), nil
		},
		Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
			return table[req.Item].decode(reply)
		},
	}
}

func funcHandler(table map[string]string) *rig.Handler {
	items := make(map[string]rig.Item, len(table))
	for name := range table {
		items[name] = rig.Item{Access: rig.AccessGetSet}
	}
	return &rig.Handler{
		Items: items,
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			if req.Dir == rig.Get {
				return query(table[req.Item]), nil
			}
			on := 0
			if req.Value.Bool {
				on = 1
			}
			return command("%s%d", table[req.Item], on), nil
		},
		Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
			n, err := number(reply, table[req.Item])
			return rig.Value{Bool: n != 0}, err
		},
	}
}

// BS selects a band by its code; the rig cannot report it.
func parmHandler(bandCodes int) *rig.Handler {
	return &rig.Handler{
		Items: map[string]rig.Item{
			rig.ParmBandSelect: {Access: rig.AccessSet, Bounds: []rig.Bound{{Field: rig.FieldInt,
				Ranges: []rig.Range{{Min: 0, Max: float64(bandCodes - 1), Step: 1}}}}},
		},
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			return command("BS%02d", req.Value.Int), nil
		},
	}
}

// The clarifier offset and which of RX/TX it applies to come from IF.
func clarifierHandler(d *dialect, rit bool) *rig.Handler {
	return &rig.Handler{
		Access: rig.AccessGetSet,
		Bounds: []rig.Bound{{Field: rig.FieldInt, Ranges: []rig.Range{{Min: -9999, Max: 9999, Step: 1}}}},
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			if req.Dir == rig.Get {
				return query("IF"), nil
			}
			return d.clarifier(rit, req.Value.Int), nil
		},
		Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
			inf, err := parseInfo(reply, "IF")
			if err != nil {
				return rig.Value{}, err
			}
			if (rit && inf.rxClar) || (!rit && inf.txClar) {
				return rig.Value{Int: inf.clarifier}, nil
			}
			return rig.Value{Int: 0}, nil
		},
	}
}

// separateClarifier uses the RU/RD offset commands and RT/XT switches.
func separateClarifier(rit bool, hz int) rig.Command {
	sw := "XT"
	if rit {
		sw = "RT"
	}
	switch {
	case hz == 0:
		return command("RC;%s0", sw)
	case hz > 0:
		return command("RC;RU%04d;%s1", hz, sw)
	default:
		return command("RC;RD%04d;%s1", -hz, sw)
	}
}

// signedClarifier uses the single RC/TC command with a signed offset.
func signedClarifier(rit bool, hz int) rig.Command {
	cmd := "TC"
	if rit {
		cmd = "RC"
	}
	switch {
	case hz == 0:
		return command("%s0", cmd)
	case hz > 0:
		return command("%s+%04d", cmd, hz)
	default:
		return command("%s-%04d", cmd, -hz)
	}
}

// CN00 selects the CTCSS tone by list index, CT0 sets the tone mode.
func toneHandler() *rig.Handler {
	return &rig.Handler{
		Access: rig.AccessGetSet,
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			if req.Dir == rig.Get {
				return query("CN00"), nil
			}
			if req.Value.Int == 0 {
				return command("CT00"), nil
			}
			i := rig.ToneIndex(s.Caps().CTCSSList, req.Value.Int)
			return command("CN00%03d;CT02", i), nil
		},
		Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
			n, err := number(reply, "CN00")
			if err != nil {
				return rig.Value{}, err
			}
			list := s.Caps().CTCSSList
			if n < 0 || n >= len(list) {
				return rig.Value{}, rig.Protocolf("tone index %d out of range", n)
			}
			return rig.Value{Int: list[n]}, nil
		},
	}
}

var powerHandler = &rig.Handler{
	Access: rig.AccessGetSet,
	Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
		if req.Dir == rig.Get {
			return query("PS"), nil
		}
		if req.Value.Int == rig.PowerOn {
			return command("PS1"), nil
		}
		return command("PS0"), nil
	},
	Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
		n, err := number(reply, "PS")
		if err != nil {
			return rig.Value{}, err
		}
		if n == 1 {
			return rig.Value{Int: rig.PowerOn}, nil
		}
		return rig.Value{Int: rig.PowerOff}, nil
	},
}

func vfoOpHandler() *rig.Handler {
	items := make(map[string]rig.Item, len(vfoOps))
	for name := range vfoOps {
		items[name] = rig.Item{Access: rig.AccessSet}
	}
	return &rig.Handler{
		Items: items,
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			return command("%s", vfoOps[req.Item]), nil
		},
	}
}

var infoHandler = &rig.Handler{
	Access: rig.AccessGet,
	Static: true,
	Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
		return query("ID"), nil
	},
	Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
		b, err := body(reply, "ID")
		return rig.Value{Str: b}, err
	},
}

// handshake checks that something newcat-speaking answers ID;.
func (d *dialect) handshake(ctx context.Context, s *rig.Session) error {
	id, err := s.GetInfo(ctx)
	if err != nil {
		return fmt.Errorf("identifying rig: %w", err)
	}
	if id != d.id {
		s.Logger().Warnf("yaesu", "Rig identifies as %s, expected %s for %s", id, d.id, d.name)
	}
	return nil
}

func (d *dialect) caps() *rig.Caps {
	return &rig.Caps{
		Model:        d.model,
		Name:         d.name,
		Manufacturer: "Yaesu",
		Version:      "1.0",
		Status:       rig.StatusBeta,
		Type:         rig.TypeTransceiver,
		Port: transport.Config{
			BaudRate:  d.baudRate,
			DataBits:  8,
			StopBits:  2,
			Parity:    transport.ParityNone,
			Handshake: transport.HandshakeNone,
		},
		PostWriteDelay: d.postWrite,
		Timeout:        2000 * time.Millisecond,
		Retry:          3,
		RXRanges:       d.rx,
		TXRanges:       d.tx,
		Modes:          modeList(),
		CTCSSList:      rig.CommonCTCSS,
		Open:           d.handshake,
		Ops: map[rig.Op]*rig.Handler{
			rig.OpFreq:      freqHandler(d.rx),
			rig.OpMode:      modeHandler,
			rig.OpVFO:       vfoHandler,
			rig.OpPTT:       pttHandler,
			rig.OpSplitVFO:  splitVFOHandler,
			rig.OpSplitFreq: {Access: rig.AccessGetSet, Bounds: []rig.Bound{rig.FreqBound(1, rig.Reject, d.tx...)}, Do: splitFreq},
			rig.OpSplitMode: {Access: rig.AccessGetSet, Do: splitMode},
			rig.OpLevel:     levelHandler(d.levels()),
			rig.OpFunc:      funcHandler(commonFuncs),
			rig.OpParm:      parmHandler(d.bandCodes),
			rig.OpRIT:       clarifierHandler(d, true),
			rig.OpXIT:       clarifierHandler(d, false),
			rig.OpCTCSSTone: toneHandler(),
			rig.OpPowerStat: powerHandler,
			rig.OpVFOOp:     vfoOpHandler(),
			rig.OpInfo:      infoHandler,
		},
	}
}
