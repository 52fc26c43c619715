// Package icom implements the Icom CI-V binary protocol.
//
// A frame is FE FE <to> <from> <cmd> [sub] [data] FD. Sets are answered
// with FB (ok) or FA (refused). On a shared CI-V bus every command is
// echoed back before the reply; the echo is discarded.
package icom

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dougsko/rigd/pkg/backends/bcd"
	"github.com/dougsko/rigd/pkg/rig"
	"github.com/dougsko/rigd/pkg/transport"
)

const (
	preamble   = 0xfe
	end        = 0xfd
	ack        = 0xfb
	nak        = 0xfa
	controller = 0xe0
)

// civ builds frames for one transceiver address.
type civ struct {
	addr byte
}

func (c civ) frame(body ...byte) []byte {
	f := make([]byte, 0, len(body)+5)
	f = append(f, preamble, preamble, c.addr, controller)
	f = append(f, body...)
	return append(f, end)
}

func (c civ) command(body ...byte) rig.Command {
	return rig.Command{
		Data:  c.frame(body...),
		Reply: &rig.Frame{Term: end, Max: 64, Echo: true, Skip: foreign, Validate: c.validate},
	}
}

// foreign matches well-formed frames addressed to another station, such
// as transceive broadcasts to 00.
func foreign(f []byte) bool {
	return len(f) >= 6 && f[0] == preamble && f[1] == preamble && f[2] != controller
}

func (c civ) validate(f []byte) error {
	if len(f) < 6 || f[0] != preamble || f[1] != preamble {
		return rig.Protocolf("malformed frame % x", f)
	}
	if f[2] != controller || f[3] != c.addr {
		return rig.Protocolf("frame from %#02x to %#02x is not for us", f[3], f[2])
	}
	if f[4] == nak {
		return fmt.Errorf("%w: rig answered NAK", rig.ErrRejected)
	}
	return nil
}

func checkAck(reply []byte) error {
	if len(reply) != 6 || reply[4] != ack {
		return rig.Protocolf("expected ACK, got % x", reply)
	}
	return nil
}

// payload returns the data following the command bytes in a reply.
func payload(reply []byte, cmd ...byte) ([]byte, error) {
	if len(reply) < 6 {
		return nil, rig.Protocolf("short frame % x", reply)
	}
	body := reply[4 : len(reply)-1]
	if !bytes.HasPrefix(body, cmd) {
		return nil, rig.Protocolf("reply % x does not answer % x", reply, cmd)
	}
	return body[len(cmd):], nil
}

// selector picks 00 for the operating VFO and 01 for the other one, as
// used by the 0x25 and 0x26 commands.
func selector(s *rig.Session, vfo rig.VFO) (byte, error) {
	switch vfo {
	case rig.VFOCurrent, rig.VFORX, rig.VFOTX:
		return 0x00, nil
	case rig.VFOA, rig.VFOMain, rig.VFOB, rig.VFOSub:
	default:
		return 0, rig.Invalidf("%s has no CI-V equivalent", vfo)
	}
	cur := s.CurrentVFO()
	if cur == rig.VFOCurrent {
		cur = rig.VFOA
	}
	if normalize(vfo) == normalize(cur) {
		return 0x00, nil
	}
	return 0x01, nil
}

func normalize(v rig.VFO) rig.VFO {
	switch v {
	case rig.VFOMain:
		return rig.VFOA
	case rig.VFOSub:
		return rig.VFOB
	}
	return v
}

// other is the VFO that is not operating.
func other(s *rig.Session) rig.VFO {
	if normalize(s.CurrentVFO()) == rig.VFOB {
		return rig.VFOA
	}
	return rig.VFOB
}

func (c civ) freqHandler(ranges []rig.FreqRange) *rig.Handler {
	return &rig.Handler{
		Access: rig.AccessGetSet,
		Bounds: []rig.Bound{rig.FreqBound(1, rig.Reject, ranges...)},
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			sel, err := selector(s, req.VFO)
			if err != nil {
				return rig.Command{}, err
			}
			if req.Dir == rig.Get {
				return c.command(0x25, sel), nil
			}
			return c.command(append([]byte{0x25, sel}, bcd.ToLE(uint64(req.Value.Freq), 10)...)...), nil
		},
		Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
			sel, _ := selector(s, req.VFO)
			data, err := payload(reply, 0x25, sel)
			if err != nil {
				return rig.Value{}, err
			}
			if len(data) != 5 {
				return rig.Value{}, rig.Protocolf("frequency has %d bytes", len(data))
			}
			hz, err := bcd.FromLE(data)
			if err != nil {
				return rig.Value{}, rig.Protocolf("frequency: %v", err)
			}
			return rig.Value{Freq: int64(hz)}, nil
		},
		Ack: checkAck,
	}
}

var modes = []struct {
	code byte
	data bool
	mode rig.Mode
	// passband of FIL1, FIL2 and FIL3
	widths [3]int
}{
	{0x00, false, rig.ModeLSB, [3]int{3000, 2400, 1800}},
	{0x01, false, rig.ModeUSB, [3]int{3000, 2400, 1800}},
	{0x02, false, rig.ModeAM, [3]int{9000, 6000, 3000}},
	{0x03, false, rig.ModeCW, [3]int{1200, 500, 250}},
	{0x04, false, rig.ModeRTTY, [3]int{2400, 500, 250}},
	{0x05, false, rig.ModeFM, [3]int{15000, 10000, 7000}},
	{0x07, false, rig.ModeCWR, [3]int{1200, 500, 250}},
	{0x08, false, rig.ModeRTTYR, [3]int{2400, 500, 250}},
	{0x00, true, rig.ModePKTLSB, [3]int{3000, 2400, 1800}},
	{0x01, true, rig.ModePKTUSB, [3]int{3000, 2400, 1800}},
	{0x05, true, rig.ModePKTFM, [3]int{15000, 10000, 7000}},
}

func modeList() []rig.Mode {
	out := make([]rig.Mode, 0, len(modes))
	for _, m := range modes {
		out = append(out, m.mode)
	}
	return out
}

// filterFor picks the filter whose passband is closest to width. Zero
// selects FIL2, the normal passband.
func filterFor(widths [3]int, width int) byte {
	if width <= 0 {
		return 2
	}
	best, diff := 0, math.MaxInt
	for i, w := range widths {
		d := w - width
		if d < 0 {
			d = -d
		}
		if d < diff {
			best, diff = i, d
		}
	}
	return byte(best + 1)
}

func (c civ) modeHandler() *rig.Handler {
	return &rig.Handler{
		Access: rig.AccessGetSet,
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			sel, err := selector(s, req.VFO)
			if err != nil {
				return rig.Command{}, err
			}
			if req.Dir == rig.Get {
				return c.command(0x26, sel), nil
			}
			for _, m := range modes {
				if m.mode == req.Value.Mode {
					var data byte
					if m.data {
						data = 1
					}
					return c.command(0x26, sel, m.code, data, filterFor(m.widths, req.Value.Width)), nil
				}
			}
			return rig.Command{}, rig.Invalidf("mode %s not supported", req.Value.Mode)
		},
		Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
			sel, _ := selector(s, req.VFO)
			data, err := payload(reply, 0x26, sel)
			if err != nil {
				return rig.Value{}, err
			}
			if len(data) != 3 || data[2] < 1 || data[2] > 3 {
				return rig.Value{}, rig.Protocolf("bad mode data % x", data)
			}
			for _, m := range modes {
				if m.code == data[0] && m.data == (data[1] != 0) {
					return rig.Value{Mode: m.mode, Width: m.widths[data[2]-1]}, nil
				}
			}
			return rig.Value{}, rig.Protocolf("unknown mode %#02x", data[0])
		},
		Ack: checkAck,
	}
}

// The operating VFO can be selected but not read back.
func (c civ) vfoHandler() *rig.Handler {
	return &rig.Handler{
		Access: rig.AccessSet,
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			switch normalize(req.Value.VFO) {
			case rig.VFOA:
				return c.command(0x07, 0x00), nil
			case rig.VFOB:
				return c.command(0x07, 0x01), nil
			}
			return rig.Command{}, rig.Invalidf("cannot select %s", req.Value.VFO)
		},
		Ack: checkAck,
	}
}

// switchHandler covers on/off settings read and written as cmd sub 00|01.
func (c civ) switchHandler(cmd, sub byte) *rig.Handler {
	return &rig.Handler{
		Access: rig.AccessGetSet,
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			if req.Dir == rig.Get {
				return c.command(cmd, sub), nil
			}
			return c.command(cmd, sub, onOff(req.Value.Bool)), nil
		},
		Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
			data, err := payload(reply, cmd, sub)
			if err != nil || len(data) != 1 {
				return rig.Value{}, rig.Protocolf("bad switch reply % x", reply)
			}
			return rig.Value{Bool: data[0] != 0}, nil
		},
		Ack: checkAck,
	}
}

func onOff(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Split is 0F 00|01; the transmitter uses the other VFO while it is on.
func (c civ) splitHandler() *rig.Handler {
	return &rig.Handler{
		Access: rig.AccessGetSet,
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			if req.Dir == rig.Get {
				return c.command(0x0f), nil
			}
			return c.command(0x0f, onOff(req.Value.Bool)), nil
		},
		Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
			data, err := payload(reply, 0x0f)
			if err != nil || len(data) != 1 {
				return rig.Value{}, rig.Protocolf("bad split reply % x", reply)
			}
			if data[0] == 0 {
				return rig.Value{Bool: false, VFO: normalize(s.CurrentVFO())}, nil
			}
			return rig.Value{Bool: true, VFO: other(s)}, nil
		},
		Ack: checkAck,
	}
}

func splitFreq(ctx context.Context, s *rig.Session, req rig.Request) (rig.Value, error) {
	split, _, err := s.GetSplitVFO(ctx, rig.VFOCurrent)
	if err != nil {
		return rig.Value{}, err
	}
	if req.Dir == rig.Get {
		if !split {
			return rig.Value{}, nil
		}
		hz, err := s.GetFreq(ctx, other(s))
		return rig.Value{Freq: hz}, err
	}
	if !split {
		if err := s.SetSplitVFO(ctx, rig.VFOCurrent, true, other(s)); err != nil {
			return rig.Value{}, err
		}
	}
	return req.Value, s.SetFreq(ctx, other(s), req.Value.Freq)
}

func splitMode(ctx context.Context, s *rig.Session, req rig.Request) (rig.Value, error) {
	if req.Dir == rig.Get {
		split, _, err := s.GetSplitVFO(ctx, rig.VFOCurrent)
		if err != nil || !split {
			return rig.Value{}, err
		}
		mode, width, err := s.GetMode(ctx, other(s))
		return rig.Value{Mode: mode, Width: width}, err
	}
	return req.Value, s.SetMode(ctx, other(s), req.Value.Mode, req.Value.Width)
}

// level is a 14xx or 15xx reading scaled 0..255 as four BCD digits.
type level struct {
	cmd, sub byte
	cal      rig.CalTable
	min      float64
}

var levels = map[string]level{
	rig.LevelAF:           {cmd: 0x14, sub: 0x01},
	rig.LevelRF:           {cmd: 0x14, sub: 0x02},
	rig.LevelSQL:          {cmd: 0x14, sub: 0x03},
	rig.LevelRFPower:      {cmd: 0x14, sub: 0x0a},
	rig.LevelMicGain:      {cmd: 0x14, sub: 0x0b},
	rig.LevelStrength:     {cmd: 0x15, sub: 0x02, cal: rig.DefaultStrengthCal},
	rig.LevelRFPowerMeter: {cmd: 0x15, sub: 0x11},
	rig.LevelSWR:          {cmd: 0x15, sub: 0x12, cal: rig.DefaultSWRCal},
	rig.LevelALC:          {cmd: 0x15, sub: 0x13},
}

func (c civ) levelHandler() *rig.Handler {
	items := make(map[string]rig.Item, len(levels))
	for name, l := range levels {
		if l.cmd == 0x15 {
			items[name] = rig.Item{Access: rig.AccessGet, NoCache: true}
			continue
		}
		items[name] = rig.Item{Access: rig.AccessGetSet, Bounds: []rig.Bound{{Field: rig.FieldFloat,
			Ranges: []rig.Range{{Min: 0, Max: 1, Policy: rig.Clamp}}}}}
	}
	return &rig.Handler{
		Items: items,
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			l := levels[req.Item]
			if req.Dir == rig.Get {
				return c.command(l.cmd, l.sub), nil
			}
			raw := uint64(math.Round(req.Value.Float * 255))
			return c.command(append([]byte{l.cmd, l.sub}, bcd.ToBE(raw, 4)...)...), nil
		},
		Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
			l := levels[req.Item]
			data, err := payload(reply, l.cmd, l.sub)
			if err != nil {
				return rig.Value{}, err
			}
			if len(data) != 2 {
				return rig.Value{}, rig.Protocolf("level has %d bytes", len(data))
			}
			raw, err := bcd.FromBE(data)
			if err != nil {
				return rig.Value{}, rig.Protocolf("level: %v", err)
			}
			if l.cal != nil {
				return rig.Value{Float: l.cal.Interpolate(int(raw))}, nil
			}
			return rig.Value{Float: float64(raw) / 255}, nil
		},
		Ack: checkAck,
	}
}

var funcs = map[string][2]byte{
	rig.FuncNB:    {0x16, 0x22},
	rig.FuncNR:    {0x16, 0x40},
	rig.FuncComp:  {0x16, 0x44},
	rig.FuncMon:   {0x16, 0x45},
	rig.FuncVOX:   {0x16, 0x46},
	rig.FuncLock:  {0x16, 0x50},
	rig.FuncTuner: {0x1c, 0x01},
}

func (c civ) funcHandler() *rig.Handler {
	items := make(map[string]rig.Item, len(funcs))
	switches := make(map[string]*rig.Handler, len(funcs))
	for name, f := range funcs {
		items[name] = rig.Item{Access: rig.AccessGetSet}
		switches[name] = c.switchHandler(f[0], f[1])
	}
	return &rig.Handler{
		Items: items,
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			return switches[req.Item].Encode(s, req)
		},
		Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
			return switches[req.Item].Decode(s, req, reply)
		},
		Ack: checkAck,
	}
}

// RIT is an offset (21 00, two BCD bytes and a sign byte) plus an on/off
// switch (21 01). A get reports zero while RIT is off.
func (c civ) ritHandler() *rig.Handler {
	return &rig.Handler{
		Access: rig.AccessGetSet,
		Bounds: []rig.Bound{{Field: rig.FieldInt, Ranges: []rig.Range{{Min: -9999, Max: 9999, Step: 1}}}},
		Do: func(ctx context.Context, s *rig.Session, req rig.Request) (rig.Value, error) {
			if req.Dir == rig.Set {
				hz := req.Value.Int
				var sign byte
				if hz < 0 {
					sign, hz = 1, -hz
				}
				offset := append([]byte{0x21, 0x00}, bcd.ToLE(uint64(hz), 4)...)
				if err := c.transactAck(ctx, s, append(offset, sign)...); err != nil {
					return rig.Value{}, err
				}
				return req.Value, c.transactAck(ctx, s, 0x21, 0x01, onOff(req.Value.Int != 0))
			}

			reply, err := s.Transact(ctx, c.command(0x21, 0x01))
			if err != nil {
				return rig.Value{}, err
			}
			on, err := payload(reply, 0x21, 0x01)
			if err != nil || len(on) != 1 {
				return rig.Value{}, rig.Protocolf("bad RIT switch reply % x", reply)
			}
			if on[0] == 0 {
				return rig.Value{}, nil
			}
			reply, err = s.Transact(ctx, c.command(0x21, 0x00))
			if err != nil {
				return rig.Value{}, err
			}
			data, err := payload(reply, 0x21, 0x00)
			if err != nil || len(data) != 3 {
				return rig.Value{}, rig.Protocolf("bad RIT reply % x", reply)
			}
			hz, err := bcd.FromLE(data[:2])
			if err != nil {
				return rig.Value{}, rig.Protocolf("RIT offset: %v", err)
			}
			if data[2] == 1 {
				return rig.Value{Int: -int(hz)}, nil
			}
			return rig.Value{Int: int(hz)}, nil
		},
	}
}

func (c civ) transactAck(ctx context.Context, s *rig.Session, body ...byte) error {
	reply, err := s.Transact(ctx, c.command(body...))
	if err != nil {
		return err
	}
	return checkAck(reply)
}

// CTCSS encoder: 1B 00 holds the tone as six BCD digits of tenths of Hz,
// 16 42 switches the encoder.
func (c civ) toneHandler() *rig.Handler {
	return &rig.Handler{
		Access: rig.AccessGetSet,
		Do: func(ctx context.Context, s *rig.Session, req rig.Request) (rig.Value, error) {
			if req.Dir == rig.Set {
				if req.Value.Int == 0 {
					return req.Value, c.transactAck(ctx, s, 0x16, 0x42, 0x00)
				}
				tone := append([]byte{0x1b, 0x00}, bcd.ToBE(uint64(req.Value.Int), 6)...)
				if err := c.transactAck(ctx, s, tone...); err != nil {
					return rig.Value{}, err
				}
				return req.Value, c.transactAck(ctx, s, 0x16, 0x42, 0x01)
			}

			encoder := c.switchHandler(0x16, 0x42)
			reply, err := s.Transact(ctx, c.command(0x16, 0x42))
			if err != nil {
				return rig.Value{}, err
			}
			on, err := encoder.Decode(s, req, reply)
			if err != nil {
				return rig.Value{}, err
			}
			if !on.Bool {
				return rig.Value{}, nil
			}
			reply, err = s.Transact(ctx, c.command(0x1b, 0x00))
			if err != nil {
				return rig.Value{}, err
			}
			data, err := payload(reply, 0x1b, 0x00)
			if err != nil || len(data) != 3 {
				return rig.Value{}, rig.Protocolf("bad tone reply % x", reply)
			}
			tone, err := bcd.FromBE(data)
			if err != nil {
				return rig.Value{}, rig.Protocolf("tone: %v", err)
			}
			return rig.Value{Int: int(tone)}, nil
		},
	}
}

// Power on needs a run of preamble bytes to wake the CPU first.
func (c civ) powerHandler() *rig.Handler {
	return &rig.Handler{
		Access: rig.AccessSet,
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			if req.Value.Int == rig.PowerOn {
				cmd := c.command(0x18, 0x01)
				cmd.Data = append(bytes.Repeat([]byte{preamble}, 25), cmd.Data...)
				return cmd, nil
			}
			return c.command(0x18, 0x00), nil
		},
		Ack: checkAck,
	}
}

var vfoOps = map[string][]byte{
	rig.VFOOpCopy:     {0x07, 0xa0},
	rig.VFOOpExchange: {0x07, 0xb0},
	rig.VFOOpTune:     {0x1c, 0x01, 0x02},
}

func (c civ) vfoOpHandler() *rig.Handler {
	items := make(map[string]rig.Item, len(vfoOps))
	for name := range vfoOps {
		items[name] = rig.Item{Access: rig.AccessSet}
	}
	return &rig.Handler{
		Items: items,
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			return c.command(vfoOps[req.Item]...), nil
		},
		Ack: checkAck,
	}
}

// Reading the transceiver id (19 00) doubles as the open handshake.
func (c civ) infoHandler() *rig.Handler {
	return &rig.Handler{
		Access: rig.AccessGet,
		Static: true,
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			return c.command(0x19, 0x00), nil
		},
		Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
			data, err := payload(reply, 0x19, 0x00)
			if err != nil || len(data) != 1 {
				return rig.Value{}, rig.Protocolf("bad id reply % x", reply)
			}
			return rig.Value{Str: fmt.Sprintf("%02X", data[0])}, nil
		},
	}
}

type model struct {
	id     int
	name   string
	addr   byte
	rx, tx []rig.FreqRange
}

func (m model) caps() *rig.Caps {
	c := civ{addr: m.addr}
	return &rig.Caps{
		Model:        m.id,
		Name:         m.name,
		Manufacturer: "Icom",
		Version:      "1.0",
		Status:       rig.StatusBeta,
		Type:         rig.TypeTransceiver,
		Port: transport.Config{
			BaudRate:  19200,
			DataBits:  8,
			StopBits:  1,
			Parity:    transport.ParityNone,
			Handshake: transport.HandshakeNone,
		},
		Timeout:   time.Second,
		Retry:     3,
		RXRanges:  m.rx,
		TXRanges:  m.tx,
		Modes:     modeList(),
		CTCSSList: rig.CommonCTCSS,
		Open: func(ctx context.Context, s *rig.Session) error {
			id, err := s.GetInfo(ctx)
			if err != nil {
				return fmt.Errorf("reading transceiver id: %w", err)
			}
			s.Logger().Debugf("icom", "Transceiver id %s", id)
			return nil
		},
		Ops: map[rig.Op]*rig.Handler{
			rig.OpFreq:      c.freqHandler(m.rx),
			rig.OpMode:      c.modeHandler(),
			rig.OpVFO:       c.vfoHandler(),
			rig.OpPTT:       c.switchHandler(0x1c, 0x00),
			rig.OpSplitVFO:  c.splitHandler(),
			rig.OpSplitFreq: {Access: rig.AccessGetSet, Bounds: []rig.Bound{rig.FreqBound(1, rig.Reject, m.tx...)}, Do: splitFreq},
			rig.OpSplitMode: {Access: rig.AccessGetSet, Do: splitMode},
			rig.OpLevel:     c.levelHandler(),
			rig.OpFunc:      c.funcHandler(),
			rig.OpRIT:       c.ritHandler(),
			rig.OpCTCSSTone: c.toneHandler(),
			rig.OpPowerStat: c.powerHandler(),
			rig.OpVFOOp:     c.vfoOpHandler(),
			rig.OpInfo:      c.infoHandler(),
		},
	}
}
