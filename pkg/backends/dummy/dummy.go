// Package dummy registers in-memory simulated devices. They need no port
// and are what rigd runs against when no hardware is configured.
package dummy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dougsko/rigd/pkg/rig"
	"github.com/dougsko/rigd/pkg/transport"
)

// Model ids
const (
	Model        = 1
	RotatorModel = 2
)

// Band plan used by BANDSELECT and the band up/down VFO ops. Each band
// starts on its JS8 calling frequency.
var bands = []struct {
	name  string
	start int64
	low   int64
	high  int64
}{
	{"80m", 3578000, 3500000, 4000000},
	{"40m", 7078000, 7000000, 7300000},
	{"20m", 14078000, 14000000, 14350000},
	{"17m", 18104000, 18068000, 18168000},
	{"15m", 21078000, 21000000, 21450000},
	{"12m", 24922000, 24890000, 24990000},
	{"10m", 28078000, 28000000, 29700000},
	{"6m", 50318000, 50000000, 54000000},
	{"2m", 144178000, 144000000, 148000000},
}

func bandOf(hz int64) int {
	for i, b := range bands {
		if hz >= b.low && hz <= b.high {
			return i
		}
	}
	return -1
}

// tuning step for the UP and DOWN vfo ops
const tuneStep = 100

// radio is the simulated transceiver behind one session.
type radio struct {
	mu sync.Mutex

	vfo    rig.VFO
	freq   map[rig.VFO]int64
	mode   map[rig.VFO]rig.Mode
	width  map[rig.VFO]int
	ptt    bool
	split  bool
	txVFO  rig.VFO
	levels map[string]float64
	funcs  map[string]bool
	parms  map[string]rig.Value
	rit    int
	xit    int
	tone   int
	power  int
}

func newRadio() any {
	return &radio{
		vfo:   rig.VFOA,
		freq:  map[rig.VFO]int64{rig.VFOA: 14078000, rig.VFOB: 7078000},
		mode:  map[rig.VFO]rig.Mode{rig.VFOA: rig.ModePKTUSB, rig.VFOB: rig.ModeUSB},
		width: map[rig.VFO]int{rig.VFOA: 3000, rig.VFOB: 2400},
		txVFO: rig.VFOB,
		levels: map[string]float64{
			rig.LevelAF:       0.5,
			rig.LevelRF:       1,
			rig.LevelSQL:      0,
			rig.LevelRFPower:  0.5,
			rig.LevelMicGain:  0.5,
			rig.LevelKeySpeed: 20,
			rig.LevelPreamp:   0,
			rig.LevelAtt:      0,
		},
		funcs: map[string]bool{},
		parms: map[string]rig.Value{rig.ParmBacklight: {Float: 1}},
		power: rig.PowerOn,
	}
}

func state(s *rig.Session) *radio {
	return s.BackendState().(*radio)
}

// target maps a selector to VFOA or VFOB.
func (r *radio) target(vfo rig.VFO) rig.VFO {
	switch vfo {
	case rig.VFOB, rig.VFOSub:
		return rig.VFOB
	case rig.VFOA, rig.VFOMain:
		return rig.VFOA
	case rig.VFOTX:
		if r.split {
			return r.txVFO
		}
		return r.vfo
	default:
		return r.vfo
	}
}

func (r *radio) other(vfo rig.VFO) rig.VFO {
	if r.target(vfo) == rig.VFOA {
		return rig.VFOB
	}
	return rig.VFOA
}

// do wraps a state mutation in the radio lock.
func do(fn func(r *radio, req rig.Request) (rig.Value, error)) func(context.Context, *rig.Session, rig.Request) (rig.Value, error) {
	return func(ctx context.Context, s *rig.Session, req rig.Request) (rig.Value, error) {
		r := state(s)
		r.mu.Lock()
		defer r.mu.Unlock()
		return fn(r, req)
	}
}

func freqOp(r *radio, req rig.Request) (rig.Value, error) {
	v := r.target(req.VFO)
	if req.Dir == rig.Set {
		r.freq[v] = req.Value.Freq
		return req.Value, nil
	}
	return rig.Value{Freq: r.freq[v]}, nil
}

func modeOp(r *radio, req rig.Request) (rig.Value, error) {
	v := r.target(req.VFO)
	if req.Dir == rig.Set {
		r.mode[v] = req.Value.Mode
		if req.Value.Width > 0 {
			r.width[v] = req.Value.Width
		}
		return req.Value, nil
	}
	return rig.Value{Mode: r.mode[v], Width: r.width[v]}, nil
}

func vfoOp(r *radio, req rig.Request) (rig.Value, error) {
	if req.Dir == rig.Set {
		v := r.target(req.Value.VFO)
		if req.Value.VFO == rig.VFOCurrent || req.Value.VFO == rig.VFONone {
			return rig.Value{}, rig.Invalidf("cannot select %s", req.Value.VFO)
		}
		r.vfo = v
		return rig.Value{VFO: v}, nil
	}
	return rig.Value{VFO: r.vfo}, nil
}

func pttOp(r *radio, req rig.Request) (rig.Value, error) {
	if req.Dir == rig.Set {
		r.ptt = req.Value.Bool
		return req.Value, nil
	}
	return rig.Value{Bool: r.ptt}, nil
}

func splitVFOOp(r *radio, req rig.Request) (rig.Value, error) {
	if req.Dir == rig.Set {
		r.split = req.Value.Bool
		if req.Value.Bool {
			tx := req.Value.VFO
			if tx == rig.VFOCurrent || tx == rig.VFONone {
				tx = r.other(rig.VFOCurrent)
			}
			r.txVFO = r.target(tx)
		}
		return req.Value, nil
	}
	return rig.Value{Bool: r.split, VFO: r.txVFO}, nil
}

func splitFreqOp(r *radio, req rig.Request) (rig.Value, error) {
	if req.Dir == rig.Set {
		r.freq[r.txVFO] = req.Value.Freq
		return req.Value, nil
	}
	return rig.Value{Freq: r.freq[r.txVFO]}, nil
}

func splitModeOp(r *radio, req rig.Request) (rig.Value, error) {
	if req.Dir == rig.Set {
		r.mode[r.txVFO] = req.Value.Mode
		if req.Value.Width > 0 {
			r.width[r.txVFO] = req.Value.Width
		}
		return req.Value, nil
	}
	return rig.Value{Mode: r.mode[r.txVFO], Width: r.width[r.txVFO]}, nil
}

func levelOp(r *radio, req rig.Request) (rig.Value, error) {
	if req.Dir == rig.Set {
		r.levels[req.Item] = req.Value.Float
		return req.Value, nil
	}
	switch req.Item {
	case rig.LevelStrength:
		// S9 less 10 dB while receiving
		if r.ptt {
			return rig.Value{Float: 0}, nil
		}
		return rig.Value{Float: -10}, nil
	case rig.LevelSWR:
		if !r.ptt {
			return rig.Value{Float: 1}, nil
		}
		return rig.Value{Float: 1.2}, nil
	case rig.LevelALC:
		return rig.Value{Float: 0}, nil
	case rig.LevelRFPowerMeter:
		if !r.ptt {
			return rig.Value{Float: 0}, nil
		}
		return rig.Value{Float: r.levels[rig.LevelRFPower]}, nil
	}
	return rig.Value{Float: r.levels[req.Item]}, nil
}

func funcOp(r *radio, req rig.Request) (rig.Value, error) {
	if req.Dir == rig.Set {
		r.funcs[req.Item] = req.Value.Bool
		return req.Value, nil
	}
	return rig.Value{Bool: r.funcs[req.Item]}, nil
}

func parmOp(r *radio, req rig.Request) (rig.Value, error) {
	if req.Item == rig.ParmBandSelect {
		if req.Dir == rig.Set {
			b := req.Value.Int
			if b < 0 || b >= len(bands) {
				return rig.Value{}, fmt.Errorf("%w: band %d", rig.ErrOutOfRange, b)
			}
			r.freq[r.vfo] = bands[b].start
			return rig.Value{Int: b, Str: bands[b].name}, nil
		}
		b := bandOf(r.freq[r.vfo])
		if b < 0 {
			return rig.Value{Int: -1}, nil
		}
		return rig.Value{Int: b, Str: bands[b].name}, nil
	}
	if req.Dir == rig.Set {
		r.parms[req.Item] = req.Value
		return req.Value, nil
	}
	return r.parms[req.Item], nil
}

func ritOp(r *radio, req rig.Request) (rig.Value, error) {
	if req.Dir == rig.Set {
		r.rit = req.Value.Int
		return req.Value, nil
	}
	return rig.Value{Int: r.rit}, nil
}

func xitOp(r *radio, req rig.Request) (rig.Value, error) {
	if req.Dir == rig.Set {
		r.xit = req.Value.Int
		return req.Value, nil
	}
	return rig.Value{Int: r.xit}, nil
}

func toneOp(r *radio, req rig.Request) (rig.Value, error) {
	if req.Dir == rig.Set {
		r.tone = req.Value.Int
		return req.Value, nil
	}
	return rig.Value{Int: r.tone}, nil
}

func powerOp(r *radio, req rig.Request) (rig.Value, error) {
	if req.Dir == rig.Set {
		if req.Value.Int < rig.PowerOff || req.Value.Int > rig.PowerStandby {
			return rig.Value{}, fmt.Errorf("%w: power state %d", rig.ErrInvalidArgument, req.Value.Int)
		}
		r.power = req.Value.Int
		if r.power != rig.PowerOn {
			r.ptt = false
		}
		return req.Value, nil
	}
	return rig.Value{Int: r.power}, nil
}

func vfoOpOp(r *radio, req rig.Request) (rig.Value, error) {
	cur := r.target(req.VFO)
	other := r.other(req.VFO)
	switch req.Item {
	case rig.VFOOpCopy:
		r.freq[other], r.mode[other], r.width[other] = r.freq[cur], r.mode[cur], r.width[cur]
	case rig.VFOOpExchange:
		r.freq[cur], r.freq[other] = r.freq[other], r.freq[cur]
		r.mode[cur], r.mode[other] = r.mode[other], r.mode[cur]
		r.width[cur], r.width[other] = r.width[other], r.width[cur]
	case rig.VFOOpToggle:
		r.vfo = other
	case rig.VFOOpUp:
		r.freq[cur] += tuneStep
	case rig.VFOOpDown:
		r.freq[cur] -= tuneStep
	case rig.VFOOpBandUp, rig.VFOOpBandDown:
		b := bandOf(r.freq[cur])
		if req.Item == rig.VFOOpBandUp {
			b = (b + 1) % len(bands)
		} else if b <= 0 {
			b = len(bands) - 1
		} else {
			b--
		}
		r.freq[cur] = bands[b].start
	default:
		return rig.Value{}, fmt.Errorf("%w: vfo op %s", rig.ErrUnsupported, req.Item)
	}
	return rig.Value{}, nil
}

func info(r *radio, req rig.Request) (rig.Value, error) {
	return rig.Value{Str: "Dummy transceiver, simulated"}, nil
}

func caps() *rig.Caps {
	rx := []rig.FreqRange{{Min: 150000, Max: 1500000000}}
	tx := []rig.FreqRange{
		{Min: 1800000, Max: 54000000},
		{Min: 144000000, Max: 148000000},
		{Min: 420000000, Max: 450000000},
	}
	level := func(max, step float64) rig.Item {
		return rig.Item{Access: rig.AccessGetSet, Bounds: []rig.Bound{{Field: rig.FieldFloat,
			Ranges: []rig.Range{{Min: 0, Max: max, Step: step, Policy: rig.Clamp}}}}}
	}
	keyer := rig.Item{Access: rig.AccessGetSet, Bounds: []rig.Bound{{Field: rig.FieldFloat,
		Ranges: []rig.Range{{Min: 4, Max: 60, Step: 1}}}}}
	meter := rig.Item{Access: rig.AccessGet, NoCache: true}
	onOff := rig.Item{Access: rig.AccessGetSet}
	vfoOps := rig.Item{Access: rig.AccessSet}
	offset := []rig.Bound{{Field: rig.FieldInt, Ranges: []rig.Range{{Min: -9999, Max: 9999, Step: 1}}}}

	return &rig.Caps{
		Model:        Model,
		Name:         "Dummy",
		Manufacturer: "Hamlib",
		Version:      "1.0",
		Status:       rig.StatusStable,
		Type:         rig.TypeTransceiver,
		Port:         transport.Config{Type: transport.TypeNone},
		Timeout:      50 * time.Millisecond,
		Retry:        1,
		RXRanges:     rx,
		TXRanges:     tx,
		Modes: []rig.Mode{rig.ModeUSB, rig.ModeLSB, rig.ModeCW, rig.ModeCWR, rig.ModeAM, rig.ModeFM,
			rig.ModeWFM, rig.ModeRTTY, rig.ModeRTTYR, rig.ModePKTUSB, rig.ModePKTLSB, rig.ModePKTFM},
		CTCSSList: rig.CommonCTCSS,
		NewState:  newRadio,
		Ops: map[rig.Op]*rig.Handler{
			rig.OpFreq: {
				Access: rig.AccessGetSet,
				Bounds: []rig.Bound{rig.FreqBound(1, rig.Reject, rx...)},
				Do:     do(freqOp),
			},
			rig.OpMode:      {Access: rig.AccessGetSet, Do: do(modeOp)},
			rig.OpVFO:       {Access: rig.AccessGetSet, Do: do(vfoOp)},
			rig.OpPTT:       {Access: rig.AccessGetSet, Do: do(pttOp)},
			rig.OpSplitVFO:  {Access: rig.AccessGetSet, Do: do(splitVFOOp)},
			rig.OpSplitFreq: {Access: rig.AccessGetSet, Bounds: []rig.Bound{rig.FreqBound(1, rig.Reject, tx...)}, Do: do(splitFreqOp)},
			rig.OpSplitMode: {Access: rig.AccessGetSet, Do: do(splitModeOp)},
			rig.OpLevel: {
				Items: map[string]rig.Item{
					rig.LevelAF:           level(1, 0),
					rig.LevelRF:           level(1, 0),
					rig.LevelSQL:          level(1, 0),
					rig.LevelRFPower:      level(1, 0.01),
					rig.LevelMicGain:      level(1, 0),
					rig.LevelKeySpeed:     keyer,
					rig.LevelPreamp:       level(20, 10),
					rig.LevelAtt:          level(12, 6),
					rig.LevelStrength:     meter,
					rig.LevelSWR:          meter,
					rig.LevelALC:          meter,
					rig.LevelRFPowerMeter: meter,
				},
				Do: do(levelOp),
			},
			rig.OpFunc: {
				Items: map[string]rig.Item{
					rig.FuncNB: onOff, rig.FuncNR: onOff, rig.FuncComp: onOff, rig.FuncVOX: onOff,
					rig.FuncLock: onOff, rig.FuncMon: onOff, rig.FuncTuner: onOff,
				},
				Do: do(funcOp),
			},
			rig.OpParm: {
				Items: map[string]rig.Item{
					rig.ParmBandSelect: {Access: rig.AccessGetSet},
					rig.ParmBacklight:  level(1, 0),
				},
				Do: do(parmOp),
			},
			rig.OpRIT:       {Access: rig.AccessGetSet, Bounds: offset, Do: do(ritOp)},
			rig.OpXIT:       {Access: rig.AccessGetSet, Bounds: offset, Do: do(xitOp)},
			rig.OpCTCSSTone: {Access: rig.AccessGetSet, Do: do(toneOp)},
			rig.OpPowerStat: {Access: rig.AccessGetSet, Do: do(powerOp)},
			rig.OpVFOOp: {
				Items: map[string]rig.Item{
					rig.VFOOpCopy: vfoOps, rig.VFOOpExchange: vfoOps, rig.VFOOpToggle: vfoOps,
					rig.VFOOpUp: vfoOps, rig.VFOOpDown: vfoOps, rig.VFOOpBandUp: vfoOps, rig.VFOOpBandDown: vfoOps,
				},
				Do: do(vfoOpOp),
			},
			rig.OpInfo: {Access: rig.AccessGet, Static: true, Do: do(info)},
		},
	}
}

func init() {
	rig.Register(caps())
	rig.Register(rotatorCaps())
}
