package rig

import (
	"fmt"
	"strings"
)

// VFO selects which receiver or memory an operation addresses.
type VFO int

const (
	VFONone VFO = iota
	VFOCurrent
	VFOA
	VFOB
	VFOC
	VFOMain
	VFOSub
	VFOMem
	VFOTX
	VFORX
)

var vfoNames = map[VFO]string{
	VFONone:    "None",
	VFOCurrent: "currVFO",
	VFOA:       "VFOA",
	VFOB:       "VFOB",
	VFOC:       "VFOC",
	VFOMain:    "Main",
	VFOSub:     "Sub",
	VFOMem:     "MEM",
	VFOTX:      "TX",
	VFORX:      "RX",
}

func (v VFO) String() string {
	if s, ok := vfoNames[v]; ok {
		return s
	}
	return fmt.Sprintf("VFO(%d)", int(v))
}

// ParseVFO accepts rigctl style names ("VFOA", "currVFO") and short forms ("A").
func ParseVFO(s string) (VFO, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "CURRVFO", "CURR", "CURRENT", "VFO":
		return VFOCurrent, nil
	case "NONE":
		return VFONone, nil
	case "VFOA", "A":
		return VFOA, nil
	case "VFOB", "B":
		return VFOB, nil
	case "VFOC", "C":
		return VFOC, nil
	case "MAIN":
		return VFOMain, nil
	case "SUB":
		return VFOSub, nil
	case "MEM":
		return VFOMem, nil
	case "TX":
		return VFOTX, nil
	case "RX":
		return VFORX, nil
	}
	return VFONone, fmt.Errorf("%w: unknown VFO %q", ErrInvalidArgument, s)
}

// Mode is an operating mode.
type Mode string

const (
	ModeNone   Mode = ""
	ModeUSB    Mode = "USB"
	ModeLSB    Mode = "LSB"
	ModeCW     Mode = "CW"
	ModeCWR    Mode = "CWR"
	ModeRTTY   Mode = "RTTY"
	ModeRTTYR  Mode = "RTTYR"
	ModeAM     Mode = "AM"
	ModeFM     Mode = "FM"
	ModeWFM    Mode = "WFM"
	ModeFMN    Mode = "FMN"
	ModePKTUSB Mode = "PKTUSB"
	ModePKTLSB Mode = "PKTLSB"
	ModePKTFM  Mode = "PKTFM"
	ModePSK    Mode = "PSK"
	ModeC4FM   Mode = "C4FM"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case ModeUSB, ModeLSB, ModeCW, ModeCWR, ModeRTTY, ModeRTTYR, ModeAM, ModeFM,
		ModeWFM, ModeFMN, ModePKTUSB, ModePKTLSB, ModePKTFM, ModePSK, ModeC4FM:
		return m, nil
	}
	return ModeNone, fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, s)
}

// Level names
const (
	LevelAF           = "AF"
	LevelRF           = "RF"
	LevelSQL          = "SQL"
	LevelRFPower      = "RFPOWER"
	LevelMicGain      = "MICGAIN"
	LevelKeySpeed     = "KEYSPD"
	LevelPreamp       = "PREAMP"
	LevelAtt          = "ATT"
	LevelStrength     = "STRENGTH"
	LevelSWR          = "SWR"
	LevelALC          = "ALC"
	LevelRFPowerMeter = "RFPOWER_METER"
)

// Function names
const (
	FuncNB    = "NB"
	FuncNR    = "NR"
	FuncComp  = "COMP"
	FuncVOX   = "VOX"
	FuncLock  = "LOCK"
	FuncMon   = "MON"
	FuncTuner = "TUNER"
)

// Parameter names
const (
	ParmBandSelect = "BANDSELECT"
	ParmBacklight  = "BACKLIGHT"
)

// VFO operations
const (
	VFOOpCopy     = "CPY"
	VFOOpExchange = "XCHG"
	VFOOpToggle   = "TOGGLE"
	VFOOpUp       = "UP"
	VFOOpDown     = "DOWN"
	VFOOpBandUp   = "BAND_UP"
	VFOOpBandDown = "BAND_DOWN"
	VFOOpFromVFO  = "FROM_VFO"
	VFOOpToVFO    = "TO_VFO"
	VFOOpTune     = "TUNE"
)

// Power states
const (
	PowerOff     = 0
	PowerOn      = 1
	PowerStandby = 2
)

// Op is the kind of operation a Request carries.
type Op int

const (
	OpFreq Op = iota + 1
	OpMode
	OpVFO
	OpPTT
	OpSplitVFO
	OpSplitFreq
	OpSplitMode
	OpLevel
	OpFunc
	OpParm
	OpRIT
	OpXIT
	OpCTCSSTone
	OpPowerStat
	OpVFOOp
	OpInfo
	OpPosition
	OpStop
	OpPark
)

var opNames = map[Op]string{
	OpFreq:      "freq",
	OpMode:      "mode",
	OpVFO:       "vfo",
	OpPTT:       "ptt",
	OpSplitVFO:  "split_vfo",
	OpSplitFreq: "split_freq",
	OpSplitMode: "split_mode",
	OpLevel:     "level",
	OpFunc:      "func",
	OpParm:      "parm",
	OpRIT:       "rit",
	OpXIT:       "xit",
	OpCTCSSTone: "ctcss_tone",
	OpPowerStat: "powerstat",
	OpVFOOp:     "vfo_op",
	OpInfo:      "info",
	OpPosition:  "pos",
	OpStop:      "stop",
	OpPark:      "park",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Dir is the direction of a request.
type Dir int

const (
	Get Dir = iota
	Set
)

func (d Dir) String() string {
	if d == Set {
		return "set"
	}
	return "get"
}

// Access flags which directions a handler serves.
type Access uint8

const (
	AccessGet Access = 1 << iota
	AccessSet

	AccessGetSet = AccessGet | AccessSet
)

// Allows reports whether d is permitted.
func (a Access) Allows(d Dir) bool {
	if d == Set {
		return a&AccessSet != 0
	}
	return a&AccessGet != 0
}

// Value is the normalized payload of an operation. Each Op uses the
// fields that make sense for it.
type Value struct {
	Freq  int64   `json:"freq,omitempty"` // Hz
	Mode  Mode    `json:"mode,omitempty"`
	Width int     `json:"width,omitempty"` // passband Hz, 0 for the rig default
	VFO   VFO     `json:"vfo,omitempty"`
	Bool  bool    `json:"bool,omitempty"`
	Int   int     `json:"int,omitempty"`
	Float float64 `json:"float,omitempty"`
	Str   string  `json:"str,omitempty"`
	Az    float64 `json:"az,omitempty"`
	El    float64 `json:"el,omitempty"`
}

// Request is one generic operation against a session.
type Request struct {
	Op    Op
	Dir   Dir
	VFO   VFO
	Item  string
	Value Value
}

func (r Request) String() string {
	var b strings.Builder
	b.WriteString(r.Dir.String())
	b.WriteByte('_')
	b.WriteString(r.Op.String())
	if r.Item != "" {
		b.WriteByte(' ')
		b.WriteString(r.Item)
	}
	if r.VFO != VFONone {
		b.WriteByte(' ')
		b.WriteString(r.VFO.String())
	}
	return b.String()
}

// Key addresses one cache entry.
type Key struct {
	Op   Op
	VFO  VFO
	Item string
}

func (k Key) String() string {
	if k.Item != "" {
		return fmt.Sprintf("%s/%s/%s", k.Op, k.VFO, k.Item)
	}
	return fmt.Sprintf("%s/%s", k.Op, k.VFO)
}

func keyFor(r Request) Key {
	return Key{Op: r.Op, VFO: r.VFO, Item: r.Item}
}

// MarshalText encodes the VFO by name.
func (v VFO) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText decodes a VFO name.
func (v *VFO) UnmarshalText(b []byte) error {
	parsed, err := ParseVFO(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
