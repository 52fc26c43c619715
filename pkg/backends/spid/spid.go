// Package spid drives SPID rotator controllers speaking the Rot2Prog
// protocol and its single-axis Rot1Prog predecessor.
//
// Every command is 13 bytes: 'W', four azimuth digits, the azimuth pulse
// count, four elevation digits, the elevation pulse count, a command byte
// and a trailing space. Positions are offset by 360 degrees so they are
// never negative.
package spid

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dougsko/rigd/pkg/rig"
	"github.com/dougsko/rigd/pkg/transport"
)

// Model ids
const (
	ModelRot2Prog = 901
	ModelRot1Prog = 902
	ModelMD01     = 903
)

const (
	cmdStop   = 0x0f
	cmdStatus = 0x1f
	cmdSet    = 0x2f

	frameLen = 13
)

type model struct {
	id        int
	name      string
	baud      int
	pulses    byte // per degree, sent in PH and PV
	elevation bool
	replyLen  int
	az, el    rig.Range
}

// digits writes v as four ASCII digits.
func digits(dst []byte, v int) {
	for i := 3; i >= 0; i-- {
		dst[i] = '0' + byte(v%10)
		v /= 10
	}
}

func (m model) frame(k byte) []byte {
	f := make([]byte, frameLen)
	f[0] = 'W'
	f[11] = k
	f[12] = ' '
	return f
}

func (m model) set(az, el float64) []byte {
	f := m.frame(cmdSet)
	if m.elevation {
		p := float64(m.pulses)
		digits(f[1:5], int(math.Round((360+az)*p)))
		f[5] = m.pulses
		digits(f[6:10], int(math.Round((360+el)*p)))
		f[10] = m.pulses
		return f
	}
	// Whole degrees with a fixed trailing zero.
	digits(f[1:5], int(math.Round(360+az))*10)
	digits(f[6:10], 0)
	return f
}

func (m model) reply() *rig.Frame {
	return &rig.Frame{Size: m.replyLen, Validate: m.validate}
}

func (m model) validate(f []byte) error {
	if f[0] != 'W' {
		return rig.Protocolf("reply starts with %#02x", f[0])
	}
	if m.elevation && f[len(f)-1] != ' ' {
		return rig.Protocolf("reply ends with %#02x", f[len(f)-1])
	}
	for _, i := range m.digitIndexes() {
		if f[i] > 9 {
			return rig.Protocolf("position digit %#02x", f[i])
		}
	}
	return nil
}

func (m model) digitIndexes() []int {
	if m.elevation {
		return []int{1, 2, 3, 4, 6, 7, 8, 9}
	}
	return []int{1, 2, 3}
}

// decode reads a status frame. Digits in replies are raw values, not
// ASCII, and the fourth digit is tenths.
func (m model) decode(f []byte) rig.Value {
	axis := func(d []byte) float64 {
		return float64(d[0])*100 + float64(d[1])*10 + float64(d[2]) + float64(d[3])/10 - 360
	}
	if !m.elevation {
		return rig.Value{Az: float64(f[1])*100 + float64(f[2])*10 + float64(f[3]) - 360}
	}
	return rig.Value{Az: axis(f[1:5]), El: axis(f[6:10])}
}

func (m model) position() *rig.Handler {
	bounds := []rig.Bound{{Field: rig.FieldAz, Ranges: []rig.Range{m.az}}}
	if m.elevation {
		bounds = append(bounds, rig.Bound{Field: rig.FieldEl, Ranges: []rig.Range{m.el}})
	} else {
		bounds = append(bounds, rig.Bound{Field: rig.FieldEl, Ranges: []rig.Range{{Min: 0, Max: 0, Policy: rig.Clamp}}})
	}
	return &rig.Handler{
		Access:  rig.AccessGetSet,
		Bounds:  bounds,
		NoCache: true,
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			if req.Dir == rig.Get {
				return rig.Command{Data: m.frame(cmdStatus), Reply: m.reply()}, nil
			}
			// The controller does not answer a set.
			return rig.Command{Data: m.set(req.Value.Az, req.Value.El)}, nil
		},
		Decode: func(s *rig.Session, req rig.Request, reply []byte) (rig.Value, error) {
			return m.decode(reply), nil
		},
	}
}

// Stop is answered with the position where the rotator halted.
func (m model) stop() *rig.Handler {
	return &rig.Handler{
		Access: rig.AccessSet,
		Encode: func(s *rig.Session, req rig.Request) (rig.Command, error) {
			return rig.Command{Data: m.frame(cmdStop), Reply: m.reply()}, nil
		},
		Ack: func(reply []byte) error { return nil },
	}
}

func park(ctx context.Context, s *rig.Session, req rig.Request) (rig.Value, error) {
	return rig.Value{}, s.SetPosition(ctx, 0, 0)
}

func (m model) caps() *rig.Caps {
	return &rig.Caps{
		Model:        m.id,
		Name:         m.name,
		Manufacturer: "SPID",
		Version:      "1.0",
		Status:       rig.StatusStable,
		Type:         rig.TypeRotator,
		Port: transport.Config{
			BaudRate:  m.baud,
			DataBits:  8,
			StopBits:  1,
			Parity:    transport.ParityNone,
			Handshake: transport.HandshakeNone,
		},
		Timeout: 400 * time.Millisecond,
		Retry:   3,
		Ops: map[rig.Op]*rig.Handler{
			rig.OpPosition: m.position(),
			rig.OpStop:     m.stop(),
			rig.OpPark:     {Access: rig.AccessSet, Do: park},
			rig.OpInfo: {Access: rig.AccessGet, Static: true, Do: func(ctx context.Context, s *rig.Session, req rig.Request) (rig.Value, error) {
				return rig.Value{Str: fmt.Sprintf("SPID %s, %d pulses/degree", m.name, m.pulses)}, nil
			}},
		},
	}
}

var models = []model{
	{
		id: ModelRot2Prog, name: "Rot2Prog", baud: 600, pulses: 10, elevation: true, replyLen: 12,
		az: rig.Range{Min: -180, Max: 540}, el: rig.Range{Min: -20, Max: 210},
	},
	{
		id: ModelRot1Prog, name: "Rot1Prog", baud: 1200, pulses: 1, replyLen: 5,
		az: rig.Range{Min: -180, Max: 540},
	},
	{
		id: ModelMD01, name: "MD-01/02 (Rot2Prog protocol)", baud: 460800, pulses: 10, elevation: true, replyLen: 12,
		az: rig.Range{Min: -180, Max: 540}, el: rig.Range{Min: -20, Max: 210},
	},
}

func init() {
	for _, m := range models {
		rig.Register(m.caps())
	}
}
