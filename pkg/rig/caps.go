package rig

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dougsko/rigd/pkg/transport"
)

// Type of device a model describes.
type Type int

const (
	TypeTransceiver Type = iota
	TypeReceiver
	TypeRotator
)

func (t Type) String() string {
	switch t {
	case TypeReceiver:
		return "receiver"
	case TypeRotator:
		return "rotator"
	default:
		return "transceiver"
	}
}

// Status is the maturity of a backend.
type Status int

const (
	StatusAlpha Status = iota
	StatusBeta
	StatusStable
)

func (s Status) String() string {
	switch s {
	case StatusBeta:
		return "beta"
	case StatusStable:
		return "stable"
	default:
		return "alpha"
	}
}

// FreqRange is a band a rig can tune.
type FreqRange struct {
	Min   int64  `json:"min"`
	Max   int64  `json:"max"`
	Modes []Mode `json:"modes,omitempty"`
}

// Caps is the immutable capability descriptor of one model. It is shared
// by every session of that model and must not be modified after Register.
type Caps struct {
	Model        int
	Name         string
	Manufacturer string
	Version      string
	Status       Status
	Type         Type

	Port           transport.Config
	WriteDelay     time.Duration // between bytes
	PostWriteDelay time.Duration // between command and reply
	Timeout        time.Duration
	Retry          int

	RXRanges  []FreqRange
	TXRanges  []FreqRange
	Modes     []Mode
	CTCSSList []int // tenths of Hz

	Ops map[Op]*Handler

	// Open runs after the transport is up, under the session guard.
	Open func(ctx context.Context, s *Session) error
	// Close runs before the transport is torn down, under the guard.
	Close func(ctx context.Context, s *Session) error
	// NewState returns per-session backend state, see Session.State.
	NewState func() any
}

// FullName is "Manufacturer Name".
func (c *Caps) FullName() string {
	return strings.TrimSpace(c.Manufacturer + " " + c.Name)
}

// Supports reports whether op is available in direction d.
func (c *Caps) Supports(op Op, d Dir) bool {
	h, ok := c.Ops[op]
	if !ok {
		return false
	}
	if len(h.Items) > 0 {
		for _, it := range h.Items {
			if it.Access.Allows(d) {
				return true
			}
		}
		return false
	}
	return h.Access.Allows(d)
}

// ItemNames lists the items of an item-addressed op.
func (c *Caps) ItemNames(op Op) []string {
	h, ok := c.Ops[op]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(h.Items))
	for name := range h.Items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handler implements one operation kind for a model. Single-exchange
// operations supply Encode and Decode (or Ack for sets); composite
// operations supply Do, which may call back into the session.
type Handler struct {
	Access Access
	Bounds []Bound
	// Items restricts item-addressed ops (levels, funcs, parms, vfo ops)
	// to the listed names.
	Items map[string]Item

	Encode func(s *Session, req Request) (Command, error)
	Decode func(s *Session, req Request, reply []byte) (Value, error)
	Ack    func(reply []byte) error
	Do     func(ctx context.Context, s *Session, req Request) (Value, error)

	// Static values never change once read.
	Static bool
	// NoCache values are always read from the device.
	NoCache bool
}

// Item is the per-item part of an item-addressed handler.
type Item struct {
	Access  Access
	Bounds  []Bound
	Static  bool
	NoCache bool
}

// Field names the Value field a Bound constrains.
type Field int

const (
	FieldFreq Field = iota
	FieldWidth
	FieldInt
	FieldFloat
	FieldAz
	FieldEl
)

func (f Field) String() string {
	switch f {
	case FieldWidth:
		return "width"
	case FieldInt:
		return "int"
	case FieldFloat:
		return "float"
	case FieldAz:
		return "azimuth"
	case FieldEl:
		return "elevation"
	default:
		return "freq"
	}
}

func (f Field) get(v Value) float64 {
	switch f {
	case FieldWidth:
		return float64(v.Width)
	case FieldInt:
		return float64(v.Int)
	case FieldFloat:
		return v.Float
	case FieldAz:
		return v.Az
	case FieldEl:
		return v.El
	default:
		return float64(v.Freq)
	}
}

func (f Field) set(v *Value, x float64) {
	switch f {
	case FieldWidth:
		v.Width = int(math.Round(x))
	case FieldInt:
		v.Int = int(math.Round(x))
	case FieldFloat:
		v.Float = x
	case FieldAz:
		v.Az = x
	case FieldEl:
		v.El = x
	default:
		v.Freq = int64(math.Round(x))
	}
}

// Policy decides what happens to an input outside its declared domain.
type Policy int

const (
	// Reject fails the operation with ErrOutOfRange.
	Reject Policy = iota
	// Clamp moves the input to the nearest permitted value.
	Clamp
)

// Range is one permitted interval. Step 0 means continuous. An empty
// VFOs list applies to every selector.
type Range struct {
	Min, Max float64
	Step     float64
	VFOs     []VFO
	Policy   Policy
}

func (r Range) appliesTo(vfo VFO) bool {
	if len(r.VFOs) == 0 {
		return true
	}
	for _, v := range r.VFOs {
		if v == vfo {
			return true
		}
	}
	return false
}

func (r Range) within(x float64) bool {
	return x >= r.Min && x <= r.Max
}

func (r Range) onStep(x float64) bool {
	if r.Step <= 0 {
		return true
	}
	rem := math.Remainder(x-r.Min, r.Step)
	return math.Abs(rem) <= 1e-9*math.Max(1, r.Step)
}

func (r Range) snap(x float64) float64 {
	if x < r.Min {
		x = r.Min
	}
	if x > r.Max {
		x = r.Max
	}
	if r.Step > 0 {
		x = r.Min + math.Round((x-r.Min)/r.Step)*r.Step
		if x > r.Max {
			x -= r.Step
		}
	}
	return x
}

func (r Range) distance(x float64) float64 {
	switch {
	case x < r.Min:
		return r.Min - x
	case x > r.Max:
		return x - r.Max
	}
	return 0
}

// Bound is the declared domain of one Value field.
type Bound struct {
	Field  Field
	Ranges []Range
}

// FreqBound builds a frequency Bound from tuning ranges.
func FreqBound(step float64, policy Policy, ranges ...FreqRange) Bound {
	b := Bound{Field: FieldFreq}
	for _, fr := range ranges {
		b.Ranges = append(b.Ranges, Range{Min: float64(fr.Min), Max: float64(fr.Max), Step: step, Policy: policy})
	}
	return b
}

// apply checks v against the bound for the selector and returns the
// possibly clamped value.
func (b Bound) apply(v Value, vfo VFO) (Value, error) {
	var ranges []Range
	for _, r := range b.Ranges {
		if r.appliesTo(vfo) {
			ranges = append(ranges, r)
		}
	}
	if len(ranges) == 0 {
		return v, nil
	}

	x := b.Field.get(v)
	var nearest *Range
	best := math.Inf(1)
	for i := range ranges {
		r := ranges[i]
		if r.within(x) {
			if r.onStep(x) {
				return v, nil
			}
			if r.Policy == Clamp {
				b.Field.set(&v, r.snap(x))
				return v, nil
			}
			return v, fmt.Errorf("%w: %s %g is not a multiple of step %g", ErrOutOfRange, b.Field, x, r.Step)
		}
		if r.Policy == Clamp {
			if d := r.distance(x); d < best {
				best = d
				nearest = &ranges[i]
			}
		}
	}
	if nearest != nil {
		b.Field.set(&v, nearest.snap(x))
		return v, nil
	}
	return v, fmt.Errorf("%w: %s %g outside %s", ErrOutOfRange, b.Field, x, describeRanges(ranges))
}

func describeRanges(rs []Range) string {
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		parts = append(parts, fmt.Sprintf("[%g, %g]", r.Min, r.Max))
	}
	return strings.Join(parts, " ")
}

func applyBounds(bounds []Bound, v Value, vfo VFO) (Value, error) {
	var err error
	for _, b := range bounds {
		if v, err = b.apply(v, vfo); err != nil {
			return v, err
		}
	}
	return v, nil
}

// Command is one encoded wire command. A nil Reply means the device does
// not answer and nothing is read.
type Command struct {
	Data  []byte
	Reply *Frame
}

// Frame describes how to recognize a reply.
type Frame struct {
	// Size is a fixed reply length. When zero the reply ends at Term.
	Size int
	Term byte
	// Max bounds the bytes read while looking for Term.
	Max int
	// Echo discards a leading copy of the command.
	Echo bool
	// Skip reports frames meant for someone else on a shared line. They
	// are dropped and reading continues until the deadline.
	Skip func(frame []byte) bool
	// Validate checks a complete frame.
	Validate func(frame []byte) error
}

const defaultFrameMax = 256

func (f *Frame) limit() int {
	if f.Size > 0 {
		return f.Size
	}
	if f.Max > 0 {
		return f.Max
	}
	return defaultFrameMax
}
