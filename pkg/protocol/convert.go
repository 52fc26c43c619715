package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dougsko/rigd/pkg/rig"
)

// Request converts a device command into a generic rig request. An
// omitted VFO addresses the current one.
func (c *Command) Request() (rig.Request, error) {
	s := c.Spec
	if s == nil || s.Target == TargetDaemon {
		return rig.Request{}, fmt.Errorf("%w: %s is not a device command", rig.ErrInvalidArgument, c.Type)
	}

	req := rig.Request{Op: s.Op, Dir: s.Dir}
	if s.VFO {
		req.VFO = c.VFO
		if req.VFO == rig.VFONone {
			req.VFO = rig.VFOCurrent
		}
	}
	if s.Op == rig.OpVFO {
		req.VFO = rig.VFOCurrent
	}

	var err error
	switch s.Op {
	case rig.OpFreq:
		if s.Dir == rig.Set {
			req.Value.Freq, err = ParseFreq(c.Args["freq"])
		}
	case rig.OpSplitFreq:
		if s.Dir == rig.Set {
			req.Value.Freq, err = ParseFreq(c.Args["tx_freq"])
		}
	case rig.OpMode:
		if s.Dir == rig.Set {
			req.Value, err = parseMode(c.Args["mode"], c.Args["width"])
		}
	case rig.OpSplitMode:
		if s.Dir == rig.Set {
			req.Value, err = parseMode(c.Args["tx_mode"], c.Args["tx_width"])
		}
	case rig.OpVFO:
		if s.Dir == rig.Set {
			req.Value.VFO, err = rig.ParseVFO(c.Args["vfo"])
		}
	case rig.OpPTT:
		if s.Dir == rig.Set {
			req.Value.Bool, err = ParseBool(c.Args["ptt"])
		}
	case rig.OpSplitVFO:
		if s.Dir == rig.Set {
			req.Value.Bool, err = ParseBool(c.Args["split"])
			req.Value.VFO = rig.VFOB
			if tx, ok := c.Args["tx_vfo"]; ok && err == nil {
				req.Value.VFO, err = rig.ParseVFO(tx)
			}
		}
	case rig.OpLevel:
		req.Item = strings.ToUpper(c.Args["level"])
		if s.Dir == rig.Set {
			req.Value.Float, err = parseFloat("level", c.Args["value"])
		}
	case rig.OpFunc:
		req.Item = strings.ToUpper(c.Args["func"])
		if s.Dir == rig.Set {
			req.Value.Bool, err = ParseBool(c.Args["status"])
		}
	case rig.OpParm:
		req.Item = strings.ToUpper(c.Args["parm"])
		if s.Dir == rig.Set {
			var x float64
			x, err = parseFloat("parm", c.Args["value"])
			req.Value.Float = x
			if x == math.Trunc(x) {
				req.Value.Int = int(x)
			}
		}
	case rig.OpRIT:
		if s.Dir == rig.Set {
			req.Value.Int, err = parseInt("rit", c.Args["rit"])
		}
	case rig.OpXIT:
		if s.Dir == rig.Set {
			req.Value.Int, err = parseInt("xit", c.Args["xit"])
		}
	case rig.OpCTCSSTone:
		if s.Dir == rig.Set {
			req.Value.Int, err = parseInt("tone", c.Args["tone"])
		}
	case rig.OpPowerStat:
		if s.Dir == rig.Set {
			req.Value.Int, err = parseInt("status", c.Args["status"])
		}
	case rig.OpVFOOp:
		req.Item = strings.ToUpper(c.Args["op"])
	case rig.OpPosition:
		if s.Dir == rig.Set {
			req.Value.Az, err = parseFloat("azimuth", c.Args["az"])
			if el, ok := c.Args["el"]; ok && err == nil {
				req.Value.El, err = parseFloat("elevation", el)
			}
		}
	}
	return req, err
}

// Render turns the value returned for a command into reply data.
func Render(c *Command, v rig.Value) map[string]interface{} {
	s := c.Spec
	if s.Dir == rig.Set {
		return nil
	}
	switch s.Op {
	case rig.OpFreq:
		return map[string]interface{}{"freq": v.Freq}
	case rig.OpSplitFreq:
		return map[string]interface{}{"tx_freq": v.Freq}
	case rig.OpMode:
		return map[string]interface{}{"mode": v.Mode, "width": v.Width}
	case rig.OpSplitMode:
		return map[string]interface{}{"tx_mode": v.Mode, "tx_width": v.Width}
	case rig.OpVFO:
		return map[string]interface{}{"vfo": v.VFO.String()}
	case rig.OpPTT:
		return map[string]interface{}{"ptt": v.Bool}
	case rig.OpSplitVFO:
		return map[string]interface{}{"split": v.Bool, "tx_vfo": v.VFO.String()}
	case rig.OpLevel:
		return map[string]interface{}{"level": strings.ToUpper(c.Args["level"]), "value": v.Float}
	case rig.OpFunc:
		return map[string]interface{}{"func": strings.ToUpper(c.Args["func"]), "status": v.Bool}
	case rig.OpParm:
		var x interface{} = v.Float
		if v.Int != 0 {
			x = v.Int
		}
		return map[string]interface{}{"parm": strings.ToUpper(c.Args["parm"]), "value": x}
	case rig.OpRIT:
		return map[string]interface{}{"rit": v.Int}
	case rig.OpXIT:
		return map[string]interface{}{"xit": v.Int}
	case rig.OpCTCSSTone:
		return map[string]interface{}{"tone": v.Int}
	case rig.OpPowerStat:
		return map[string]interface{}{"status": v.Int}
	case rig.OpInfo:
		return map[string]interface{}{"info": v.Str}
	case rig.OpPosition:
		return map[string]interface{}{"az": v.Az, "el": v.El}
	}
	return nil
}

// ParseFreq accepts Hz with an optional fraction as rigctl sends it.
func ParseFreq(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: bad frequency %q", rig.ErrInvalidArgument, s)
	}
	return int64(math.Round(f)), nil
}

// ParseBool accepts 0/1, on/off and true/false.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "on", "true", "yes":
		return true, nil
	case "0", "off", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("%w: bad boolean %q", rig.ErrInvalidArgument, s)
}

func parseMode(mode, width string) (rig.Value, error) {
	m, err := rig.ParseMode(mode)
	if err != nil {
		return rig.Value{}, err
	}
	v := rig.Value{Mode: m}
	if width != "" {
		w, err := parseInt("width", width)
		if err != nil {
			return rig.Value{}, err
		}
		// rigctl sends -1 for "leave the passband alone"
		if w > 0 {
			v.Width = w
		}
	}
	return v, nil
}

func parseInt(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: bad %s %q", rig.ErrInvalidArgument, name, s)
	}
	return n, nil
}

func parseFloat(name, s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: bad %s %q", rig.ErrInvalidArgument, name, s)
	}
	return f, nil
}
