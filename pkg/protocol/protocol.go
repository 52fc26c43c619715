package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dougsko/rigd/pkg/rig"
)

// Target is the device a command addresses.
type Target int

const (
	TargetDaemon Target = iota
	TargetRig
	TargetRotator
)

// Spec describes one protocol command.
type Spec struct {
	Name   string
	Short  string
	Target Target
	Op     rig.Op
	Dir    rig.Dir
	// VFO commands accept an optional VFO before their arguments.
	VFO      bool
	Args     []string
	Optional int
}

// Command is a parsed request line.
type Command struct {
	Type string            `json:"type"`
	VFO  rig.VFO           `json:"vfo,omitempty"`
	Args map[string]string `json:"args,omitempty"`
	Spec *Spec             `json:"-"`
}

// Response is one JSON reply line.
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Code    string                 `json:"code,omitempty"`
}

// Status is the daemon summary returned by the status command.
type Status struct {
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	StartTime time.Time `json:"start_time"`
	Rig       string    `json:"rig,omitempty"`
	Rotator   string    `json:"rotator,omitempty"`
	Clients   int       `json:"clients"`
}

// Daemon commands
const (
	CmdStatus   = "status"
	CmdPing     = "ping"
	CmdQuit     = "quit"
	CmdDumpCaps = "dump_caps"
	CmdStats    = "stats"
	CmdHelp     = "help"
)

var specs = []*Spec{
	{Name: CmdStatus},
	{Name: CmdPing},
	{Name: CmdQuit, Short: "q"},
	{Name: CmdHelp, Short: "?"},
	{Name: CmdStats, Args: []string{"device"}, Optional: 1},
	{Name: CmdDumpCaps, Short: "1", Args: []string{"device"}, Optional: 1},

	{Name: "set_freq", Short: "F", Target: TargetRig, Op: rig.OpFreq, Dir: rig.Set, VFO: true, Args: []string{"freq"}},
	{Name: "get_freq", Short: "f", Target: TargetRig, Op: rig.OpFreq, Dir: rig.Get, VFO: true},
	{Name: "set_mode", Short: "M", Target: TargetRig, Op: rig.OpMode, Dir: rig.Set, VFO: true, Args: []string{"mode", "width"}, Optional: 1},
	{Name: "get_mode", Short: "m", Target: TargetRig, Op: rig.OpMode, Dir: rig.Get, VFO: true},
	{Name: "set_vfo", Short: "V", Target: TargetRig, Op: rig.OpVFO, Dir: rig.Set, Args: []string{"vfo"}},
	{Name: "get_vfo", Short: "v", Target: TargetRig, Op: rig.OpVFO, Dir: rig.Get},
	{Name: "set_ptt", Short: "T", Target: TargetRig, Op: rig.OpPTT, Dir: rig.Set, VFO: true, Args: []string{"ptt"}},
	{Name: "get_ptt", Short: "t", Target: TargetRig, Op: rig.OpPTT, Dir: rig.Get, VFO: true},
	{Name: "set_split_vfo", Short: "S", Target: TargetRig, Op: rig.OpSplitVFO, Dir: rig.Set, VFO: true, Args: []string{"split", "tx_vfo"}, Optional: 1},
	{Name: "get_split_vfo", Short: "s", Target: TargetRig, Op: rig.OpSplitVFO, Dir: rig.Get, VFO: true},
	{Name: "set_split_freq", Short: "I", Target: TargetRig, Op: rig.OpSplitFreq, Dir: rig.Set, VFO: true, Args: []string{"tx_freq"}},
	{Name: "get_split_freq", Short: "i", Target: TargetRig, Op: rig.OpSplitFreq, Dir: rig.Get, VFO: true},
	{Name: "set_split_mode", Short: "X", Target: TargetRig, Op: rig.OpSplitMode, Dir: rig.Set, VFO: true, Args: []string{"tx_mode", "tx_width"}, Optional: 1},
	{Name: "get_split_mode", Short: "x", Target: TargetRig, Op: rig.OpSplitMode, Dir: rig.Get, VFO: true},
	{Name: "set_level", Short: "L", Target: TargetRig, Op: rig.OpLevel, Dir: rig.Set, VFO: true, Args: []string{"level", "value"}},
	{Name: "get_level", Short: "l", Target: TargetRig, Op: rig.OpLevel, Dir: rig.Get, VFO: true, Args: []string{"level"}},
	{Name: "set_func", Short: "U", Target: TargetRig, Op: rig.OpFunc, Dir: rig.Set, VFO: true, Args: []string{"func", "status"}},
	{Name: "get_func", Short: "u", Target: TargetRig, Op: rig.OpFunc, Dir: rig.Get, VFO: true, Args: []string{"func"}},
	{Name: "set_parm", Short: "P", Target: TargetRig, Op: rig.OpParm, Dir: rig.Set, Args: []string{"parm", "value"}},
	{Name: "get_parm", Short: "p", Target: TargetRig, Op: rig.OpParm, Dir: rig.Get, Args: []string{"parm"}},
	{Name: "set_rit", Short: "J", Target: TargetRig, Op: rig.OpRIT, Dir: rig.Set, VFO: true, Args: []string{"rit"}},
	{Name: "get_rit", Short: "j", Target: TargetRig, Op: rig.OpRIT, Dir: rig.Get, VFO: true},
	{Name: "set_xit", Short: "Z", Target: TargetRig, Op: rig.OpXIT, Dir: rig.Set, VFO: true, Args: []string{"xit"}},
	{Name: "get_xit", Short: "z", Target: TargetRig, Op: rig.OpXIT, Dir: rig.Get, VFO: true},
	{Name: "set_ctcss_tone", Short: "C", Target: TargetRig, Op: rig.OpCTCSSTone, Dir: rig.Set, VFO: true, Args: []string{"tone"}},
	{Name: "get_ctcss_tone", Short: "c", Target: TargetRig, Op: rig.OpCTCSSTone, Dir: rig.Get, VFO: true},
	{Name: "set_powerstat", Target: TargetRig, Op: rig.OpPowerStat, Dir: rig.Set, Args: []string{"status"}},
	{Name: "get_powerstat", Target: TargetRig, Op: rig.OpPowerStat, Dir: rig.Get},
	{Name: "vfo_op", Short: "G", Target: TargetRig, Op: rig.OpVFOOp, Dir: rig.Set, VFO: true, Args: []string{"op"}},
	{Name: "get_info", Short: "_", Target: TargetRig, Op: rig.OpInfo, Dir: rig.Get},

	{Name: "set_pos", Target: TargetRotator, Op: rig.OpPosition, Dir: rig.Set, Args: []string{"az", "el"}, Optional: 1},
	{Name: "get_pos", Target: TargetRotator, Op: rig.OpPosition, Dir: rig.Get},
	{Name: "stop", Target: TargetRotator, Op: rig.OpStop, Dir: rig.Set},
	{Name: "park", Target: TargetRotator, Op: rig.OpPark, Dir: rig.Set},
}

var byName = func() map[string]*Spec {
	m := make(map[string]*Spec, 2*len(specs))
	for _, s := range specs {
		m[s.Name] = s
		if s.Short != "" {
			m[s.Short] = s
		}
	}
	return m
}()

// Lookup finds a command by long or short name. Long names may carry a
// leading backslash as in rigctl.
func Lookup(name string) (*Spec, bool) {
	if s, ok := byName[name]; ok {
		return s, true
	}
	s, ok := byName[strings.ToLower(strings.TrimPrefix(name, `\`))]
	return s, ok
}

// Commands returns every command spec sorted by name.
func Commands() []*Spec {
	out := append([]*Spec(nil), specs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Usage renders the argument list of a command.
func (s *Spec) Usage() string {
	var b strings.Builder
	b.WriteString(s.Name)
	if s.VFO {
		b.WriteString(" [vfo]")
	}
	for i, a := range s.Args {
		if i >= len(s.Args)-s.Optional {
			fmt.Fprintf(&b, " [%s]", a)
		} else {
			fmt.Fprintf(&b, " <%s>", a)
		}
	}
	return b.String()
}

// ParseCommand parses a text command such as "F 14074000" or
// "set_mode VFOB USB 2400".
func ParseCommand(text string) (*Command, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty command", rig.ErrInvalidArgument)
	}

	spec, ok := Lookup(fields[0])
	if !ok {
		return nil, fmt.Errorf("%w: unknown command %q", rig.ErrInvalidArgument, fields[0])
	}

	cmd := &Command{
		Type: spec.Name,
		Args: make(map[string]string),
		Spec: spec,
	}

	args := fields[1:]
	min := len(spec.Args) - spec.Optional
	// A leading VFO is only taken when it does not eat a required argument.
	if spec.VFO && len(args) > min {
		if vfo, err := rig.ParseVFO(args[0]); err == nil {
			cmd.VFO = vfo
			args = args[1:]
		}
	}

	if len(args) < min {
		return nil, fmt.Errorf("%w: usage: %s", rig.ErrInvalidArgument, spec.Usage())
	}
	if len(args) > len(spec.Args) {
		return nil, fmt.Errorf("%w: too many arguments, usage: %s", rig.ErrInvalidArgument, spec.Usage())
	}
	for i, a := range args {
		cmd.Args[spec.Args[i]] = a
	}
	return cmd, nil
}

func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data map[string]interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response classified by rig.CodeOf.
func NewErrorResponse(err error) *Response {
	return &Response{
		Success: false,
		Error:   err.Error(),
		Code:    rig.CodeOf(err).String(),
	}
}
