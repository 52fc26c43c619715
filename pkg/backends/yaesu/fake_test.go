package yaesu

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// fakeRig is a newcat speaking transceiver for tests.
type fakeRig struct {
	mu sync.Mutex

	ftx1   bool
	id     string
	vfo    int // 0 = A, 1 = B
	freq   [2]int64
	mode   [2]byte
	ptt    bool
	txVFO  int
	levels map[string]int
	funcs  map[string]int
	clar   int
	rt, xt bool
	tone   int
	ctMode int
	power  int
	band   int
	reject map[string]bool
	silent bool
}

func newFakeRig(ftx1 bool) *fakeRig {
	r := &fakeRig{
		ftx1:   ftx1,
		id:     "0570",
		freq:   [2]int64{14074000, 7074000},
		mode:   [2]byte{'2', '1'},
		levels: map[string]int{"AG0": 128, "RG0": 255, "SQ0": 0, "MG": 50, "KS": 20, "SM0": 130, "RM4": 0, "RM5": 0, "RM6": 26, "PC": 100},
		funcs:  map[string]int{"NB0": 0, "NR0": 0, "PR0": 0, "VX": 0, "LK": 0, "ML0": 0},
		power:  1,
		reject: map[string]bool{},
	}
	if ftx1 {
		r.id = "0840"
	}
	return r
}

var levelPrefixes = []string{"AG0", "RG0", "SQ0", "MG", "KS", "SM0", "RM4", "RM5", "RM6"}
var funcPrefixes = []string{"NB0", "NR0", "PR0", "VX", "LK", "ML0"}

func (r *fakeRig) respond(cmd []byte) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.silent {
		return nil
	}
	var out strings.Builder
	for _, c := range strings.Split(strings.TrimSuffix(string(cmd), ";"), ";") {
		out.WriteString(r.handle(c))
	}
	if out.Len() == 0 {
		return nil
	}
	return []byte(out.String())
}

func (r *fakeRig) info(v int) string {
	rx, tx := '0', '0'
	if r.rt {
		rx = '1'
	}
	if r.xt {
		tx = '1'
	}
	return fmt.Sprintf("001%09d%+05d%c%c%c00000;", r.freq[v], r.clar, rx, tx, r.mode[v])
}

func (r *fakeRig) handle(c string) string {
	for p := range r.reject {
		if strings.HasPrefix(c, p) {
			return "?;"
		}
	}
	num := func(s string) int {
		n, err := strconv.Atoi(s)
		if err != nil {
			panic(fmt.Sprintf("fake rig: bad number in %q", c))
		}
		return n
	}

	switch {
	case c == "ID":
		return "ID" + r.id + ";"
	case c == "FA", c == "FB":
		return fmt.Sprintf("%s%09d;", c, r.freq[c[1]-'A'])
	case strings.HasPrefix(c, "FA"), strings.HasPrefix(c, "FB"):
		r.freq[c[1]-'A'] = int64(num(c[2:]))
	case c == "MD0":
		return fmt.Sprintf("MD0%c;", r.mode[r.vfo])
	case strings.HasPrefix(c, "MD0"):
		r.mode[r.vfo] = c[3]
	case c == "VS":
		return fmt.Sprintf("VS%d;", r.vfo)
	case strings.HasPrefix(c, "VS"):
		r.vfo = num(c[2:])
	case c == "TX":
		if r.ptt {
			return "TX1;"
		}
		return "TX0;"
	case strings.HasPrefix(c, "TX"):
		r.ptt = c == "TX1"
	case c == "FT":
		return fmt.Sprintf("FT%d;", r.txVFO)
	case strings.HasPrefix(c, "FT"):
		r.txVFO = num(c[2:])
	case c == "PC":
		if r.ftx1 {
			return fmt.Sprintf("PC2%03d;", r.levels["PC"])
		}
		return fmt.Sprintf("PC%03d;", r.levels["PC"])
	case strings.HasPrefix(c, "PC"):
		if r.ftx1 {
			r.levels["PC"] = num(c[3:])
		} else {
			r.levels["PC"] = num(c[2:])
		}
	case c == "IF":
		return "IF" + r.info(r.vfo)
	case c == "OI":
		return "OI" + r.info(1-r.vfo)
	case c == "CN00":
		return fmt.Sprintf("CN00%03d;", r.tone)
	case strings.HasPrefix(c, "CN00"):
		r.tone = num(c[4:])
	case strings.HasPrefix(c, "CT0"):
		r.ctMode = num(c[3:])
	case c == "PS":
		return fmt.Sprintf("PS%d;", r.power)
	case strings.HasPrefix(c, "PS"):
		r.power = num(c[2:])
	case c == "AB":
		r.freq[1], r.mode[1] = r.freq[0], r.mode[0]
	case c == "SV":
		r.freq[0], r.freq[1] = r.freq[1], r.freq[0]
		r.mode[0], r.mode[1] = r.mode[1], r.mode[0]
	case c == "UP":
		r.freq[r.vfo] += 10
	case c == "DN":
		r.freq[r.vfo] -= 10
	case strings.HasPrefix(c, "BS"):
		r.band = num(c[2:])
	case !r.ftx1 && c == "RC":
		r.clar = 0
	case !r.ftx1 && strings.HasPrefix(c, "RU"):
		r.clar = num(c[2:])
	case !r.ftx1 && strings.HasPrefix(c, "RD"):
		r.clar = -num(c[2:])
	case !r.ftx1 && strings.HasPrefix(c, "RT"):
		r.rt = c == "RT1"
	case !r.ftx1 && strings.HasPrefix(c, "XT"):
		r.xt = c == "XT1"
	case r.ftx1 && (strings.HasPrefix(c, "RC") || strings.HasPrefix(c, "TC")):
		on := c[2:] != "0"
		if on {
			r.clar = num(c[2:])
		}
		if c[0] == 'R' {
			r.rt = on
		} else {
			r.xt = on
		}
	default:
		for _, p := range levelPrefixes {
			if c == p {
				return fmt.Sprintf("%s%03d;", p, r.levels[p])
			}
			if strings.HasPrefix(c, p) {
				r.levels[p] = num(c[len(p):])
				return ""
			}
		}
		for _, p := range funcPrefixes {
			if c == p {
				return fmt.Sprintf("%s%d;", p, r.funcs[p])
			}
			if strings.HasPrefix(c, p) {
				r.funcs[p] = num(c[len(p):])
				return ""
			}
		}
		return "?;"
	}
	return ""
}
