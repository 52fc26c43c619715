package icom

import (
	"bytes"
	"sync"

	"github.com/dougsko/rigd/pkg/backends/bcd"
)

type fakeMode struct{ code, data, filter byte }

// fakeRig answers CI-V frames like a transceiver at addr.
type fakeRig struct {
	mu sync.Mutex

	addr    byte
	sel     int // operating VFO, 0 = A
	freq    [2]uint64
	mode    [2]fakeMode
	split   byte
	ptt     byte
	levels  map[[2]byte]uint64
	funcs   map[[2]byte]byte
	ritOn   byte
	rit     uint64
	ritSign byte
	toneOn  byte
	tone    uint64
	power   byte
	nak     map[[2]byte]bool
	silent  bool
}

func newFakeRig(addr byte) *fakeRig {
	return &fakeRig{
		addr: addr,
		freq: [2]uint64{14074000, 7074000},
		mode: [2]fakeMode{{0x01, 0x01, 0x01}, {0x00, 0x00, 0x02}},
		levels: map[[2]byte]uint64{
			{0x14, 0x01}: 128, {0x14, 0x02}: 255, {0x14, 0x03}: 0, {0x14, 0x0a}: 255, {0x14, 0x0b}: 128,
			{0x15, 0x02}: 130, {0x15, 0x11}: 0, {0x15, 0x12}: 26, {0x15, 0x13}: 0,
		},
		funcs: map[[2]byte]byte{},
		power: 1,
		nak:   map[[2]byte]bool{},
	}
}

func (r *fakeRig) reply(body ...byte) []byte {
	out := []byte{0xfe, 0xfe, 0xe0, r.addr}
	out = append(out, body...)
	return append(out, 0xfd)
}

func (r *fakeRig) ok() []byte { return r.reply(0xfb) }

func (r *fakeRig) respond(cmd []byte) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.silent {
		return nil
	}
	// Wake-up preamble before power on.
	for len(cmd) > 2 && cmd[2] == 0xfe {
		cmd = cmd[1:]
	}
	if len(cmd) < 6 || cmd[2] != r.addr || cmd[3] != 0xe0 || cmd[len(cmd)-1] != 0xfd {
		return nil
	}
	body := cmd[4 : len(cmd)-1]
	key := [2]byte{body[0]}
	if len(body) > 1 {
		key[1] = body[1]
	}
	if r.nak[key] {
		return r.reply(0xfa)
	}
	data := body[1:]
	if len(body) > 1 {
		data = body[2:]
	}

	switch body[0] {
	case 0x19:
		return r.reply(0x19, 0x00, r.addr)
	case 0x07:
		switch body[1] {
		case 0x00, 0x01:
			r.sel = int(body[1])
		case 0xa0:
			r.freq[1-r.sel], r.mode[1-r.sel] = r.freq[r.sel], r.mode[r.sel]
		case 0xb0:
			r.freq[0], r.freq[1] = r.freq[1], r.freq[0]
			r.mode[0], r.mode[1] = r.mode[1], r.mode[0]
		}
		return r.ok()
	case 0x25:
		v := r.sel ^ int(body[1])
		if len(data) == 0 {
			return r.reply(append([]byte{0x25, body[1]}, bcd.ToLE(r.freq[v], 10)...)...)
		}
		r.freq[v], _ = bcd.FromLE(data)
		return r.ok()
	case 0x26:
		v := r.sel ^ int(body[1])
		if len(data) == 0 {
			m := r.mode[v]
			return r.reply(0x26, body[1], m.code, m.data, m.filter)
		}
		r.mode[v] = fakeMode{data[0], data[1], data[2]}
		return r.ok()
	case 0x0f:
		if len(body) == 1 {
			return r.reply(0x0f, r.split)
		}
		r.split = body[1]
		return r.ok()
	case 0x14, 0x15:
		if len(data) == 0 {
			return r.reply(append([]byte{body[0], body[1]}, bcd.ToBE(r.levels[key], 4)...)...)
		}
		r.levels[key], _ = bcd.FromBE(data)
		return r.ok()
	case 0x16, 0x1c:
		state := &r.ptt
		switch {
		case key == [2]byte{0x16, 0x42}:
			state = &r.toneOn
		case key != [2]byte{0x1c, 0x00}:
			f := r.funcs[key]
			state = &f
			defer func() { r.funcs[key] = f }()
		}
		if len(data) == 0 {
			return r.reply(body[0], body[1], *state)
		}
		*state = data[0]
		return r.ok()
	case 0x1b:
		if len(data) == 0 {
			return r.reply(append([]byte{0x1b, 0x00}, bcd.ToBE(r.tone, 6)...)...)
		}
		r.tone, _ = bcd.FromBE(data)
		return r.ok()
	case 0x21:
		if body[1] == 0x01 {
			if len(data) == 0 {
				return r.reply(0x21, 0x01, r.ritOn)
			}
			r.ritOn = data[0]
			return r.ok()
		}
		if len(data) == 0 {
			return r.reply(append(append([]byte{0x21, 0x00}, bcd.ToLE(r.rit, 4)...), r.ritSign)...)
		}
		r.rit, _ = bcd.FromLE(data[:2])
		r.ritSign = data[2]
		return r.ok()
	case 0x18:
		r.power = body[1]
		return r.ok()
	}
	return r.reply(0xfa)
}

func isFrame(b []byte, body ...byte) bool {
	return len(b) >= 6 && bytes.Equal(b[4:len(b)-1], body)
}
