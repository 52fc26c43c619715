// Package bcd converts between integers and packed binary coded decimal
// as used by CI-V frequency fields and similar binary CAT protocols.
package bcd

import "fmt"

// ErrDigit reports a nibble outside 0-9.
type ErrDigit struct {
	Index  int
	Nibble byte
}

func (e *ErrDigit) Error() string {
	return fmt.Sprintf("bcd: invalid nibble %#x at byte %d", e.Nibble, e.Index)
}

// ToLE packs the low digits decimal digits of n, least significant byte
// first. Digits beyond the width are dropped; negative values are
// encoded as their magnitude.
func ToLE(n uint64, digits int) []byte {
	out := make([]byte, (digits+1)/2)
	for i := 0; i < digits; i++ {
		d := byte(n % 10)
		n /= 10
		if i%2 == 0 {
			out[i/2] = d
		} else {
			out[i/2] |= d << 4
		}
	}
	return out
}

// FromLE decodes a least significant byte first packed value.
func FromLE(b []byte) (uint64, error) {
	var n uint64
	for i := len(b) - 1; i >= 0; i-- {
		hi, lo := b[i]>>4, b[i]&0x0f
		if hi > 9 {
			return 0, &ErrDigit{Index: i, Nibble: hi}
		}
		if lo > 9 {
			return 0, &ErrDigit{Index: i, Nibble: lo}
		}
		n = n*100 + uint64(hi)*10 + uint64(lo)
	}
	return n, nil
}

// ToBE is ToLE with the most significant byte first.
func ToBE(n uint64, digits int) []byte {
	le := ToLE(n, digits)
	for i, j := 0, len(le)-1; i < j; i, j = i+1, j-1 {
		le[i], le[j] = le[j], le[i]
	}
	return le
}

// FromBE decodes a most significant byte first packed value.
func FromBE(b []byte) (uint64, error) {
	var n uint64
	for i := 0; i < len(b); i++ {
		hi, lo := b[i]>>4, b[i]&0x0f
		if hi > 9 {
			return 0, &ErrDigit{Index: i, Nibble: hi}
		}
		if lo > 9 {
			return 0, &ErrDigit{Index: i, Nibble: lo}
		}
		n = n*100 + uint64(hi)*10 + uint64(lo)
	}
	return n, nil
}
