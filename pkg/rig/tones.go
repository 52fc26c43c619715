package rig

import "fmt"

// CommonCTCSS is the 50-tone EIA list in tenths of Hz.
var CommonCTCSS = []int{
	670, 693, 719, 744, 770, 797, 825, 854, 885, 915,
	948, 974, 1000, 1035, 1072, 1109, 1148, 1188, 1230, 1273,
	1318, 1365, 1413, 1462, 1514, 1567, 1598, 1622, 1655, 1679,
	1713, 1738, 1773, 1799, 1835, 1862, 1899, 1928, 1966, 1995,
	2035, 2065, 2107, 2181, 2257, 2291, 2336, 2418, 2503, 2541,
}

// ToneIndex returns the position of tone in list, or -1.
func ToneIndex(list []int, tone int) int {
	for i, t := range list {
		if t == tone {
			return i
		}
	}
	return -1
}

// checkTone rejects tones the model cannot generate. Zero turns the
// encoder off and is always accepted.
func (c *Caps) checkTone(tone int) error {
	if tone == 0 || len(c.CTCSSList) == 0 {
		return nil
	}
	if ToneIndex(c.CTCSSList, tone) < 0 {
		return fmt.Errorf("%w: CTCSS tone %d.%d Hz not supported", ErrOutOfRange, tone/10, tone%10)
	}
	return nil
}
