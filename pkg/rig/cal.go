package rig

import "sort"

// CalPoint maps a raw meter reading to a calibrated value.
type CalPoint struct {
	Raw int
	Val float64
}

// CalTable converts raw meter readings by linear interpolation between
// points sorted by Raw. Readings outside the table clamp to its ends.
type CalTable []CalPoint

// Interpolate converts raw.
func (t CalTable) Interpolate(raw int) float64 {
	switch len(t) {
	case 0:
		return float64(raw)
	case 1:
		return t[0].Val
	}
	if raw <= t[0].Raw {
		return t[0].Val
	}
	last := t[len(t)-1]
	if raw >= last.Raw {
		return last.Val
	}
	i := sort.Search(len(t), func(i int) bool { return t[i].Raw >= raw })
	lo, hi := t[i-1], t[i]
	if hi.Raw == lo.Raw {
		return hi.Val
	}
	frac := float64(raw-lo.Raw) / float64(hi.Raw-lo.Raw)
	return lo.Val + frac*(hi.Val-lo.Val)
}

// DefaultStrengthCal gives the S-meter in dB relative to S9 for rigs
// reporting 0..255.
var DefaultStrengthCal = CalTable{
	{0, -54}, {12, -48}, {27, -42}, {40, -36}, {55, -30}, {65, -24},
	{80, -18}, {95, -12}, {112, -6}, {130, 0}, {150, 10}, {172, 20},
	{190, 30}, {220, 40}, {240, 50}, {255, 60},
}

// DefaultSWRCal gives the SWR ratio for rigs reporting 0..255.
var DefaultSWRCal = CalTable{
	{0, 1.0}, {26, 1.2}, {52, 1.5}, {89, 2.0}, {126, 3.0}, {255, 10.0},
}
