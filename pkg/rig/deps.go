package rig

// Cache invalidation after a successful set. Each rule names the op that
// triggers it and which keys it drops.

var meterLevels = map[string]bool{
	LevelStrength:     true,
	LevelSWR:          true,
	LevelALC:          true,
	LevelRFPowerMeter: true,
}

func isRelativeVFO(v VFO) bool {
	return v == VFOCurrent || v == VFOTX || v == VFORX
}

func isPerVFO(op Op) bool {
	switch op {
	case OpFreq, OpMode, OpRIT, OpXIT, OpCTCSSTone, OpSplitFreq, OpSplitMode, OpSplitVFO, OpLevel, OpFunc:
		return true
	}
	return false
}

type dependency struct {
	on    Op
	drops func(req Request, k Key) bool
}

var dependencies = []dependency{
	// Selectors alias each other: currVFO is VFOA or VFOB, TX is one of them.
	{on: 0, drops: func(req Request, k Key) bool {
		return k.Op == req.Op && k.Item == req.Item && k.VFO != req.VFO
	}},
	{on: OpVFO, drops: func(req Request, k Key) bool {
		return isRelativeVFO(k.VFO) || k.Op == OpSplitVFO
	}},
	{on: OpSplitVFO, drops: func(req Request, k Key) bool {
		return k.Op == OpSplitFreq || k.Op == OpSplitMode || k.VFO == VFOTX || k.VFO == VFORX
	}},
	{on: OpSplitFreq, drops: func(req Request, k Key) bool {
		return k.Op == OpFreq && k.VFO != VFOCurrent && k.VFO != VFORX
	}},
	{on: OpSplitMode, drops: func(req Request, k Key) bool {
		return k.Op == OpMode && k.VFO != VFOCurrent && k.VFO != VFORX
	}},
	{on: OpVFOOp, drops: func(req Request, k Key) bool {
		return k.VFO != VFONone || k.Op == OpVFO || isPerVFO(k.Op) ||
			(k.Op == OpParm && k.Item == ParmBandSelect)
	}},
	{on: OpPTT, drops: func(req Request, k Key) bool {
		return k.Op == OpLevel && meterLevels[k.Item]
	}},
	{on: OpFreq, drops: func(req Request, k Key) bool {
		return k.Op == OpSplitFreq || (k.Op == OpParm && k.Item == ParmBandSelect)
	}},
	// While split is on the TX VFO's freq and mode are the split values.
	{on: OpMode, drops: func(req Request, k Key) bool {
		return k.Op == OpSplitMode
	}},
	{on: OpParm, drops: func(req Request, k Key) bool {
		return req.Item == ParmBandSelect && (k.Op == OpFreq || k.Op == OpMode)
	}},
	{on: OpStop, drops: func(req Request, k Key) bool {
		return k.Op == OpPosition
	}},
	{on: OpPark, drops: func(req Request, k Key) bool {
		return k.Op == OpPosition
	}},
	{on: OpPowerStat, drops: func(req Request, k Key) bool {
		return true
	}},
}

// afterSet applies the dependency table, then writes the new value
// through to the key a matching get would read.
func (s *Session) afterSet(req Request, r resolved) {
	dropped := s.cache.InvalidateFunc(func(k Key) bool {
		for _, d := range dependencies {
			if (d.on == 0 || d.on == req.Op) && d.drops(req, k) {
				return true
			}
		}
		return false
	})
	if dropped > 0 {
		s.log.Debugf("cache", "%s invalidated %d entries", req, dropped)
	}

	if req.Op == OpVFO {
		s.setCurrentVFO(req.Value.VFO)
	}

	if !r.access.Allows(Get) || r.noCache {
		return
	}
	// A mode set with the default passband does not tell us the width.
	if (req.Op == OpMode || req.Op == OpSplitMode) && req.Value.Width <= 0 {
		s.cache.Invalidate(keyFor(req))
		return
	}
	s.cache.Put(keyFor(req), req.Value)
}
