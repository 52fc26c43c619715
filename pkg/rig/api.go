package rig

import "context"

func (s *Session) set(ctx context.Context, op Op, vfo VFO, item string, v Value) error {
	_, err := s.Execute(ctx, Request{Op: op, Dir: Set, VFO: vfo, Item: item, Value: v})
	return err
}

func (s *Session) get(ctx context.Context, op Op, vfo VFO, item string) (Value, error) {
	return s.Execute(ctx, Request{Op: op, Dir: Get, VFO: vfo, Item: item})
}

// SetFreq tunes vfo to hz.
func (s *Session) SetFreq(ctx context.Context, vfo VFO, hz int64) error {
	return s.set(ctx, OpFreq, vfo, "", Value{Freq: hz})
}

// GetFreq returns the frequency of vfo in Hz.
func (s *Session) GetFreq(ctx context.Context, vfo VFO) (int64, error) {
	v, err := s.get(ctx, OpFreq, vfo, "")
	return v.Freq, err
}

// SetMode sets mode and passband; width 0 selects the rig default.
func (s *Session) SetMode(ctx context.Context, vfo VFO, mode Mode, width int) error {
	return s.set(ctx, OpMode, vfo, "", Value{Mode: mode, Width: width})
}

// GetMode returns the mode and passband width.
func (s *Session) GetMode(ctx context.Context, vfo VFO) (Mode, int, error) {
	v, err := s.get(ctx, OpMode, vfo, "")
	return v.Mode, v.Width, err
}

// SetVFO selects the current VFO.
func (s *Session) SetVFO(ctx context.Context, vfo VFO) error {
	return s.set(ctx, OpVFO, VFOCurrent, "", Value{VFO: vfo})
}

// GetVFO returns the current VFO as reported by the rig.
func (s *Session) GetVFO(ctx context.Context) (VFO, error) {
	v, err := s.get(ctx, OpVFO, VFOCurrent, "")
	return v.VFO, err
}

// SetPTT keys or unkeys the transmitter.
func (s *Session) SetPTT(ctx context.Context, vfo VFO, on bool) error {
	return s.set(ctx, OpPTT, vfo, "", Value{Bool: on})
}

// GetPTT reports whether the transmitter is keyed.
func (s *Session) GetPTT(ctx context.Context, vfo VFO) (bool, error) {
	v, err := s.get(ctx, OpPTT, vfo, "")
	return v.Bool, err
}

// SetSplitVFO enables or disables split with txVFO transmitting.
func (s *Session) SetSplitVFO(ctx context.Context, vfo VFO, split bool, txVFO VFO) error {
	return s.set(ctx, OpSplitVFO, vfo, "", Value{Bool: split, VFO: txVFO})
}

// GetSplitVFO returns the split state and the transmit VFO.
func (s *Session) GetSplitVFO(ctx context.Context, vfo VFO) (bool, VFO, error) {
	v, err := s.get(ctx, OpSplitVFO, vfo, "")
	return v.Bool, v.VFO, err
}

// SetSplitFreq sets the transmit frequency used while split.
func (s *Session) SetSplitFreq(ctx context.Context, vfo VFO, hz int64) error {
	return s.set(ctx, OpSplitFreq, vfo, "", Value{Freq: hz})
}

// GetSplitFreq returns the transmit frequency used while split.
func (s *Session) GetSplitFreq(ctx context.Context, vfo VFO) (int64, error) {
	v, err := s.get(ctx, OpSplitFreq, vfo, "")
	return v.Freq, err
}

// SetSplitMode sets the transmit mode used while split.
func (s *Session) SetSplitMode(ctx context.Context, vfo VFO, mode Mode, width int) error {
	return s.set(ctx, OpSplitMode, vfo, "", Value{Mode: mode, Width: width})
}

// GetSplitMode returns the transmit mode used while split.
func (s *Session) GetSplitMode(ctx context.Context, vfo VFO) (Mode, int, error) {
	v, err := s.get(ctx, OpSplitMode, vfo, "")
	return v.Mode, v.Width, err
}

// SetLevel sets a level. Gains and power are 0..1, meters are read only.
func (s *Session) SetLevel(ctx context.Context, vfo VFO, level string, x float64) error {
	return s.set(ctx, OpLevel, vfo, level, Value{Float: x})
}

// GetLevel reads a level or meter.
func (s *Session) GetLevel(ctx context.Context, vfo VFO, level string) (float64, error) {
	v, err := s.get(ctx, OpLevel, vfo, level)
	return v.Float, err
}

// SetFunc switches a function on or off.
func (s *Session) SetFunc(ctx context.Context, vfo VFO, fn string, on bool) error {
	return s.set(ctx, OpFunc, vfo, fn, Value{Bool: on})
}

// GetFunc reports whether a function is on.
func (s *Session) GetFunc(ctx context.Context, vfo VFO, fn string) (bool, error) {
	v, err := s.get(ctx, OpFunc, vfo, fn)
	return v.Bool, err
}

// SetParm sets a rig-wide parameter.
func (s *Session) SetParm(ctx context.Context, parm string, v Value) error {
	return s.set(ctx, OpParm, VFONone, parm, v)
}

// GetParm reads a rig-wide parameter.
func (s *Session) GetParm(ctx context.Context, parm string) (Value, error) {
	return s.get(ctx, OpParm, VFONone, parm)
}

// SetRIT sets the receive offset in Hz, 0 clears it.
func (s *Session) SetRIT(ctx context.Context, vfo VFO, hz int) error {
	return s.set(ctx, OpRIT, vfo, "", Value{Int: hz})
}

// GetRIT returns the receive offset in Hz.
func (s *Session) GetRIT(ctx context.Context, vfo VFO) (int, error) {
	v, err := s.get(ctx, OpRIT, vfo, "")
	return v.Int, err
}

// SetXIT sets the transmit offset in Hz, 0 clears it.
func (s *Session) SetXIT(ctx context.Context, vfo VFO, hz int) error {
	return s.set(ctx, OpXIT, vfo, "", Value{Int: hz})
}

// GetXIT returns the transmit offset in Hz.
func (s *Session) GetXIT(ctx context.Context, vfo VFO) (int, error) {
	v, err := s.get(ctx, OpXIT, vfo, "")
	return v.Int, err
}

// SetCTCSSTone sets the encoder tone in tenths of Hz, 0 disables it.
func (s *Session) SetCTCSSTone(ctx context.Context, vfo VFO, tone int) error {
	return s.set(ctx, OpCTCSSTone, vfo, "", Value{Int: tone})
}

// GetCTCSSTone returns the encoder tone in tenths of Hz.
func (s *Session) GetCTCSSTone(ctx context.Context, vfo VFO) (int, error) {
	v, err := s.get(ctx, OpCTCSSTone, vfo, "")
	return v.Int, err
}

// SetPowerStat switches the rig off, on or to standby.
func (s *Session) SetPowerStat(ctx context.Context, status int) error {
	return s.set(ctx, OpPowerStat, VFONone, "", Value{Int: status})
}

// GetPowerStat returns the power state.
func (s *Session) GetPowerStat(ctx context.Context) (int, error) {
	v, err := s.get(ctx, OpPowerStat, VFONone, "")
	return v.Int, err
}

// VFOOp performs a VFO operation such as CPY or XCHG.
func (s *Session) VFOOp(ctx context.Context, vfo VFO, op string) error {
	return s.set(ctx, OpVFOOp, vfo, op, Value{})
}

// GetInfo returns the rig's identification string.
func (s *Session) GetInfo(ctx context.Context) (string, error) {
	v, err := s.get(ctx, OpInfo, VFONone, "")
	return v.Str, err
}

// SetPosition turns a rotator to az, el degrees.
func (s *Session) SetPosition(ctx context.Context, az, el float64) error {
	return s.set(ctx, OpPosition, VFONone, "", Value{Az: az, El: el})
}

// GetPosition returns the rotator position in degrees.
func (s *Session) GetPosition(ctx context.Context) (az, el float64, err error) {
	v, err := s.get(ctx, OpPosition, VFONone, "")
	return v.Az, v.El, err
}

// Stop halts rotator movement.
func (s *Session) Stop(ctx context.Context) error {
	return s.set(ctx, OpStop, VFONone, "", Value{})
}

// Park moves the rotator to its park position.
func (s *Session) Park(ctx context.Context) error {
	return s.set(ctx, OpPark, VFONone, "", Value{})
}
