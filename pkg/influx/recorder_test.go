package influx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/rigd/pkg/monitor"
	"github.com/dougsko/rigd/pkg/rig"
)

func fields(t *testing.T, snap monitor.Snapshot) map[string]interface{} {
	t.Helper()
	p := Point(snap)
	require.NotNil(t, p)
	out := make(map[string]interface{})
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestPoint(t *testing.T) {
	ts := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	snap := monitor.Snapshot{
		Timestamp: ts,
		Model:     1035,
		Name:      "Yaesu FT-991",
		Freq:      14074000,
		Mode:      rig.ModeUSB,
		Width:     2400,
		VFO:       "VFOA",
		PTT:       true,
		Meters:    map[string]float64{rig.LevelSWR: 1.3},
	}

	t.Run("Tags And Fields", func(t *testing.T) {
		p := Point(snap)
		require.NotNil(t, p)
		assert.Equal(t, "rig", p.Name())
		assert.Equal(t, ts, p.Time())

		tags := make(map[string]string)
		for _, tag := range p.TagList() {
			tags[tag.Key] = tag.Value
		}
		assert.Equal(t, map[string]string{"model": "1035", "name": "Yaesu FT-991"}, tags)

		f := fields(t, snap)
		assert.Equal(t, int64(14074000), f["freq"])
		assert.Equal(t, "USB", f["mode"])
		assert.Equal(t, true, f["ptt"])
		assert.Equal(t, 1.3, f["meter_SWR"])
		assert.NotContains(t, f, "az")
	})

	t.Run("Rotator Position", func(t *testing.T) {
		withRot := snap
		withRot.Rotator = &monitor.Position{Az: 180, El: 30}
		f := fields(t, withRot)
		assert.Equal(t, 180.0, f["az"])
		assert.Equal(t, 30.0, f["el"])
	})

	t.Run("Empty Snapshot", func(t *testing.T) {
		assert.Nil(t, Point(monitor.Snapshot{State: "closed", Error: "not initialized"}))
	})
}
