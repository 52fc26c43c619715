package dummy

import (
	"context"
	"sync"
	"time"

	"github.com/dougsko/rigd/pkg/rig"
	"github.com/dougsko/rigd/pkg/transport"
)

// rotator moves instantly to the commanded position.
type rotator struct {
	mu     sync.Mutex
	az, el float64
}

func newRotator() any {
	return &rotator{}
}

func rotate(fn func(r *rotator, req rig.Request) rig.Value) func(context.Context, *rig.Session, rig.Request) (rig.Value, error) {
	return func(ctx context.Context, s *rig.Session, req rig.Request) (rig.Value, error) {
		r := s.BackendState().(*rotator)
		r.mu.Lock()
		defer r.mu.Unlock()
		return fn(r, req), nil
	}
}

func rotatorCaps() *rig.Caps {
	return &rig.Caps{
		Model:        RotatorModel,
		Name:         "Dummy rotator",
		Manufacturer: "Hamlib",
		Version:      "1.0",
		Status:       rig.StatusStable,
		Type:         rig.TypeRotator,
		Port:         transport.Config{Type: transport.TypeNone},
		Timeout:      50 * time.Millisecond,
		Retry:        1,
		NewState:     newRotator,
		Ops: map[rig.Op]*rig.Handler{
			rig.OpPosition: {
				Access: rig.AccessGetSet,
				Bounds: []rig.Bound{
					{Field: rig.FieldAz, Ranges: []rig.Range{{Min: -180, Max: 450}}},
					{Field: rig.FieldEl, Ranges: []rig.Range{{Min: 0, Max: 90}}},
				},
				Do: rotate(func(r *rotator, req rig.Request) rig.Value {
					if req.Dir == rig.Set {
						r.az, r.el = req.Value.Az, req.Value.El
					}
					return rig.Value{Az: r.az, El: r.el}
				}),
			},
			rig.OpStop: {Access: rig.AccessSet, Do: rotate(func(r *rotator, req rig.Request) rig.Value {
				return rig.Value{}
			})},
			rig.OpPark: {Access: rig.AccessSet, Do: rotate(func(r *rotator, req rig.Request) rig.Value {
				r.az, r.el = 0, 0
				return rig.Value{}
			})},
			rig.OpInfo: {Access: rig.AccessGet, Static: true, Do: rotate(func(r *rotator, req rig.Request) rig.Value {
				return rig.Value{Str: "Dummy rotator, simulated"}
			})},
		},
	}
}
