package all

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dougsko/rigd/pkg/rig"
)

func TestRegistry(t *testing.T) {
	t.Run("Every Model Is Registered", func(t *testing.T) {
		for _, id := range []int{1, 2, 901, 902, 903, 1035, 1051, 3073, 3085} {
			caps, ok := rig.Lookup(id)
			if assert.True(t, ok, "model %d", id) {
				assert.Equal(t, id, caps.Model)
				assert.NotEmpty(t, caps.Ops)
			}
		}
	})

	t.Run("Models Are Sorted", func(t *testing.T) {
		models := rig.Models()
		for i := 1; i < len(models); i++ {
			assert.Less(t, models[i-1].Model, models[i].Model)
		}
	})
}
