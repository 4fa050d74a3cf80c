package ladder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"perpmomentum/internal/model"
)

func TestBuild_LongMatchesWorkedExample(t *testing.T) {
	triggers, stops := Build(0.5, model.SideLong, 1.0, 0.1, 5)

	assert.Equal(t, []float64{0.505, 0.510, 0.515, 0.520, 0.525}, triggers)
	assert.Len(t, stops, 5)
	assert.InDelta(t, 0.4945*1.011, stops[0], 1e-8)
	for i := 1; i < len(stops); i++ {
		assert.Greater(t, stops[i], stops[i-1])
	}
}

func TestBuild_ShortIsMirrored(t *testing.T) {
	triggers, stops := Build(0.5, model.SideShort, 1.0, 0.1, 5)

	for i := 1; i < len(triggers); i++ {
		assert.Less(t, triggers[i], triggers[i-1])
	}
	for i := 1; i < len(stops); i++ {
		assert.Less(t, stops[i], stops[i-1])
	}
}

func TestBuild_IsDeterministic(t *testing.T) {
	t1, s1 := Build(123.456, model.SideLong, 2.5, 0.2, 20)
	t2, s2 := Build(123.456, model.SideLong, 2.5, 0.2, 20)
	assert.Equal(t, t1, t2)
	assert.Equal(t, s1, s2)
}
