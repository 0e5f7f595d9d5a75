package fingerprint

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestGenerate_Deterministic(t *testing.T) {
	a := map[string]any{"name": "kiosk", "levels": 2, "tags": []any{"shop", "roof"}}
	b := map[string]any{"tags": []any{"shop", "roof"}, "levels": 2, "name": "kiosk"}

	assert.Equal(t, Generate(a), Generate(b))
}

func TestGenerate_DifferentData(t *testing.T) {
	a := map[string]any{"name": "kiosk"}
	b := map[string]any{"name": "stall"}

	assert.NotEqual(t, Generate(a), Generate(b))
}

func TestGeometry(t *testing.T) {
	square := orb.Polygon{orb.Ring{{36.8, -1.3}, {36.801, -1.3}, {36.801, -1.299}, {36.8, -1.299}, {36.8, -1.3}}}

	t.Run("stable across calls", func(t *testing.T) {
		assert.Equal(t, Geometry(square, "building"), Geometry(square, "building"))
	})

	t.Run("type changes identity", func(t *testing.T) {
		assert.NotEqual(t, Geometry(square, "building"), Geometry(square, "poi"))
	})

	t.Run("float noise below 1cm is ignored", func(t *testing.T) {
		noisy := orb.Polygon{orb.Ring{
			{36.80000000004, -1.29999999996},
			{36.801, -1.3},
			{36.801, -1.299},
			{36.8, -1.299},
			{36.8, -1.3},
		}}
		assert.Equal(t, Geometry(square, "building"), Geometry(noisy, "building"))
	})

	t.Run("different shapes differ", func(t *testing.T) {
		other := orb.Polygon{orb.Ring{{36.9, -1.3}, {36.901, -1.3}, {36.901, -1.299}, {36.9, -1.299}, {36.9, -1.3}}}
		assert.NotEqual(t, Geometry(square, "building"), Geometry(other, "building"))
	})

	t.Run("point geometry", func(t *testing.T) {
		assert.NotEqual(t, Geometry(orb.Point{36.8, -1.3}, "poi"), Geometry(orb.Point{36.81, -1.3}, "poi"))
	})
}
