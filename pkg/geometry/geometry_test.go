package geometry

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squareAt(lon, lat, sideDeg float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{lon, lat},
		{lon + sideDeg, lat},
		{lon + sideDeg, lat + sideDeg},
		{lon, lat + sideDeg},
		{lon, lat},
	}}
}

func TestValidatePolygon(t *testing.T) {
	tests := []struct {
		name    string
		poly    orb.Polygon
		wantErr bool
	}{
		{
			name: "valid square",
			poly: squareAt(36.8, -1.3, 0.001),
		},
		{
			name:    "no rings",
			poly:    orb.Polygon{},
			wantErr: true,
		},
		{
			name: "open ring",
			poly: orb.Polygon{orb.Ring{
				{36.8, -1.3}, {36.801, -1.3}, {36.801, -1.299}, {36.8, -1.299},
			}},
			wantErr: true,
		},
		{
			name: "too few points",
			poly: orb.Polygon{orb.Ring{
				{36.8, -1.3}, {36.801, -1.3}, {36.8, -1.3},
			}},
			wantErr: true,
		},
		{
			name: "self intersecting bowtie",
			poly: orb.Polygon{orb.Ring{
				{0, 0}, {1, 1}, {1, 0}, {0, 1}, {0, 0},
			}},
			wantErr: true,
		},
		{
			name: "coordinate out of range",
			poly: orb.Polygon{orb.Ring{
				{190, 0}, {191, 0}, {191, 1}, {190, 1}, {190, 0},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePolygon(tt.poly)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAreaM2(t *testing.T) {
	// ~111m x ~111m square at the equator
	poly := squareAt(0, 0, 0.001)
	area := AreaM2(poly)
	assert.InDelta(t, 111.32*111.32, area, 500)
}

func TestDistanceM(t *testing.T) {
	a := orb.Point{36.8, -1.3}
	b := orb.Point{36.8, -1.299}
	d := DistanceM(a, b)
	assert.InDelta(t, 111.2, d, 1.0)
}

func TestIsDegenerate(t *testing.T) {
	assert.False(t, IsDegenerate(orb.Point{1, 1}))
	assert.False(t, IsDegenerate(squareAt(0, 0, 0.001)))
	assert.True(t, IsDegenerate(orb.Polygon{}))
	assert.True(t, IsDegenerate(orb.Polygon{orb.Ring{{0, 0}, {0, 0}, {0, 0}, {0, 0}}}))
	assert.True(t, IsDegenerate(orb.LineString{{0, 0}}))
	assert.True(t, IsDegenerate(nil))
}

func TestOverlapFraction(t *testing.T) {
	tests := []struct {
		name string
		a    orb.Polygon
		b    orb.Polygon
		min  float64
		max  float64
	}{
		{
			name: "identical squares",
			a:    squareAt(36.8, -1.3, 0.001),
			b:    squareAt(36.8, -1.3, 0.001),
			min:  0.99,
			max:  1.01,
		},
		{
			name: "half overlap",
			a:    squareAt(36.8, -1.3, 0.001),
			b:    squareAt(36.8005, -1.3, 0.001),
			min:  0.45,
			max:  0.55,
		},
		{
			name: "disjoint",
			a:    squareAt(36.8, -1.3, 0.001),
			b:    squareAt(36.9, -1.3, 0.001),
			min:  0,
			max:  0.001,
		},
		{
			name: "small inside large measured against smaller",
			a:    squareAt(36.8, -1.3, 0.002),
			b:    squareAt(36.8005, -1.2995, 0.0005),
			min:  0.99,
			max:  1.01,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := OverlapFraction(tt.a, tt.b)
			assert.GreaterOrEqual(t, f, tt.min)
			assert.LessOrEqual(t, f, tt.max)
		})
	}
}

func TestOverpassPoly(t *testing.T) {
	poly := orb.Polygon{orb.Ring{{36.8, -1.3}, {36.9, -1.3}, {36.9, -1.2}, {36.8, -1.3}}}
	s := OverpassPoly(poly)
	require.Equal(t, "-1.3 36.8 -1.3 36.9 -1.2 36.9 -1.3 36.8", s)
}

func TestProjectorRoundsNearOrigin(t *testing.T) {
	p := NewProjector(orb.Point{36.8, -1.3})
	pt := p.Project(orb.Point{36.8, -1.3})
	assert.InDelta(t, 0, pt[0], 1e-9)
	assert.InDelta(t, 0, pt[1], 1e-9)

	// one meter north should project to ~1m on y
	north := p.Project(orb.Point{36.8, -1.3 + 1.0/111319.49})
	assert.InDelta(t, 1.0, north[1], 0.01)
}
