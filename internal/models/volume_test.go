package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometryOffsets(t *testing.T) {
	g := NewGeometry([Dim]int{4, 3, 2}, [Dim]float64{1, 1, 1}, [Dim]float64{})
	require.NoError(t, g.Validate())
	assert.Equal(t, 24, g.Len())

	for off := 0; off < g.Len(); off++ {
		assert.Equal(t, off, g.Offset(g.IndexOf(off)))
	}
	assert.Equal(t, 1, g.Offset(Index{1, 0, 0}))
	assert.Equal(t, 4, g.Offset(Index{0, 1, 0}))
	assert.Equal(t, 12, g.Offset(Index{0, 0, 1}))

	assert.True(t, g.Contains(Index{3, 2, 1}))
	assert.False(t, g.Contains(Index{4, 0, 0}))
	assert.False(t, g.Contains(Index{0, -1, 0}))
}

func TestGeometryValidate(t *testing.T) {
	assert.Error(t, NewGeometry([Dim]int{0, 1, 1}, [Dim]float64{1, 1, 1}, [Dim]float64{}).Validate())
	assert.Error(t, NewGeometry([Dim]int{1, 1, 1}, [Dim]float64{1, -1, 1}, [Dim]float64{}).Validate())
}

func TestIndexToPoint(t *testing.T) {
	g := NewGeometry([Dim]int{10, 10, 10}, [Dim]float64{2, 2, 3}, [Dim]float64{-10, 5, 1})
	p := g.IndexToPoint(Index{1, 2, 3})
	assert.Equal(t, -8.0, p.X)
	assert.Equal(t, 9.0, p.Y)
	assert.Equal(t, 10.0, p.Z)
	assert.Equal(t, 12.0, g.VoxelVolume())

	// LPS flip of the first two axes
	g.Direction = [Dim][Dim]float64{{-1, 0, 0}, {0, -1, 0}, {0, 0, 1}}
	p = g.IndexToPoint(Index{1, 2, 3})
	assert.Equal(t, -12.0, p.X)
	assert.Equal(t, 1.0, p.Y)
	assert.Equal(t, 10.0, p.Z)
}

func TestSameAs(t *testing.T) {
	a := NewGeometry([Dim]int{5, 5, 5}, [Dim]float64{1, 1, 2}, [Dim]float64{0, 0, 0})
	b := a
	b.Origin[2] += 1e-8
	assert.True(t, a.SameAs(b, GeometryTolerance))

	b.Spacing[0] = 1.1
	assert.False(t, a.SameAs(b, GeometryTolerance))

	c := a
	c.Size[1] = 6
	assert.False(t, a.SameAs(c, GeometryTolerance))

	// an explicit identity equals the implicit one
	d := a
	d.Direction = [Dim][Dim]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	assert.True(t, a.SameAs(d, GeometryTolerance))

	assert.NotPanics(t, func() { MustMatch(a, d) })
	assert.Panics(t, func() { MustMatch(a, c) })
}

func TestLabelVolume(t *testing.T) {
	g := NewGeometry([Dim]int{5, 5, 5}, [Dim]float64{1, 1, 1}, [Dim]float64{})
	l := NewLabelVolume(g)
	l.Set(Index{1, 2, 3}, 4)
	l.Set(Index{3, 1, 2}, 4)
	l.Set(Index{0, 0, 0}, 2)

	assert.Equal(t, []int32{2, 4}, l.Labels())
	assert.Equal(t, int32(4), l.At(Index{3, 1, 2}))

	b := l.LabelBounds(4)
	assert.Equal(t, Bounds{Min: Index{1, 1, 2}, Max: Index{3, 2, 3}}, b)
	assert.False(t, b.Empty())

	e := b.Expand([Dim]int{2, 2, 2}, g)
	assert.Equal(t, Bounds{Min: Index{0, 0, 0}, Max: Index{4, 4, 4}}, e)

	assert.True(t, l.LabelBounds(7).Empty())
	assert.True(t, l.LabelBounds(7).Expand([Dim]int{1, 1, 1}, g).Empty())
}

func TestVolumeAccessors(t *testing.T) {
	g := NewGeometry([Dim]int{2, 2, 2}, [Dim]float64{1, 1, 1}, [Dim]float64{})
	v := NewVolume(g)
	v.Set(Index{1, 1, 1}, 3.5)
	assert.Equal(t, 3.5, v.At(Index{1, 1, 1}))
	assert.Equal(t, 3.5, v.Data[7])
	assert.Equal(t, Index{2, 0, 0}, Index{1, 0, 0}.Add(Index{1, 0, 0}))
}
