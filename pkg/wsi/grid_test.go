package wsi

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileGrid_Dimensions(t *testing.T) {
	g, err := NewTileGrid(400, 300, 80)
	require.NoError(t, err)
	assert.Equal(t, 5, g.Cols())
	assert.Equal(t, 4, g.Rows())
	assert.Equal(t, 20, g.Count())
}

func TestTileGrid_EdgeTilesTruncated(t *testing.T) {
	g, err := NewTileGrid(400, 300, 80)
	require.NoError(t, err)

	r, ok := g.Tile(0, 0)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 80, 80), r)

	r, ok = g.Tile(4, 3)
	require.True(t, ok)
	assert.Equal(t, image.Rect(320, 240, 400, 300), r)

	_, ok = g.Tile(5, 0)
	assert.False(t, ok)
	_, ok = g.Tile(0, -1)
	assert.False(t, ok)
}

func TestTileGrid_CoordinatesXMajor(t *testing.T) {
	g, err := NewTileGrid(20, 30, 10)
	require.NoError(t, err)
	coords := g.Coordinates()
	require.Len(t, coords, 6)
	assert.Equal(t, []image.Point{
		{0, 0}, {0, 1}, {0, 2},
		{1, 0}, {1, 1}, {1, 2},
	}, coords)
}

func TestNewTileGrid_Invalid(t *testing.T) {
	_, err := NewTileGrid(0, 10, 5)
	assert.Error(t, err)
	_, err = NewTileGrid(10, 10, 0)
	assert.Error(t, err)
}
