package exports

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagery-explorer/internal/common"
	"imagery-explorer/internal/tiles"
)

var parisBBox = common.BoundingBox{South: 48.8, West: 2.2, North: 48.9, East: 2.4}

func TestValidateCoordinates(t *testing.T) {
	assert.NoError(t, ValidateCoordinates(parisBBox, 12))

	assert.Error(t, ValidateCoordinates(parisBBox, -1))
	assert.Error(t, ValidateCoordinates(parisBBox, tiles.MaxZoom+1))

	inverted := common.BoundingBox{South: 48.9, West: 2.2, North: 48.8, East: 2.4}
	assert.Error(t, ValidateCoordinates(inverted, 12))

	outOfRange := common.BoundingBox{South: -91, West: 2.2, North: 48.9, East: 2.4}
	assert.Error(t, ValidateCoordinates(outOfRange, 12))
}

func TestCheckTileBudget(t *testing.T) {
	// 9 tiles at zoom 12, thousands at zoom 18
	assert.NoError(t, CheckTileBudget(parisBBox, 12))

	err := CheckTileBudget(parisBBox, 18)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tile limit")
	assert.Contains(t, err.Error(), "zoom 18")
}

func TestMaxZoomForBudget(t *testing.T) {
	zoom := MaxZoomForBudget(parisBBox)
	require.GreaterOrEqual(t, zoom, tiles.MinZoom)

	assert.NoError(t, CheckTileBudget(parisBBox, zoom))
	if zoom < tiles.MaxZoom {
		assert.Error(t, CheckTileBudget(parisBBox, zoom+1))
	}
}

func TestValidateOutputPath(t *testing.T) {
	base := t.TempDir()

	assert.NoError(t, ValidateOutputPath(base, filepath.Join(base, "scene.tif")))
	assert.NoError(t, ValidateOutputPath(base, filepath.Join(base, "nested", "scene.tif")))

	err := ValidateOutputPath(base, filepath.Join(base, "..", "escape.tif"))
	assert.Error(t, err)
}
