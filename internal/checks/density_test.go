package checks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ausseabed/mbesgc-go/internal/gridcheck"
	"github.com/ausseabed/mbesgc-go/internal/model"
	"github.com/ausseabed/mbesgc-go/internal/rasterio"
	"github.com/ausseabed/mbesgc-go/internal/tiling"
)

func s1DensityGrid() *rasterio.Grid {
	values := []float64{
		10, 1, 9, 9,
		10, 2, 10, 10,
		10, 10, 10, 10,
		10, 10, 10, 10,
		10, 10, 10, 10,
	}
	mask := []bool{
		false, false, false, false,
		false, false, false, false,
		false, false, false, false,
		false, false, false, true,
		false, false, true, true,
	}
	return &rasterio.Grid{Width: 4, Height: 5, Values: values, Mask: mask}
}

func ifdWithResolution(res float64) *model.IFD {
	return &model.IFD{
		GeoTransform: [6]float64{0, res, 0, 0, 0, -res},
	}
}

func TestDensityCheckS1Threshold(t *testing.T) {
	check := NewDensityCheck([]model.CheckParam{
		{Name: "Minimum Soundings per node", Value: 5.0},
		{Name: "Minimum Soundings per node percentage", Value: 95.0},
	}).(*DensityCheck)

	check.Start()
	err := check.Run(ifdWithResolution(1), tiling.Tile{MinX: 0, MinY: 0, MaxX: 4, MaxY: 5}, gridcheck.Bands{Density: s1DensityGrid()})
	require.NoError(t, err)
	check.End()

	assert.Equal(t, map[int]int{1: 1, 2: 1, 9: 2, 10: 13}, check.histogram)

	out := check.Outputs()
	assert.Equal(t, gridcheck.Fail, out.State)
	summary := out.Data["summary"].(map[string]interface{})
	assert.Equal(t, 17, summary["total_soundings"])
	assert.Equal(t, 2, summary["under_threshold_soundings"])
	assert.InDelta(t, 88.235, summary["percentage_over_threshold"].(float64), 0.001)
}

func TestDensityCheckS2PercentageOnly(t *testing.T) {
	check := NewDensityCheck([]model.CheckParam{
		{Name: "Minimum Soundings per node", Value: 0.0},
		{Name: "Minimum Soundings per node percentage", Value: 95.0},
	}).(*DensityCheck)

	check.Start()
	err := check.Run(ifdWithResolution(1), tiling.Tile{MinX: 0, MinY: 0, MaxX: 4, MaxY: 5}, gridcheck.Bands{Density: s1DensityGrid()})
	require.NoError(t, err)
	check.End()

	out := check.Outputs()
	summary := out.Data["summary"].(map[string]interface{})
	assert.Equal(t, 0, summary["under_threshold_soundings"])
	assert.InDelta(t, 100.0, summary["percentage_over_threshold"].(float64), 0.001)
	assert.Equal(t, gridcheck.Pass, out.State)
}

func TestDensityCheckPassesWhenPercentageClearsThresholdDespiteUnderThresholdNodes(t *testing.T) {
	check := NewDensityCheck([]model.CheckParam{
		{Name: "Minimum Soundings per node", Value: 5.0},
		{Name: "Minimum Soundings per node percentage", Value: 50.0},
	}).(*DensityCheck)
	check.histogram = map[int]int{1: 1, 100: 99}

	out := check.Outputs()
	summary := out.Data["summary"].(map[string]interface{})
	assert.Equal(t, 1, summary["under_threshold_soundings"])
	assert.InDelta(t, 99.0, summary["percentage_over_threshold"].(float64), 0.001)
	// under_threshold_soundings is nonzero but the percentage still clears
	// min_spn_percentage, so state must follow the percentage alone.
	assert.Equal(t, gridcheck.Pass, out.State)
}

func TestDensityCheckS2FailsWithMinSPN5(t *testing.T) {
	check := NewDensityCheck([]model.CheckParam{
		{Name: "Minimum Soundings per node", Value: 5.0},
		{Name: "Minimum Soundings per node percentage", Value: 95.0},
	}).(*DensityCheck)

	check.Start()
	err := check.Run(ifdWithResolution(1), tiling.Tile{MinX: 0, MinY: 0, MaxX: 4, MaxY: 5}, gridcheck.Bands{Density: s1DensityGrid()})
	require.NoError(t, err)
	check.End()

	out := check.Outputs()
	assert.Equal(t, gridcheck.Fail, out.State)
}

func TestDensityCheckMissingBandAborts(t *testing.T) {
	check := NewDensityCheck(nil).(*DensityCheck)
	check.Start()
	err := check.Run(ifdWithResolution(1), tiling.Tile{}, gridcheck.Bands{})
	require.NoError(t, err)

	assert.Equal(t, gridcheck.StatusAborted, check.Status())
	out := check.Outputs()
	assert.Equal(t, gridcheck.Fail, out.State)
	assert.Equal(t, []string{"Missing density data"}, out.Messages)
}

func TestDensityCheckMergeAssociativity(t *testing.T) {
	a := NewDensityCheck(nil).(*DensityCheck)
	a.histogram = map[int]int{0: 3, 1: 5, 2: 7, 5: 8, 10: 1}

	b := NewDensityCheck(nil).(*DensityCheck)
	b.histogram = map[int]int{0: 1, 2: 3, 4: 2, 5: 3, 9: 1}

	merged1 := NewDensityCheck(nil).(*DensityCheck)
	merged1.histogram = cloneHistogram(a.histogram)
	merged1.Merge(b)

	merged2 := NewDensityCheck(nil).(*DensityCheck)
	merged2.histogram = cloneHistogram(b.histogram)
	merged2.Merge(a)

	expected := map[int]int{0: 4, 1: 5, 2: 10, 4: 2, 5: 11, 9: 1, 10: 1}
	assert.Equal(t, expected, merged1.histogram)
	assert.Equal(t, expected, merged2.histogram)
}

func cloneHistogram(h map[int]int) map[int]int {
	out := make(map[int]int, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
