package pinkchart

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ausseabed/mbesgc-go/internal/rasterio"
)

func TestCalcIdealExtentsAlignsOutward(t *testing.T) {
	source := Extents{MinX: -4, MinY: 1, MaxX: 1, MaxY: 5}
	target := Extents{MinX: -6.3, MinY: -0.1, MaxX: 2.1, MaxY: 4.1}

	got := CalcIdealExtents(0.5, 0.5, source, target)

	assert.Equal(t, Extents{MinX: -6.5, MinY: -0.5, MaxX: 2.5, MaxY: 4.5}, got)
}

func TestCalcIdealExtentsIsSupersetAndGridAligned(t *testing.T) {
	cases := []struct {
		name           string
		resX, resY     float64
		source, target Extents
	}{
		{"target fully inside source", 1, 1,
			Extents{0, 0, 10, 10}, Extents{2, 2, 8, 8}},
		{"target fully outside source", 2, 2,
			Extents{0, 0, 10, 10}, Extents{20, 20, 30, 30}},
		{"partial overlap", 0.25, 0.25,
			Extents{0, 0, 5, 5}, Extents{3, 3, 8, 8}},
		{"exact match needs no growth", 1, 1,
			Extents{0, 0, 10, 10}, Extents{0, 0, 10, 10}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CalcIdealExtents(tc.resX, tc.resY, tc.source, tc.target)

			assert.LessOrEqual(t, got.MinX, tc.source.MinX)
			assert.LessOrEqual(t, got.MinX, tc.target.MinX)
			assert.LessOrEqual(t, got.MinY, tc.source.MinY)
			assert.LessOrEqual(t, got.MinY, tc.target.MinY)
			assert.GreaterOrEqual(t, got.MaxX, tc.source.MaxX)
			assert.GreaterOrEqual(t, got.MaxX, tc.target.MaxX)
			assert.GreaterOrEqual(t, got.MaxY, tc.source.MaxY)
			assert.GreaterOrEqual(t, got.MaxY, tc.target.MaxY)

			assertGridAligned(t, got.MinX, tc.source.MinX, tc.resX)
			assertGridAligned(t, got.MaxX, tc.source.MaxX, tc.resX)
			assertGridAligned(t, got.MinY, tc.source.MinY, tc.resY)
			assertGridAligned(t, got.MaxY, tc.source.MaxY, tc.resY)
		})
	}
}

func assertGridAligned(t *testing.T, value, origin, res float64) {
	t.Helper()
	units := (value - origin) / res
	rounded := math.Round(units)
	assert.InDelta(t, rounded, units, 1e-6)
}

func TestFromGeoTransform(t *testing.T) {
	gt := [6]float64{-10, 0.5, 0, 20, 0, -0.5}
	got := FromGeoTransform(gt, 4, 6)
	assert.Equal(t, Extents{MinX: -10, MinY: 17, MaxX: -8, MaxY: 20}, got)
}

func TestProcessorProcessAlignsAndClipsToCoverage(t *testing.T) {
	dir := t.TempDir()
	rasterPath := filepath.Join(dir, "source.tif")
	vectorPath := filepath.Join(dir, "coverage.shp")
	outRasterPath := filepath.Join(dir, "aligned.tif")
	outMaskPath := filepath.Join(dir, "mask.tif")

	sr, err := godal.NewSpatialRefFromEPSG(4326)
	require.NoError(t, err)
	defer sr.Close()
	wkt, err := sr.WKT()
	require.NoError(t, err)

	const size = 4
	ds, err := godal.Create(godal.GTiff, rasterPath, 1, godal.Float64, size, size)
	require.NoError(t, err)
	require.NoError(t, ds.SetGeoTransform([6]float64{0, 1, 0, float64(size), 0, -1}))
	require.NoError(t, ds.SetProjection(wkt))
	band := ds.Bands()[0]
	require.NoError(t, band.SetNoData(-9999))
	values := make([]float64, size*size)
	for i := range values {
		values[i] = 10
	}
	require.NoError(t, band.Write(0, 0, values, size, size))
	require.NoError(t, ds.Close())

	vecDS, err := godal.CreateVector(godal.Shapefile, vectorPath)
	require.NoError(t, err)
	layer, err := vecDS.CreateLayer("coverage", sr, godal.GTPolygon)
	require.NoError(t, err)
	geom, err := godal.NewGeometryFromWKT("POLYGON((0 0, 2 0, 2 4, 0 4, 0 0))", sr)
	require.NoError(t, err)
	_, err = layer.NewFeature(geom)
	require.NoError(t, err)
	geom.Close()
	require.NoError(t, vecDS.Close())

	p := &Processor{
		RasterPaths:       []string{rasterPath},
		VectorPath:        vectorPath,
		OutputRasterPaths: []string{outRasterPath},
		OutputMaskPath:    outMaskPath,
	}
	result, err := p.Process()
	require.NoError(t, err)
	require.NotNil(t, result)

	// the vector extent (0,0)-(2,4) is entirely inside the raster extent
	// (0,0)-(4,4), so the aligned output keeps the source's own size.
	assert.Equal(t, size, result.SizeX)
	assert.Equal(t, size, result.SizeY)

	out, err := rasterio.Open(outRasterPath)
	require.NoError(t, err)
	defer out.Close()
	grid, err := out.ReadWindow(1, 0, 0, size, size)
	require.NoError(t, err)

	// columns 0-1 (x in [0,2)) lie inside the coverage polygon and keep
	// their source value; columns 2-3 lie outside it and are clipped to
	// nodata.
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v, valid := grid.At(x, y)
			if x < 2 {
				assert.Truef(t, valid, "expected (%d,%d) inside coverage to be valid", x, y)
				assert.Equal(t, 10.0, v)
			} else {
				assert.Falsef(t, valid, "expected (%d,%d) outside coverage to be masked", x, y)
			}
		}
	}
}
