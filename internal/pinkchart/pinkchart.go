// Package pinkchart aligns and clips raster band sets to a vector coverage
// area ("pink chart"): it computes a pixel-aligned target extent that is a
// superset of both the raster and the reprojected vector extent,
// rasterizes the vector into a byte mask, and warps/clips every input band
// into that common extent.
package pinkchart

import (
	"fmt"
	"math"
	"strconv"

	"github.com/airbusgeo/godal"

	"github.com/ausseabed/mbesgc-go/internal/rasterio"
	"github.com/ausseabed/mbesgc-go/internal/tiling"
)

// Extents is an axis-aligned bounding box in projected coordinates.
type Extents struct {
	MinX, MinY, MaxX, MaxY float64
}

// FromGeoTransform computes the projected-coordinate extents of a raster
// with the given geotransform and pixel size.
func FromGeoTransform(gt [6]float64, sizeX, sizeY int) Extents {
	minX := gt[0]
	maxY := gt[3]
	maxX := minX + gt[1]*float64(sizeX)
	minY := maxY + gt[5]*float64(sizeY)
	return Extents{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// calcIdealValue returns the value, offset from sourceVal by a whole
// multiple of res, that brings sourceVal past targetVal in the direction
// required by isMin: outward (smaller) for a minimum bound, outward
// (larger) for a maximum bound.
func calcIdealValue(res, sourceVal, targetVal float64, isMin bool) float64 {
	d := sourceVal - targetVal
	dUnits := d / res
	if isMin {
		dUnits = math.Ceil(dUnits)
	} else {
		dUnits = math.Floor(dUnits)
	}
	return sourceVal - dUnits*res
}

// CalcIdealExtents computes the aligned target extent: a superset of both
// source and target that snaps to the source raster's grid at resolution
// (resX, resY). The result is always >= the union of the two inputs.
func CalcIdealExtents(resX, resY float64, source, target Extents) Extents {
	return Extents{
		MinX: calcIdealValue(resX, source.MinX, target.MinX, true),
		MinY: calcIdealValue(resY, source.MinY, target.MinY, true),
		MaxX: calcIdealValue(resX, source.MaxX, target.MaxX, false),
		MaxY: calcIdealValue(resY, source.MaxY, target.MaxY, false),
	}
}

// Result carries the geometry of the aligned output rasters back to the
// caller so it can update the associated IFD clone.
type Result struct {
	SizeX, SizeY int
	GeoTransform [6]float64
}

// Processor aligns a set of co-registered raster bands to a vector
// coverage area and clips every pixel outside it to nodata.
type Processor struct {
	// RasterPaths are the source raster files to align, one-to-one with
	// OutputRasterPaths.
	RasterPaths []string
	// VectorPath is the coverage-area polygon source.
	VectorPath string
	// OutputRasterPaths is where each aligned, clipped raster is written.
	OutputRasterPaths []string
	// OutputMaskPath is where the rasterized coverage mask is written.
	OutputMaskPath string
}

// Process runs the full alignment pipeline and returns the geometry of the
// aligned outputs.
func (p *Processor) Process() (*Result, error) {
	if len(p.RasterPaths) == 0 || len(p.RasterPaths) != len(p.OutputRasterPaths) {
		return nil, fmt.Errorf("pinkchart: RasterPaths and OutputRasterPaths must be non-empty and equal length")
	}

	srcRaster, err := rasterio.Open(p.RasterPaths[0])
	if err != nil {
		return nil, fmt.Errorf("pinkchart: %w", err)
	}
	gt, err := srcRaster.GeoTransform()
	if err != nil {
		srcRaster.Close()
		return nil, fmt.Errorf("pinkchart: %w", err)
	}
	sizeX, sizeY := srcRaster.SizeX(), srcRaster.SizeY()
	rasterProjection := srcRaster.Projection()
	srcRaster.Close()

	resX := math.Abs(gt[1])
	resY := math.Abs(gt[5])
	sourceExtents := FromGeoTransform(gt, sizeX, sizeY)

	vecDS, err := godal.Open(p.VectorPath, godal.VectorOnly())
	if err != nil {
		return nil, fmt.Errorf("pinkchart: open vector %s: %w", p.VectorPath, err)
	}
	defer vecDS.Close()

	layers := vecDS.Layers()
	if len(layers) == 0 {
		return nil, fmt.Errorf("pinkchart: vector %s has no layers", p.VectorPath)
	}
	layer := layers[0]

	rasterSR, err := godal.NewSpatialRefFromWKT(rasterProjection)
	if err != nil {
		return nil, fmt.Errorf("pinkchart: parse raster projection: %w", err)
	}
	defer rasterSR.Close()

	sameCRS := false
	if vecSR := layer.SpatialRef(); vecSR != nil {
		vecWKT, vErr := vecSR.WKT()
		rasterWKT, rErr := rasterSR.WKT()
		if vErr == nil && rErr == nil && vecWKT == rasterWKT {
			sameCRS = true
		}
	}

	var layerBounds [4]float64
	if sameCRS {
		layerBounds, err = layer.Bounds()
	} else {
		layerBounds, err = layer.Bounds(rasterSR)
	}
	if err != nil {
		return nil, fmt.Errorf("pinkchart: vector extent: %w", err)
	}
	vectorExtents := Extents{MinX: layerBounds[0], MinY: layerBounds[1], MaxX: layerBounds[2], MaxY: layerBounds[3]}

	aligned := CalcIdealExtents(resX, resY, sourceExtents, vectorExtents)

	outSizeX := int(math.Round((aligned.MaxX - aligned.MinX) / resX))
	outSizeY := int(math.Round((aligned.MaxY - aligned.MinY) / resY))
	if outSizeX <= 0 || outSizeY <= 0 {
		return nil, fmt.Errorf("pinkchart: aligned extent has a zero or negative dimension (%d x %d)", outSizeX, outSizeY)
	}

	if err := p.rasterizeMask(vecDS, layer.Name(), aligned, resX, resY, outSizeX, outSizeY); err != nil {
		return nil, err
	}

	for i, srcPath := range p.RasterPaths {
		if err := p.warpAndClip(srcPath, p.OutputRasterPaths[i], aligned, resX, resY, outSizeX, outSizeY); err != nil {
			return nil, err
		}
	}

	outGT := [6]float64{aligned.MinX, resX, 0, aligned.MaxY, 0, -resY}
	return &Result{SizeX: outSizeX, SizeY: outSizeY, GeoTransform: outGT}, nil
}

func (p *Processor) rasterizeMask(vecDS *godal.Dataset, layerName string, ext Extents, resX, resY float64, sizeX, sizeY int) error {
	switches := []string{
		"-ot", "Byte",
		"-burn", "1",
		"-init", "0",
		"-te", f(ext.MinX), f(ext.MinY), f(ext.MaxX), f(ext.MaxY),
		"-ts", strconv.Itoa(sizeX), strconv.Itoa(sizeY),
		"-l", layerName,
	}
	maskDS, err := vecDS.Rasterize(p.OutputMaskPath, switches, godal.GTiff)
	if err != nil {
		return fmt.Errorf("pinkchart: rasterize coverage mask: %w", err)
	}
	return maskDS.Close()
}

func (p *Processor) warpAndClip(srcPath, dstPath string, ext Extents, resX, resY float64, sizeX, sizeY int) error {
	srcDS, err := godal.Open(srcPath)
	if err != nil {
		return fmt.Errorf("pinkchart: open %s: %w", srcPath, err)
	}
	bands := srcDS.Bands()
	nodataByBand := make([]float64, len(bands))
	nodataSetByBand := make([]bool, len(bands))
	descByBand := make([]string, len(bands))
	for i, b := range bands {
		nodataByBand[i], nodataSetByBand[i] = b.NoData()
		descByBand[i] = b.Description()
	}

	switches := []string{
		"-te", f(ext.MinX), f(ext.MinY), f(ext.MaxX), f(ext.MaxY),
		"-ts", strconv.Itoa(sizeX), strconv.Itoa(sizeY),
		"-r", "near",
	}
	if len(bands) > 0 && nodataSetByBand[0] {
		nd := f(nodataByBand[0])
		switches = append(switches, "-srcnodata", nd, "-dstnodata", nd)
	}

	warped, err := srcDS.Warp(dstPath, switches, godal.GTiff, godal.CreationOption("COMPRESS=DEFLATE"))
	srcDS.Close()
	if err != nil {
		return fmt.Errorf("pinkchart: warp %s: %w", srcPath, err)
	}
	warped.Close()

	out, err := rasterio.OpenUpdate(dstPath)
	if err != nil {
		return fmt.Errorf("pinkchart: %w", err)
	}
	defer out.Close()
	for i := range descByBand {
		if descByBand[i] != "" {
			_ = out.SetBandDescription(i+1, descByBand[i])
		}
	}

	mask, err := rasterio.Open(p.OutputMaskPath)
	if err != nil {
		return fmt.Errorf("pinkchart: %w", err)
	}
	defer mask.Close()

	blockX, blockY, err := out.BlockSize(1)
	if err != nil || blockX <= 0 || blockY <= 0 {
		blockX, blockY = 256, 256
	}
	tiles, err := tiling.Tiles(0, 0, sizeX, sizeY, blockX, blockY)
	if err != nil {
		return fmt.Errorf("pinkchart: %w", err)
	}

	bandCount := out.BandCount()
	for _, t := range tiles {
		maskGrid, err := mask.ReadWindow(1, t.MinX, t.MinY, t.Width(), t.Height())
		if err != nil {
			return fmt.Errorf("pinkchart: read coverage mask tile: %w", err)
		}
		for b := 1; b <= bandCount; b++ {
			grid, err := out.ReadWindow(b, t.MinX, t.MinY, t.Width(), t.Height())
			if err != nil {
				return fmt.Errorf("pinkchart: read band %d tile: %w", b, err)
			}
			for idx, mv := range maskGrid.Values {
				if mv == 0 {
					grid.Mask[idx] = true
				}
			}
			if err := out.WriteWindow(b, t.MinX, t.MinY, grid); err != nil {
				return fmt.Errorf("pinkchart: write band %d tile: %w", b, err)
			}
		}
	}
	return nil
}

func f(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
