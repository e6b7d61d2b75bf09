// Package executor drives a full grid-check run: it preprocesses inputs
// against their coverage vectors, decomposes each into tiles, streams tile
// bands through the applicable checks, and accumulates per-check results
// in a cache keyed by the pre-preprocessing IFD.
package executor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/ausseabed/mbesgc-go/internal/gridcheck"
	"github.com/ausseabed/mbesgc-go/internal/model"
	"github.com/ausseabed/mbesgc-go/internal/pinkchart"
	"github.com/ausseabed/mbesgc-go/internal/rasterio"
	"github.com/ausseabed/mbesgc-go/internal/tiling"
)

// Config holds the tunables an Executor run is configured with.
type Config struct {
	TileSizeX, TileSizeY int

	SpatialQAJSON         bool
	SpatialExport         bool
	SpatialExportLocation string
}

// DefaultConfig returns the reference tile size, with spatial output
// disabled.
func DefaultConfig() Config {
	return Config{TileSizeX: 40000, TileSizeY: 40000}
}

// ProgressCallback receives the overall run progress, in [0,1]. It is
// called synchronously on the executor's goroutine and must never panic.
type ProgressCallback func(fraction float64)

// IsStoppedFunc is polled at the three cancellation granularities
// documented on Run. It must never block.
type IsStoppedFunc func() bool

// Result pairs one check's resolved output with the (original,
// pre-preprocessing) IFD and check id it was computed for.
type Result struct {
	IFD     *model.IFD
	CheckID string
	Output  gridcheck.Output
}

type cacheKey struct {
	ifd     *model.IFD
	checkID string
}

// Executor owns the per-check result cache and the temp directories
// created by preprocessing across one run. It is not safe for concurrent
// use; the scheduling model is deliberately single-threaded.
type Executor struct {
	cfg      Config
	cache    map[cacheKey]gridcheck.Check
	tempDirs []string
}

// New constructs an Executor from cfg.
func New(cfg Config) *Executor {
	return &Executor{cfg: cfg, cache: map[cacheKey]gridcheck.Check{}}
}

// Run executes the full pipeline over sourceIFDs: preprocessing, tile
// planning, per-tile band loading and check dispatch, and cross-tile
// merging. progressCb, qajsonUpdateCb and isStopped are all optional.
//
// Cancellation is polled before preprocessing, before each tile, and
// before each check within a tile; on an observed stop Run returns
// immediately without error, leaving whatever results have already been
// merged into the cache in place. Temp directories created by
// preprocessing are always removed before Run returns, on every exit path.
func (e *Executor) Run(sourceIFDs []*model.IFD, progressCb ProgressCallback, qajsonUpdateCb func(), isStopped IsStoppedFunc) error {
	defer e.cleanup()

	if stopped(isStopped) {
		return nil
	}

	working, err := e.preprocess(sourceIFDs)
	if err != nil {
		return err
	}
	reportProgress(progressCb, 0.05)

	plans, totalTiles, err := planTiles(working, e.cfg.TileSizeX, e.cfg.TileSizeY)
	if err != nil {
		return err
	}
	if totalTiles == 0 {
		reportProgress(progressCb, 1.0)
		if qajsonUpdateCb != nil {
			qajsonUpdateCb()
		}
		return nil
	}

	processedTiles := 0
	for _, plan := range plans {
		if err := e.runIFD(plan, totalTiles, &processedTiles, progressCb, isStopped); err != nil {
			return err
		}
		if stopped(isStopped) {
			reportProgress(progressCb, 1.0)
			return nil
		}
	}

	reportProgress(progressCb, 1.0)
	if qajsonUpdateCb != nil {
		qajsonUpdateCb()
	}
	return nil
}

type ifdPlan struct {
	ifd   *model.IFD
	tiles []tiling.Tile
}

func planTiles(ifds []*model.IFD, tileSizeX, tileSizeY int) ([]ifdPlan, int, error) {
	plans := make([]ifdPlan, 0, len(ifds))
	for _, ifd := range ifds {
		tiles, err := tiling.Tiles(0, 0, ifd.SizeX, ifd.SizeY, tileSizeX, tileSizeY)
		if err != nil {
			return nil, 0, fmt.Errorf("executor: plan tiles: %w", err)
		}
		plans = append(plans, ifdPlan{ifd: ifd, tiles: tiles})
	}
	total := lo.SumBy(plans, func(p ifdPlan) int { return len(p.tiles) })
	return plans, total, nil
}

func (e *Executor) runIFD(plan ifdPlan, totalTiles int, processedTiles *int, progressCb ProgressCallback, isStopped IsStoppedFunc) error {
	ifd := plan.ifd
	originalIFD := ifd.Source
	if originalIFD == nil {
		originalIFD = ifd
	}

	rasters, err := openIFDRasters(ifd)
	if err != nil {
		return err
	}
	defer closeRasters(rasters)

	for _, tile := range plan.tiles {
		if stopped(isStopped) {
			return nil
		}

		tileStart := 0.05 + float64(*processedTiles)/float64(totalTiles)*0.95
		tileEnd := 0.05 + float64(*processedTiles+1)/float64(totalTiles)*0.95
		updateTileProgress := func(p float64) {
			reportProgress(progressCb, (tileEnd-tileStart)*p+tileStart)
		}

		bands, err := loadTileBands(rasters, ifd, tile)
		if err != nil {
			return err
		}
		updateTileProgress(0.2)

		totalChecks := len(ifd.Checks)
		for i, checkRef := range ifd.Checks {
			if stopped(isStopped) {
				return nil
			}
			e.runCheck(ifd, originalIFD, tile, bands, checkRef)
			if totalChecks > 0 {
				updateTileProgress(0.2 + 0.8*float64(i+1)/float64(totalChecks))
			}
		}

		*processedTiles++
	}
	return nil
}

// runCheck instantiates, runs and merges a single (checkID, tile)
// combination. Any error returned by Run is recorded on the check instance
// via Fail rather than propagated, matching the RunFailure error kind:
// one failing check must never abort the checks that follow it.
func (e *Executor) runCheck(ifd, originalIFD *model.IFD, tile tiling.Tile, bands gridcheck.Bands, checkRef model.CheckRef) {
	ctor, ok := gridcheck.Lookup(checkRef.CheckID)
	if !ok {
		return
	}

	check := ctor(checkRef.Params)
	check.SetSpatial(e.cfg.SpatialQAJSON, e.cfg.SpatialExport, e.spatialExportDir(originalIFD, check))

	check.Start()
	if err := check.Run(ifd, tile, bands); err != nil {
		check.Fail(err)
	}
	check.End()

	key := cacheKey{ifd: originalIFD, checkID: checkRef.CheckID}
	if previous, ok := e.cache[key]; ok {
		check.Merge(previous)
	}
	e.cache[key] = check
}

func (e *Executor) spatialExportDir(ifd *model.IFD, check gridcheck.Check) string {
	if !e.cfg.SpatialExport || e.cfg.SpatialExportLocation == "" {
		return ""
	}
	return filepath.Join(e.cfg.SpatialExportLocation, ifd.CommonFilename(), check.Name())
}

// Result returns the accumulated output of checkID run against ifd (the
// original, pre-preprocessing IFD), or ok == false if that combination
// never ran.
func (e *Executor) Result(ifd *model.IFD, checkID string) (gridcheck.Output, bool) {
	check, ok := e.cache[cacheKey{ifd: ifd, checkID: checkID}]
	if !ok {
		return gridcheck.Output{}, false
	}
	return check.Outputs(), true
}

// Results returns every cached result, in no particular order. Callers
// that need to route results back onto a specific IFD's check list should
// prefer Result.
func (e *Executor) Results() []Result {
	out := make([]Result, 0, len(e.cache))
	for key, check := range e.cache {
		out = append(out, Result{IFD: key.ifd, CheckID: key.checkID, Output: check.Outputs()})
	}
	return out
}

// preprocess clones and aligns every IFD carrying a coverage vector,
// leaving IFDs without one untouched. The returned slice is the working
// list the tile loop operates over; each clone's Source points at its
// entry in sourceIFDs.
func (e *Executor) preprocess(sourceIFDs []*model.IFD) ([]*model.IFD, error) {
	working := make([]*model.IFD, len(sourceIFDs))
	for i, ifd := range sourceIFDs {
		if ifd.CoverageVectorPath == "" {
			working[i] = ifd
			continue
		}
		aligned, err := e.alignToCoverage(ifd)
		if err != nil {
			return nil, err
		}
		working[i] = aligned
	}
	return working, nil
}

func (e *Executor) alignToCoverage(ifd *model.IFD) (*model.IFD, error) {
	tempDir, err := os.MkdirTemp("", "mbesgc-pinkchart-"+uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("executor: create temp dir: %w", err)
	}
	e.tempDirs = append(e.tempDirs, tempDir)

	srcPaths, outByPath := uniqueBandFiles(ifd, tempDir)
	maskPath := filepath.Join(tempDir, "pinkchart_mask.tif")

	outPaths := make([]string, len(srcPaths))
	for i, p := range srcPaths {
		outPaths[i] = outByPath[p]
	}

	proc := &pinkchart.Processor{
		RasterPaths:       srcPaths,
		VectorPath:        ifd.CoverageVectorPath,
		OutputRasterPaths: outPaths,
		OutputMaskPath:    maskPath,
	}
	result, err := proc.Process()
	if err != nil {
		return nil, fmt.Errorf("executor: pink chart alignment: %w", err)
	}

	clone := ifd.Clone()
	clone.SizeX = result.SizeX
	clone.SizeY = result.SizeY
	clone.GeoTransform = result.GeoTransform
	for _, b := range ifd.Bands {
		clone.Bands = append(clone.Bands, model.BandRef{
			FilePath:  outByPath[b.FilePath],
			BandIndex: b.BandIndex,
			Type:      b.Type,
		})
	}
	clone.Bands = append(clone.Bands, model.BandRef{FilePath: maskPath, BandIndex: 1, Type: model.PinkChart})
	return clone, nil
}

// uniqueBandFiles returns ifd's distinct band file paths in first-seen
// order, along with the per-file output path each will be warped into
// inside tempDir.
func uniqueBandFiles(ifd *model.IFD, tempDir string) ([]string, map[string]string) {
	var paths []string
	outByPath := map[string]string{}
	for _, b := range ifd.Bands {
		if _, ok := outByPath[b.FilePath]; ok {
			continue
		}
		out := filepath.Join(tempDir, fmt.Sprintf("band_%d%s", len(paths), filepath.Ext(b.FilePath)))
		outByPath[b.FilePath] = out
		paths = append(paths, b.FilePath)
	}
	return paths, outByPath
}

// cleanup removes every temp directory created during preprocessing. It is
// called on every exit path out of Run, including failure and
// cancellation.
func (e *Executor) cleanup() {
	for _, dir := range e.tempDirs {
		os.RemoveAll(dir)
	}
	e.tempDirs = nil
}

func openIFDRasters(ifd *model.IFD) (map[string]*rasterio.Raster, error) {
	out := map[string]*rasterio.Raster{}
	for _, b := range ifd.Bands {
		if _, ok := out[b.FilePath]; ok {
			continue
		}
		r, err := rasterio.Open(b.FilePath)
		if err != nil {
			closeRasters(out)
			return nil, fmt.Errorf("executor: open %s: %w", b.FilePath, err)
		}
		out[b.FilePath] = r
	}
	return out, nil
}

func closeRasters(rasters map[string]*rasterio.Raster) {
	for _, r := range rasters {
		r.Close()
	}
}

func loadTileBands(rasters map[string]*rasterio.Raster, ifd *model.IFD, tile tiling.Tile) (gridcheck.Bands, error) {
	var bands gridcheck.Bands
	for _, b := range ifd.Bands {
		r := rasters[b.FilePath]
		grid, err := r.ReadWindow(b.BandIndex, tile.MinX, tile.MinY, tile.Width(), tile.Height())
		if err != nil {
			return gridcheck.Bands{}, fmt.Errorf("executor: read tile %s of %s: %w", tile, b.FilePath, err)
		}
		switch b.Type {
		case model.Depth:
			bands.Depth = grid
		case model.Density:
			bands.Density = grid
		case model.Uncertainty:
			bands.Uncertainty = grid
		case model.PinkChart:
			bands.PinkChart = grid
		}
	}
	return bands, nil
}

func stopped(isStopped IsStoppedFunc) bool {
	return isStopped != nil && isStopped()
}

func reportProgress(cb ProgressCallback, fraction float64) {
	if cb != nil {
		cb(fraction)
	}
}
