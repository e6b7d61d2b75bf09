package checks

import (
	"fmt"
	"math"
	"time"

	"github.com/ausseabed/mbesgc-go/internal/gridcheck"
	"github.com/ausseabed/mbesgc-go/internal/model"
	"github.com/ausseabed/mbesgc-go/internal/tiling"
)

// ResolutionCheckID is the registered UUID of ResolutionCheck.
const ResolutionCheckID = "c73119ea-4f79-4001-86e3-11c4cbaaeb2d"

func init() {
	gridcheck.Register(ResolutionCheckID, NewResolutionCheck)
}

// ResolutionCheck verifies that the grid's spatial resolution is fine
// enough to detect seafloor features of the size mandated by a
// depth-dependent feature detection size (FDS) equation.
type ResolutionCheck struct {
	fdsMultiplier    float64
	thresholdDepth   float64
	aboveMultiplier  float64
	aboveConstant    float64
	belowMultiplier  float64
	belowConstant    float64

	spatialQAJSON bool
	spatialExport bool
	exportDir     string

	status    gridcheck.Status
	startTime *time.Time
	endTime   *time.Time
	errorMsg  string

	totalCellCount  int
	failedCellCount int
	gridResolution  float64
	tilesGeojson    *gridcheck.MultiPolygon
	extents         *gridcheck.MultiPolygon
}

// NewResolutionCheck constructs a ResolutionCheck from its QA-JSON
// parameters.
func NewResolutionCheck(params []model.CheckParam) gridcheck.Check {
	return &ResolutionCheck{
		fdsMultiplier:   gridcheck.ParamFloat(params, "Feature Detection Size Multiplier", 0.5),
		thresholdDepth:  gridcheck.ParamFloat(params, "Threshold Depth", 40.0),
		aboveMultiplier: gridcheck.ParamFloat(params, "Above Threshold FDS Depth Multiplier", 0.0),
		aboveConstant:   gridcheck.ParamFloat(params, "Above Threshold FDS Depth Constant", 2.0),
		belowMultiplier: gridcheck.ParamFloat(params, "Below Threshold FDS Depth Multiplier", 0.05),
		belowConstant:   gridcheck.ParamFloat(params, "Below Threshold FDS Depth Constant", 0.0),
		status:          gridcheck.StatusDraft,
		tilesGeojson:    gridcheck.NewMultiPolygon(),
	}
}

func (c *ResolutionCheck) ID() string      { return ResolutionCheckID }
func (c *ResolutionCheck) Name() string    { return "Resolution Check" }
func (c *ResolutionCheck) Version() string { return "1" }

func (c *ResolutionCheck) SetSpatial(spatialQAJSON, spatialExport bool, exportDir string) {
	c.spatialQAJSON = spatialQAJSON
	c.spatialExport = spatialExport
	c.exportDir = exportDir
}

func (c *ResolutionCheck) Status() gridcheck.Status { return c.status }

func (c *ResolutionCheck) Start() {
	now := time.Now()
	c.startTime = &now
	c.status = gridcheck.StatusRunning
}

func (c *ResolutionCheck) Run(ifd *model.IFD, tile tiling.Tile, bands gridcheck.Bands) error {
	if bands.Depth == nil {
		c.status = gridcheck.StatusAborted
		c.errorMsg = "Missing depth data"
		return nil
	}

	depth := bands.Depth
	thresholdDepth := math.Abs(c.thresholdDepth)
	c.gridResolution = math.Abs(ifd.GeoTransform[1])

	width, height := depth.Width, depth.Height
	var mask []byte
	var allowableGrid []float64
	if c.spatialQAJSON || c.spatialExport {
		mask = make([]byte, width*height)
		allowableGrid = make([]float64, width*height)
	}

	for i, v := range depth.Values {
		if depth.Mask[i] {
			continue
		}
		c.totalCellCount++

		d := math.Abs(v)
		var fds float64
		if d < thresholdDepth {
			fds = c.aboveMultiplier*d + c.aboveConstant
		} else {
			fds = c.belowMultiplier*d + c.belowConstant
		}

		allowableGridSize := fds * c.fdsMultiplier
		if allowableGrid != nil {
			allowableGrid[i] = allowableGridSize
		}
		if allowableGridSize < c.gridResolution {
			c.failedCellCount++
			if mask != nil {
				mask[i] = 1
			}
		}
	}

	if mask != nil {
		frag, err := gridcheck.PolygonizeFailures(mask, width, height, ifd.GeoTransform, tile, ifd.Projection, pixelGrowth)
		if err != nil {
			return fmt.Errorf("resolution check: %w", err)
		}
		c.tilesGeojson.Extend(frag)

		if c.spatialQAJSON && c.extents == nil {
			extents, err := gridcheck.DatasetExtents(ifd.GeoTransform, ifd.SizeX, ifd.SizeY, ifd.Projection)
			if err != nil {
				return fmt.Errorf("resolution check: %w", err)
			}
			c.extents = extents
		}

		if c.spatialExport {
			tileGT := gridcheck.GeoTransformForTile(ifd.GeoTransform, tile.MinX, tile.MinY)
			if err := gridcheck.ExportTile(c.exportDir, tile, mask, width, height, tileGT, ifd.Projection, pixelGrowth, allowableGrid); err != nil {
				return fmt.Errorf("resolution check: %w", err)
			}
		}
	}

	return nil
}

func (c *ResolutionCheck) End() {
	now := time.Now()
	c.endTime = &now
	if c.status == gridcheck.StatusRunning {
		c.status = gridcheck.StatusCompleted
	}
}

func (c *ResolutionCheck) Fail(err error) {
	c.status = gridcheck.StatusFailed
	c.errorMsg = err.Error()
}

func (c *ResolutionCheck) Merge(other gridcheck.Check) {
	last, ok := other.(*ResolutionCheck)
	if !ok {
		return
	}
	c.startTime = last.startTime
	c.totalCellCount += last.totalCellCount
	c.failedCellCount += last.failedCellCount
	c.tilesGeojson.Extend(last.tilesGeojson)
	if c.extents == nil {
		c.extents = last.extents
	}
}

func (c *ResolutionCheck) Outputs() gridcheck.Output {
	execution := gridcheck.Execution{
		Start:  c.startTime,
		End:    c.endTime,
		Status: c.status,
		Error:  c.errorMsg,
	}

	if c.status == gridcheck.StatusAborted || c.status == gridcheck.StatusFailed {
		return gridcheck.Output{
			Execution: execution,
			Messages:  []string{c.errorMsg},
			State:     gridcheck.Fail,
		}
	}

	var fractionFailed float64
	if c.totalCellCount > 0 {
		fractionFailed = float64(c.failedCellCount) / float64(c.totalCellCount)
	}

	data := map[string]interface{}{
		"failed_cell_count": c.failedCellCount,
		"total_cell_count":  c.totalCellCount,
		"fraction_failed":   fractionFailed,
		"grid_resolution":   c.gridResolution,
	}
	if c.spatialQAJSON {
		data["map"] = c.tilesGeojson
		if c.extents != nil {
			data["extents"] = c.extents
		}
	}

	if c.failedCellCount > 0 {
		percentFailed := fractionFailed * 100
		msg := fmt.Sprintf(
			"%d nodes failed the resolution check this represents %.1f%% of all nodes within data.",
			c.failedCellCount, percentFailed)
		return gridcheck.Output{
			Execution: execution,
			Messages:  []string{msg},
			Data:      data,
			State:     gridcheck.Fail,
		}
	}

	state := gridcheck.Pass
	if c.status != gridcheck.StatusCompleted {
		state = gridcheck.Fail
	}

	return gridcheck.Output{
		Execution: execution,
		Data:      data,
		State:     state,
	}
}
