package checks

import (
	"fmt"
	"math"
	"time"

	"github.com/ausseabed/mbesgc-go/internal/gridcheck"
	"github.com/ausseabed/mbesgc-go/internal/model"
	"github.com/ausseabed/mbesgc-go/internal/tiling"
)

// TVUCheckID is the registered UUID of TVUCheck.
const TVUCheckID = "b5c0469c-6559-4aea-bf9c-d0b337550e89"

func init() {
	gridcheck.Register(TVUCheckID, NewTVUCheck)
}

// TVUCheck verifies that each cell's total vertical uncertainty does not
// exceed an allowable envelope derived from a constant error term and a
// depth-proportional term.
type TVUCheck struct {
	depthError       float64
	depthErrorFactor float64

	spatialQAJSON bool
	spatialExport bool
	exportDir     string

	status    gridcheck.Status
	startTime *time.Time
	endTime   *time.Time
	errorMsg  string

	totalCellCount  int
	failedCellCount int
	tilesGeojson    *gridcheck.MultiPolygon
	extents         *gridcheck.MultiPolygon
}

// NewTVUCheck constructs a TVUCheck from its QA-JSON parameters.
func NewTVUCheck(params []model.CheckParam) gridcheck.Check {
	return &TVUCheck{
		depthError:       gridcheck.ParamFloat(params, "Constant Depth Error", 0.5),
		depthErrorFactor: gridcheck.ParamFloat(params, "Factor of Depth Dependent Errors", 0.013),
		status:           gridcheck.StatusDraft,
		tilesGeojson:     gridcheck.NewMultiPolygon(),
	}
}

func (c *TVUCheck) ID() string      { return TVUCheckID }
func (c *TVUCheck) Name() string    { return "Total Vertical Uncertainty Check" }
func (c *TVUCheck) Version() string { return "1" }

func (c *TVUCheck) SetSpatial(spatialQAJSON, spatialExport bool, exportDir string) {
	c.spatialQAJSON = spatialQAJSON
	c.spatialExport = spatialExport
	c.exportDir = exportDir
}

func (c *TVUCheck) Status() gridcheck.Status { return c.status }

func (c *TVUCheck) Start() {
	now := time.Now()
	c.startTime = &now
	c.status = gridcheck.StatusRunning
}

func (c *TVUCheck) Run(ifd *model.IFD, tile tiling.Tile, bands gridcheck.Bands) error {
	if bands.Depth == nil || bands.Uncertainty == nil {
		c.status = gridcheck.StatusAborted
		c.errorMsg = "Missing depth or uncertainty data"
		return nil
	}

	depth := bands.Depth
	uncertainty := bands.Uncertainty
	a := c.depthError
	b := c.depthErrorFactor

	width, height := uncertainty.Width, uncertainty.Height
	var mask []byte
	var allowableGrid []float64
	if c.spatialQAJSON || c.spatialExport {
		mask = make([]byte, width*height)
		allowableGrid = make([]float64, width*height)
	}

	for i := range uncertainty.Values {
		if uncertainty.Mask[i] {
			continue
		}
		c.totalCellCount++

		allowable := math.Sqrt(a*a + math.Pow(b*depth.Values[i], 2))
		u := math.Abs(uncertainty.Values[i])
		if allowableGrid != nil {
			allowableGrid[i] = allowable
		}
		if u > allowable {
			c.failedCellCount++
			if mask != nil {
				mask[i] = 1
			}
		}
	}

	if mask != nil {
		frag, err := gridcheck.PolygonizeFailures(mask, width, height, ifd.GeoTransform, tile, ifd.Projection, pixelGrowth)
		if err != nil {
			return fmt.Errorf("tvu check: %w", err)
		}
		c.tilesGeojson.Extend(frag)

		if c.spatialQAJSON && c.extents == nil {
			extents, err := gridcheck.DatasetExtents(ifd.GeoTransform, ifd.SizeX, ifd.SizeY, ifd.Projection)
			if err != nil {
				return fmt.Errorf("tvu check: %w", err)
			}
			c.extents = extents
		}

		if c.spatialExport {
			tileGT := gridcheck.GeoTransformForTile(ifd.GeoTransform, tile.MinX, tile.MinY)
			if err := gridcheck.ExportTile(c.exportDir, tile, mask, width, height, tileGT, ifd.Projection, pixelGrowth, allowableGrid); err != nil {
				return fmt.Errorf("tvu check: %w", err)
			}
		}
	}

	return nil
}

func (c *TVUCheck) End() {
	now := time.Now()
	c.endTime = &now
	if c.status == gridcheck.StatusRunning {
		c.status = gridcheck.StatusCompleted
	}
}

func (c *TVUCheck) Fail(err error) {
	c.status = gridcheck.StatusFailed
	c.errorMsg = err.Error()
}

func (c *TVUCheck) Merge(other gridcheck.Check) {
	last, ok := other.(*TVUCheck)
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

func (c *TVUCheck) Outputs() gridcheck.Output {
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
			"%d nodes failed the TVU check this represents %.1f%% of all nodes within data.",
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
