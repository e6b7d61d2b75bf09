// Package checks implements the concrete grid checks shipped with the
// engine: sounding density, total vertical uncertainty, and grid
// resolution.
package checks

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ausseabed/mbesgc-go/internal/gridcheck"
	"github.com/ausseabed/mbesgc-go/internal/model"
	"github.com/ausseabed/mbesgc-go/internal/tiling"
)

// DensityCheckID is the registered UUID of DensityCheck.
const DensityCheckID = "5e2afd8a-2ced-4de8-80f5-111c459a7175"

// pixelGrowth is the amount of padding placed around failing pixels
// before polygonization, shared by every concrete check.
const pixelGrowth = 5

func init() {
	gridcheck.Register(DensityCheckID, NewDensityCheck)
}

// DensityCheck verifies that each grid cell is supported by a minimum
// number of soundings, and that a configured percentage of cells clears
// that threshold.
type DensityCheck struct {
	minSPN           int
	minSPNPercentage float64

	spatialQAJSON bool
	spatialExport bool
	exportDir     string

	status    gridcheck.Status
	startTime *time.Time
	endTime   *time.Time
	errorMsg  string

	histogram    map[int]int
	tilesGeojson *gridcheck.MultiPolygon
	extents      *gridcheck.MultiPolygon
}

// NewDensityCheck constructs a DensityCheck from its QA-JSON parameters.
func NewDensityCheck(params []model.CheckParam) gridcheck.Check {
	return &DensityCheck{
		minSPN:           int(gridcheck.ParamFloat(params, "Minimum Soundings per node", 5)),
		minSPNPercentage: gridcheck.ParamFloat(params, "Minimum Soundings per node percentage", 95.0),
		status:           gridcheck.StatusDraft,
		histogram:        map[int]int{},
		tilesGeojson:     gridcheck.NewMultiPolygon(),
	}
}

func (c *DensityCheck) ID() string      { return DensityCheckID }
func (c *DensityCheck) Name() string    { return "Density Check" }
func (c *DensityCheck) Version() string { return "1" }

func (c *DensityCheck) SetSpatial(spatialQAJSON, spatialExport bool, exportDir string) {
	c.spatialQAJSON = spatialQAJSON
	c.spatialExport = spatialExport
	c.exportDir = exportDir
}

func (c *DensityCheck) Status() gridcheck.Status { return c.status }

func (c *DensityCheck) Start() {
	now := time.Now()
	c.startTime = &now
	c.status = gridcheck.StatusRunning
}

func (c *DensityCheck) Run(ifd *model.IFD, tile tiling.Tile, bands gridcheck.Bands) error {
	if bands.Density == nil {
		c.status = gridcheck.StatusAborted
		c.errorMsg = "Missing density data"
		return nil
	}

	density := bands.Density
	density.CoerceIntegers()

	for i, masked := range density.Mask {
		if masked {
			continue
		}
		c.histogram[int(density.Values[i])]++
	}

	if c.spatialQAJSON || c.spatialExport {
		width, height := density.Width, density.Height
		mask := make([]byte, width*height)
		for i, masked := range density.Mask {
			if !masked && density.Values[i] < float64(c.minSPN) {
				mask[i] = 1
			}
		}

		frag, err := gridcheck.PolygonizeFailures(mask, width, height, ifd.GeoTransform, tile, ifd.Projection, pixelGrowth)
		if err != nil {
			return fmt.Errorf("density check: %w", err)
		}
		c.tilesGeojson.Extend(frag)

		if c.spatialQAJSON && c.extents == nil {
			extents, err := gridcheck.DatasetExtents(ifd.GeoTransform, ifd.SizeX, ifd.SizeY, ifd.Projection)
			if err != nil {
				return fmt.Errorf("density check: %w", err)
			}
			c.extents = extents
		}

		if c.spatialExport {
			tileGT := gridcheck.GeoTransformForTile(ifd.GeoTransform, tile.MinX, tile.MinY)
			if err := gridcheck.ExportTile(c.exportDir, tile, mask, width, height, tileGT, ifd.Projection, pixelGrowth, nil); err != nil {
				return fmt.Errorf("density check: %w", err)
			}
		}
	}

	return nil
}

func (c *DensityCheck) End() {
	now := time.Now()
	c.endTime = &now
	if c.status == gridcheck.StatusRunning {
		c.status = gridcheck.StatusCompleted
	}
}

func (c *DensityCheck) Fail(err error) {
	c.status = gridcheck.StatusFailed
	c.errorMsg = err.Error()
}

func (c *DensityCheck) Merge(other gridcheck.Check) {
	last, ok := other.(*DensityCheck)
	if !ok {
		return
	}
	c.startTime = last.startTime

	for count, occurrences := range last.histogram {
		c.histogram[count] += occurrences
	}
	c.tilesGeojson.Extend(last.tilesGeojson)
	if c.extents == nil {
		c.extents = last.extents
	}
}

func (c *DensityCheck) Outputs() gridcheck.Output {
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

	if len(c.histogram) == 0 {
		return gridcheck.Output{
			Execution: execution,
			Messages:  []string{"No counts were extracted, was a valid raster provided"},
			State:     gridcheck.Fail,
		}
	}

	keys := make([]int, 0, len(c.histogram))
	for k := range c.histogram {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	totalSoundings := 0
	for _, k := range keys {
		totalSoundings += c.histogram[k]
	}

	underThreshold := 0
	for _, k := range keys {
		if k >= c.minSPN {
			break
		}
		underThreshold += c.histogram[k]
	}
	percentageOverThreshold := (1.0 - float64(underThreshold)/float64(totalSoundings)) * 100.0

	// state is gated solely on the percentage-over-threshold comparison;
	// under_threshold_soundings is reported for information only and must
	// not, on its own, force a fail when the percentage still clears the
	// configured threshold.
	var messages []string
	if underThreshold > 0 {
		messages = append(messages, fmt.Sprintf(
			"%d nodes were found to be under the Minimum Soundings per node setting (%d)",
			underThreshold, c.minSPN))
	}
	state := gridcheck.Pass
	if percentageOverThreshold < c.minSPNPercentage {
		messages = append(messages, fmt.Sprintf(
			"%.1f%% of nodes were found to have a sounding count above %d. This is required to be %.0f%% of all nodes",
			percentageOverThreshold, c.minSPN, c.minSPNPercentage))
		state = gridcheck.Fail
	}

	histData := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		histData[strconv.Itoa(k)] = c.histogram[k]
	}

	data := map[string]interface{}{
		"chart": map[string]interface{}{
			"type": "histogram",
			"data": histData,
		},
		"summary": map[string]interface{}{
			"total_soundings":           totalSoundings,
			"percentage_over_threshold": percentageOverThreshold,
			"under_threshold_soundings": underThreshold,
		},
	}
	if c.spatialQAJSON {
		data["map"] = c.tilesGeojson
		if c.extents != nil {
			data["extents"] = c.extents
		}
	}

	return gridcheck.Output{
		Execution: execution,
		Messages:  messages,
		Data:      data,
		State:     state,
	}
}
