package executor

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ausseabed/mbesgc-go/internal/checks"
	"github.com/ausseabed/mbesgc-go/internal/gridcheck"
	"github.com/ausseabed/mbesgc-go/internal/model"
	"github.com/ausseabed/mbesgc-go/internal/tiling"
)

// recordingCheck is a minimal gridcheck.Check used to observe dispatch
// order and merge direction without touching real raster data.
type recordingCheck struct {
	id      string
	runs    *[]string
	tag     string
	status  gridcheck.Status
	merged  []string
	failed  error
	runErr  error
}

func newRecordingCheck(id string, runs *[]string, tag string, runErr error) func([]model.CheckParam) gridcheck.Check {
	return func(params []model.CheckParam) gridcheck.Check {
		return &recordingCheck{id: id, runs: runs, tag: tag, status: gridcheck.StatusDraft, runErr: runErr}
	}
}

func (c *recordingCheck) ID() string      { return c.id }
func (c *recordingCheck) Name() string    { return "Recording Check" }
func (c *recordingCheck) Version() string { return "1" }
func (c *recordingCheck) SetSpatial(bool, bool, string) {}
func (c *recordingCheck) Start() { c.status = gridcheck.StatusRunning }
func (c *recordingCheck) Run(ifd *model.IFD, tile tiling.Tile, bands gridcheck.Bands) error {
	*c.runs = append(*c.runs, c.tag)
	return c.runErr
}
func (c *recordingCheck) End() {
	if c.status == gridcheck.StatusRunning {
		c.status = gridcheck.StatusCompleted
	}
}
func (c *recordingCheck) Fail(err error) {
	c.status = gridcheck.StatusFailed
	c.failed = err
}
func (c *recordingCheck) Merge(other gridcheck.Check) {
	last := other.(*recordingCheck)
	c.merged = append(append([]string{}, last.merged...), last.tag)
}
func (c *recordingCheck) Outputs() gridcheck.Output {
	state := gridcheck.Pass
	if c.status == gridcheck.StatusFailed {
		state = gridcheck.Fail
	}
	return gridcheck.Output{State: state}
}
func (c *recordingCheck) Status() gridcheck.Status { return c.status }

func TestPlanTilesSumsAcrossIFDs(t *testing.T) {
	ifds := []*model.IFD{
		{SizeX: 10, SizeY: 10},
		{SizeX: 20, SizeY: 5},
	}
	plans, total, err := planTiles(ifds, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, 4+4, total)
	assert.Len(t, plans, 2)
}

func TestRunWithNoBandsCompletesAndReportsFullProgress(t *testing.T) {
	ifd := &model.IFD{SizeX: 4, SizeY: 4}

	var progressValues []float64
	exec := New(Config{TileSizeX: 2, TileSizeY: 2})
	updateCalled := false

	err := exec.Run([]*model.IFD{ifd},
		func(f float64) { progressValues = append(progressValues, f) },
		func() { updateCalled = true },
		nil,
	)
	require.NoError(t, err)
	require.NotEmpty(t, progressValues)
	assert.Equal(t, 0.05, progressValues[0])
	assert.Equal(t, 1.0, progressValues[len(progressValues)-1])
	assert.True(t, updateCalled)
}

func TestRunStopsImmediatelyWhenAlreadyCancelled(t *testing.T) {
	ifd := &model.IFD{SizeX: 4, SizeY: 4}
	exec := New(DefaultConfig())

	updateCalled := false
	err := exec.Run([]*model.IFD{ifd}, nil, func() { updateCalled = true }, func() bool { return true })
	require.NoError(t, err)
	assert.False(t, updateCalled)
	assert.Empty(t, exec.Results())
}

func TestCleanupClearsTempDirsEvenWithoutPreprocessing(t *testing.T) {
	exec := New(DefaultConfig())
	exec.tempDirs = []string{"/does/not/matter"}
	exec.cleanup()
	assert.Empty(t, exec.tempDirs)
}

func TestRunFailureIsRecordedWithoutAbortingRemainingChecks(t *testing.T) {
	var order []string
	gridcheck.Register("exec-test-fail", newRecordingCheck("exec-test-fail", &order, "fail", errors.New("simulated run failure")))
	gridcheck.Register("exec-test-a", newRecordingCheck("exec-test-a", &order, "a", nil))
	gridcheck.Register("exec-test-b", newRecordingCheck("exec-test-b", &order, "b", nil))

	ifd := &model.IFD{
		SizeX: 2, SizeY: 2,
		Checks: []model.CheckRef{
			{CheckID: "exec-test-fail"},
			{CheckID: "exec-test-a"},
			{CheckID: "exec-test-b"},
			{CheckID: "unregistered-check-id"},
		},
	}

	exec := New(Config{TileSizeX: 2, TileSizeY: 2})
	err := exec.Run([]*model.IFD{ifd}, nil, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"fail", "a", "b"}, order)

	failedOut, ok := exec.Result(ifd, "exec-test-fail")
	require.True(t, ok)
	assert.Equal(t, gridcheck.Fail, failedOut.State)

	out, ok := exec.Result(ifd, "exec-test-a")
	require.True(t, ok)
	assert.Equal(t, gridcheck.Pass, out.State)

	outB, ok := exec.Result(ifd, "exec-test-b")
	require.True(t, ok)
	assert.Equal(t, gridcheck.Pass, outB.State)

	_, ok = exec.Result(ifd, "unregistered-check-id")
	assert.False(t, ok)
}

// writeDensityRaster creates a real single-band GeoTIFF of sounding-count
// values, exercising openIFDRasters/loadTileBands against actual GDAL I/O
// rather than a bandless IFD.
func writeDensityRaster(t *testing.T, path string, width, height int, value float64) {
	t.Helper()
	ds, err := godal.Create(godal.GTiff, path, 1, godal.Float64, width, height)
	require.NoError(t, err)
	defer ds.Close()
	require.NoError(t, ds.SetGeoTransform([6]float64{0, 1, 0, 0, 0, -1}))
	band := ds.Bands()[0]
	require.NoError(t, band.SetNoData(-9999))
	values := make([]float64, width*height)
	for i := range values {
		values[i] = value
	}
	require.NoError(t, band.Write(0, 0, values, width, height))
}

func TestRunWithRealRasterExercisesDensityCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "density.tif")
	writeDensityRaster(t, path, 6, 4, 10)

	ifd := &model.IFD{
		SizeX:        6,
		SizeY:        4,
		GeoTransform: [6]float64{0, 1, 0, 0, 0, -1},
		Bands: []model.BandRef{
			{FilePath: path, BandIndex: 1, Type: model.Density},
		},
		Checks: []model.CheckRef{
			{CheckID: checks.DensityCheckID, Params: []model.CheckParam{
				{Name: "Minimum Soundings per node", Value: 5.0},
				{Name: "Minimum Soundings per node percentage", Value: 50.0},
			}},
		},
	}

	// a small tile size forces the run to load and merge several real tile
	// windows off disk rather than a single whole-raster read.
	exec := New(Config{TileSizeX: 2, TileSizeY: 2})
	err := exec.Run([]*model.IFD{ifd}, nil, nil, nil)
	require.NoError(t, err)

	out, ok := exec.Result(ifd, checks.DensityCheckID)
	require.True(t, ok)
	assert.Equal(t, gridcheck.Pass, out.State)
	summary := out.Data["summary"].(map[string]interface{})
	assert.Equal(t, 24, summary["total_soundings"])
	assert.Equal(t, 0, summary["under_threshold_soundings"])
}
