// Package gridcheck defines the polymorphic check contract driven by the
// executor: a check instance is created fresh per (IFD, tile), run once
// against the tile's loaded bands, then folded via Merge into a single
// per-(original IFD, check id) accumulator held in the executor's result
// cache.
package gridcheck

import (
	"sort"
	"time"

	"github.com/ausseabed/mbesgc-go/internal/model"
	"github.com/ausseabed/mbesgc-go/internal/rasterio"
	"github.com/ausseabed/mbesgc-go/internal/tiling"
)

// Status is the check instance's lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// State is the QA verdict a check's outputs carry.
type State string

const (
	Pass    State = "pass"
	Warning State = "warning"
	Fail    State = "fail"
)

// Execution mirrors the QA-JSON execution block for one check instance.
type Execution struct {
	Start  *time.Time
	End    *time.Time
	Status Status
	Error  string
}

// Output is the fully resolved result of a check, ready for translation
// into a QA-JSON outputs object.
type Output struct {
	Execution Execution
	Messages  []string
	Data      map[string]interface{}
	State     State
}

// Bands are the (possibly absent) tile windows handed to Run. A nil Grid
// means the IFD carries no band of that type; it is the check's
// responsibility to abort if a required band is missing.
type Bands struct {
	Depth       *rasterio.Grid
	Density     *rasterio.Grid
	Uncertainty *rasterio.Grid
	PinkChart   *rasterio.Grid
}

// Check is the capability set every concrete grid check implements. A new
// instance is constructed per (IFD, tile); Merge folds a previous tile's
// instance (for the same original IFD and check id) into the receiver.
type Check interface {
	ID() string
	Name() string
	Version() string

	// SetSpatial configures whether WGS-84 polygons are accumulated into
	// the outputs (spatialQAJSON) and whether per-tile GeoTIFF/shapefile
	// pairs are written to exportDir (spatialExport; empty disables it).
	SetSpatial(spatialQAJSON, spatialExport bool, exportDir string)

	Start()
	Run(ifd *model.IFD, tile tiling.Tile, bands Bands) error
	End()

	// Fail transitions the check to a failed state after Run returned an
	// error, recording err for the outputs' execution.error field. The
	// executor calls this instead of propagating the error, so that one
	// failing check never aborts the checks that follow it in the same
	// tile.
	Fail(err error)

	Merge(other Check)
	Outputs() Output
	Status() Status
}

// Constructor builds a fresh check instance from its QA-JSON parameters.
type Constructor func(params []model.CheckParam) Check

var registry = map[string]Constructor{}

// Register adds a check constructor to the package-level registry, keyed
// by check UUID. Intended to be called from each concrete check's package
// init.
func Register(id string, ctor Constructor) {
	registry[id] = ctor
}

// Lookup returns the constructor for id, or ok == false if no check with
// that id is registered. Unknown ids are skipped by the executor, not
// treated as an error.
func Lookup(id string) (Constructor, bool) {
	ctor, ok := registry[id]
	return ctor, ok
}

// AllIDs returns every registered check id, sorted for deterministic
// output. Used by the CLI's bare-grid-file mode, which runs every known
// check over a single input rather than a QA-JSON-specified subset.
func AllIDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetParam returns the value of the first parameter named name, or
// ok == false if no such parameter exists.
func GetParam(params []model.CheckParam, name string) (interface{}, bool) {
	for _, p := range params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// ParamFloat returns the named parameter coerced to float64, or def if
// absent or of an incompatible type.
func ParamFloat(params []model.CheckParam, name string, def float64) float64 {
	v, ok := GetParam(params, name)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}
