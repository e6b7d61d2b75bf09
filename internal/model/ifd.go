package model

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ausseabed/mbesgc-go/internal/qajson"
	"github.com/ausseabed/mbesgc-go/internal/rasterio"
)

// CheckParam is a single named parameter passed to a check instance.
type CheckParam struct {
	Name  string
	Value interface{}
}

// CheckRef pairs a check UUID with the parameters it should run with.
type CheckRef struct {
	CheckID string
	Params  []CheckParam
}

// IFD (InputFileDetails) is the canonical description of one logical
// survey product: a set of co-registered bands sharing one geotransform,
// projection and pixel extent, plus the checks that should run over it.
type IFD struct {
	SizeX, SizeY int
	GeoTransform [6]float64
	Projection   string

	Bands []BandRef

	// CoverageVectorPath is the path to a polygon coverage-area source, if
	// one was supplied alongside this input set.
	CoverageVectorPath string

	Checks []CheckRef

	// QAJSONChecks back-references the QA-JSON check entries that
	// contributed to this IFD, used to route outputs into the source tree.
	QAJSONChecks []*qajson.Check

	// Source points at the pre-preprocessing original IFD when this IFD is
	// a clone produced by pink-chart alignment. nil on original IFDs.
	Source *IFD
}

// GetBand returns the unique BandRef for the given type, or ok == false if
// no band of that type is present. Checks must treat absence as "this band
// is missing", not as an error.
func (ifd *IFD) GetBand(t BandType) (BandRef, bool) {
	for _, b := range ifd.Bands {
		if b.Type == t {
			return b, true
		}
	}
	return BandRef{}, false
}

// Validate runs the structural checks mandated before an IFD may be
// processed: at most 3 data bands, no duplicate band types, and a nodata
// value present on every referenced band. It never panics; problems are
// reported as messages, not errors, matching the source behaviour where
// invalid input is a reportable condition rather than a fatal one.
func (ifd *IFD) Validate() (bool, []string) {
	var messages []string

	dataBands := 0
	for _, b := range ifd.Bands {
		if b.Type != PinkChart {
			dataBands++
		}
	}
	if dataBands > 3 {
		messages = append(messages, fmt.Sprintf(
			"A maximum of 3 input bands is expected, but %d were provided.", dataBands))
	}

	counts := map[BandType]int{}
	for _, b := range ifd.Bands {
		counts[b.Type]++
	}
	var dup []string
	for t, c := range counts {
		if c > 1 {
			dup = append(dup, fmt.Sprintf("%d bands were found with type %s", c, t))
		}
	}
	if len(dup) > 0 {
		messages = append(messages, fmt.Sprintf(
			"Found more than 1 band defined with the same data type (%s)", strings.Join(dup, ", ")))
	}

	opened := map[string]*rasterio.Raster{}
	defer func() {
		for _, r := range opened {
			r.Close()
		}
	}()
	for _, b := range ifd.Bands {
		r, ok := opened[b.FilePath]
		if !ok {
			var err error
			r, err = rasterio.Open(b.FilePath)
			if err != nil {
				messages = append(messages, err.Error())
				continue
			}
			opened[b.FilePath] = r
		}
		_, hasNoData, err := r.BandNoData(b.BandIndex)
		if err != nil {
			messages = append(messages, err.Error())
			continue
		}
		if !hasNoData {
			messages = append(messages, fmt.Sprintf(
				"band index %d in file %s has no nodata value assigned", b.BandIndex, b.FilePath))
		}
	}

	return len(messages) == 0, messages
}

// Clone returns a new IFD sharing this IFD's metadata but with an empty
// band list and Source pointing back at ifd. The executor's pink-chart
// preprocessing uses this to substitute a differently-sized, realigned IFD for the original while
// keeping output routing anchored on the original.
func (ifd *IFD) Clone() *IFD {
	clone := &IFD{
		SizeX:              ifd.SizeX,
		SizeY:              ifd.SizeY,
		GeoTransform:       ifd.GeoTransform,
		Projection:         ifd.Projection,
		CoverageVectorPath: ifd.CoverageVectorPath,
		Checks:             ifd.Checks,
		QAJSONChecks:       append([]*qajson.Check(nil), ifd.QAJSONChecks...),
		Source:             ifd,
	}
	return clone
}

// HasSameInputs reports whether ifd and other reference exactly the same
// set of (file, band index, band type) triples, independent of order.
func (ifd *IFD) HasSameInputs(other *IFD) bool {
	if len(ifd.Bands) != len(other.Bands) {
		return false
	}
	for _, ob := range ifd.Bands {
		found := false
		for _, ib := range other.Bands {
			if ib == ob {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// CommonFilename derives a human-readable name for this IFD: the stem of
// the sole input file, or the longest shared-prefix stem across all input
// files (falling back to the first file's stem if fewer than 5 characters
// are shared). Used to name spatial-export subdirectories.
func (ifd *IFD) CommonFilename() string {
	if len(ifd.Bands) == 0 {
		return ""
	}
	if len(ifd.Bands) == 1 {
		return stem(ifd.Bands[0].FilePath)
	}

	names := make([]string, 0, len(ifd.Bands))
	seen := map[string]bool{}
	for _, b := range ifd.Bands {
		s := stem(b.FilePath)
		if !seen[s] {
			seen[s] = true
			names = append(names, s)
		}
	}
	if len(names) == 1 {
		return names[0]
	}

	minLen := len(names[0])
	for _, n := range names[1:] {
		if len(n) < minLen {
			minLen = len(n)
		}
	}
	endPos := 0
	for i := 0; i < minLen; i++ {
		c := names[0][i]
		allMatch := true
		for _, n := range names[1:] {
			if n[i] != c {
				allMatch = false
				break
			}
		}
		if !allMatch {
			break
		}
		endPos++
	}
	if endPos < 5 {
		return names[0]
	}
	return names[0][:endPos]
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
