// Package inputresolver maps user-supplied raster (and optional coverage
// vector) filenames onto the canonical IFD band model described in
// model.IFD, applying the GeoTIFF band-description/filename heuristics and
// BAG sibling-file convention documented by the grid-check engine.
package inputresolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ausseabed/mbesgc-go/internal/model"
	"github.com/ausseabed/mbesgc-go/internal/qajson"
	"github.com/ausseabed/mbesgc-go/internal/rasterio"
)

// FileInput is one user-provided path plus the QA-JSON file_type tag it was
// submitted under.
type FileInput struct {
	Path     string
	FileType string
}

// resolvePath resolves path against relativeTo when path is not absolute
// and does not exist as given, matching rule 1 of the input resolver.
func resolvePath(path, relativeTo string) string {
	if path == "" || relativeTo == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	candidate := filepath.Join(relativeTo, path)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}

func isDensityBag(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), "_density.bag")
}

func isTiff(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff")
}

func isBag(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".bag")
}

func stemLower(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.ToLower(strings.TrimSuffix(base, ext))
}

// ResolveGridFiles applies rules 2-5 of the input resolver to a single
// logical group of raster files (already path-resolved), returning the one
// IFD they collectively describe. Files that match no rule are silently
// ignored, matching the source behaviour; a group with no recognised files
// yields a nil IFD.
func ResolveGridFiles(paths []string) (*model.IFD, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("inputresolver: no gridded input files provided")
	}

	var tifPaths []string
	var bagPath string
	for _, p := range paths {
		switch {
		case isDensityBag(p):
			// consumed by the BAG rule below, never directly.
			continue
		case isTiff(p):
			tifPaths = append(tifPaths, p)
		case isBag(p):
			if bagPath == "" {
				bagPath = p
			}
		}
	}

	if len(tifPaths) > 0 {
		return resolveTiffGroup(tifPaths)
	}
	if bagPath != "" {
		return resolveBagGroup(bagPath)
	}
	return nil, nil
}

func resolveTiffGroup(paths []string) (*model.IFD, error) {
	ifd := &model.IFD{}
	firstBandCount := 0

	for i, path := range paths {
		raster, err := rasterio.Open(path)
		if err != nil {
			return nil, fmt.Errorf("inputresolver: %w", err)
		}

		ifd.SizeX = raster.SizeX()
		ifd.SizeY = raster.SizeY()
		gt, err := raster.GeoTransform()
		if err != nil {
			raster.Close()
			return nil, fmt.Errorf("inputresolver: %w", err)
		}
		ifd.GeoTransform = gt
		ifd.Projection = raster.Projection()

		bandCount := raster.BandCount()
		if i == 0 {
			firstBandCount = bandCount
		}
		fileAdded := false
		for bandIndex := 1; bandIndex <= bandCount; bandIndex++ {
			desc, err := raster.BandDescription(bandIndex)
			if err != nil {
				raster.Close()
				return nil, fmt.Errorf("inputresolver: %w", err)
			}
			lower := strings.ToLower(desc)
			switch {
			case strings.Contains(lower, "depth"):
				ifd.Bands = append(ifd.Bands, model.BandRef{FilePath: path, BandIndex: bandIndex, Type: model.Depth})
				fileAdded = true
			case strings.Contains(lower, "density"):
				ifd.Bands = append(ifd.Bands, model.BandRef{FilePath: path, BandIndex: bandIndex, Type: model.Density})
				fileAdded = true
			case strings.Contains(lower, "uncertainty"):
				ifd.Bands = append(ifd.Bands, model.BandRef{FilePath: path, BandIndex: bandIndex, Type: model.Uncertainty})
				fileAdded = true
			}
		}

		nameOnly := stemLower(path)
		switch {
		case fileAdded:
			// band descriptions already resolved this file.
		case bandCount == 1 && strings.Contains(nameOnly, "depth"):
			ifd.Bands = append(ifd.Bands, model.BandRef{FilePath: path, BandIndex: 1, Type: model.Depth})
		case bandCount == 1 && strings.Contains(nameOnly, "density"):
			ifd.Bands = append(ifd.Bands, model.BandRef{FilePath: path, BandIndex: 1, Type: model.Density})
		case bandCount == 1 && strings.Contains(nameOnly, "uncertainty"):
			ifd.Bands = append(ifd.Bands, model.BandRef{FilePath: path, BandIndex: 1, Type: model.Uncertainty})
		default:
			// Users must label all bands, or no labels are used at all: the
			// legacy convention only ever applies to the first file, and
			// iterates every band inclusively (band_index in [1,
			// band_count]) rather than excluding the last band, which is
			// the fix for the off-by-one defect observed in the source.
			ifd.Bands = nil
			for bandIndex := 1; bandIndex <= firstBandCount; bandIndex++ {
				var bandType model.BandType
				switch bandIndex {
				case 1:
					bandType = model.Depth
				case 2:
					bandType = model.Density
				default:
					bandType = model.Uncertainty
				}
				ifd.Bands = append(ifd.Bands, model.BandRef{FilePath: paths[0], BandIndex: bandIndex, Type: bandType})
			}
			raster.Close()
			return ifd, nil
		}

		raster.Close()
	}

	return ifd, nil
}

func resolveBagGroup(path string) (*model.IFD, error) {
	ext := filepath.Ext(path)
	densityPath := strings.TrimSuffix(path, ext) + "_Density.bag"
	if _, err := os.Stat(densityPath); err != nil {
		return nil, fmt.Errorf("inputresolver: could not find density file for bag, expected %s", densityPath)
	}

	depthRaster, err := rasterio.Open(path)
	if err != nil {
		return nil, fmt.Errorf("inputresolver: %w", err)
	}
	defer depthRaster.Close()

	densityRaster, err := rasterio.Open(densityPath)
	if err != nil {
		return nil, fmt.Errorf("inputresolver: %w", err)
	}
	defer densityRaster.Close()

	if depthRaster.SizeX() != densityRaster.SizeX() || depthRaster.SizeY() != densityRaster.SizeY() {
		return nil, fmt.Errorf(
			"inputresolver: mismatch in data sizes across depth and density inputs, both files must have the same size")
	}

	gt, err := depthRaster.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("inputresolver: %w", err)
	}

	ifd := &model.IFD{
		SizeX:        depthRaster.SizeX(),
		SizeY:        depthRaster.SizeY(),
		GeoTransform: gt,
		Projection:   depthRaster.Projection(),
		Bands: []model.BandRef{
			{FilePath: path, BandIndex: 1, Type: model.Depth},
			{FilePath: path, BandIndex: 2, Type: model.Uncertainty},
			{FilePath: densityPath, BandIndex: 1, Type: model.Density},
		},
	}
	return ifd, nil
}

// Resolve implements the top-level InputResolver entry point: it groups the
// supplied files by the rules above and attaches at most one coverage
// vector, producing a single IFD. relativeTo, if non-empty, is used to
// resolve any relative paths that don't exist as given.
func Resolve(files []FileInput, relativeTo string) (*model.IFD, error) {
	var gridPaths []string
	var coveragePath string
	for _, f := range files {
		path := resolvePath(f.Path, relativeTo)
		switch f.FileType {
		case qajson.FileTypeCoverageArea:
			if coveragePath == "" {
				coveragePath = path
			}
		default:
			gridPaths = append(gridPaths, path)
		}
	}

	ifd, err := ResolveGridFiles(gridPaths)
	if err != nil {
		return nil, err
	}
	if ifd != nil {
		ifd.CoverageVectorPath = coveragePath
	}
	return ifd, nil
}

// InputsFromChecks groups a QA-JSON check list into IFDs: each check's
// "Survey DTMs" files contribute a grid-file group, its "Coverage Area"
// file (at most one) becomes the group's coverage vector, and two checks
// that resolve to identical band sets are coalesced into one IFD whose
// Checks list concatenates both check references. This avoids re-reading
// the same pixels for independent checks.
func InputsFromChecks(checks []*qajson.Check, relativeTo string) ([]*model.IFD, error) {
	var ifds []*model.IFD

	for _, qc := range checks {
		var gridPaths []string
		var coveragePaths []string
		for _, f := range qc.Inputs.Files {
			path := resolvePath(f.Path, relativeTo)
			switch f.FileType {
			case qajson.FileTypeSurveyDTMs:
				gridPaths = append(gridPaths, path)
			case qajson.FileTypeCoverageArea:
				coveragePaths = append(coveragePaths, path)
			}
		}

		ifd, err := ResolveGridFiles(gridPaths)
		if err != nil {
			return nil, err
		}
		if ifd == nil {
			continue
		}

		checkRef := model.CheckRef{CheckID: qc.Info.ID, Params: toModelParams(qc.Inputs.Params)}

		added := false
		for _, existing := range ifds {
			if existing.HasSameInputs(ifd) {
				existing.Checks = append(existing.Checks, checkRef)
				existing.QAJSONChecks = append(existing.QAJSONChecks, qc)
				added = true
			}
		}
		if !added {
			ifd.Checks = append(ifd.Checks, checkRef)
			ifd.QAJSONChecks = append(ifd.QAJSONChecks, qc)
			if len(coveragePaths) > 0 {
				ifd.CoverageVectorPath = coveragePaths[0]
			}
			ifds = append(ifds, ifd)
		}
	}

	return ifds, nil
}

func toModelParams(params []qajson.Param) []model.CheckParam {
	out := make([]model.CheckParam, len(params))
	for i, p := range params {
		out[i] = model.CheckParam{Name: p.Name, Value: p.Value}
	}
	return out
}
