package gridcheck

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/godal"

	"github.com/ausseabed/mbesgc-go/internal/tiling"
)

// GrowPixels performs morphological dilation of a byte mask (non-zero is
// foreground) with a square structuring element reaching n/2 (integer
// division) pixels on every side of each foreground pixel, i.e. n x n for
// odd n and (n+1) x (n+1) for even n, matching the
// visual enlargement applied to failed cells before polygonization. It
// never mutates mask; stats must always be computed from the ungrown
// mask, not this one.
func GrowPixels(mask []byte, width, height, n int) []byte {
	if n <= 0 {
		out := make([]byte, len(mask))
		copy(out, mask)
		return out
	}
	radius := n / 2
	out := make([]byte, len(mask))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if mask[y*width+x] == 0 {
				continue
			}
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= height {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= width {
						continue
					}
					out[ny*width+nx] = 1
				}
			}
		}
	}
	return out
}

// GeoTransformForTile returns the affine transform that places the
// tile-local origin (0,0) at the tile's offset within the full raster
// described by srcGT. Shared by the failure-polygonization pipeline and
// the per-tile spatial_export writers, both of which need a geotransform
// local to the tile's window rather than the full raster.
func GeoTransformForTile(srcGT [6]float64, offsetX, offsetY int) [6]float64 {
	gt := srcGT
	gt[0] = srcGT[0] + float64(offsetX)*srcGT[1] + float64(offsetY)*srcGT[2]
	gt[3] = srcGT[3] + float64(offsetX)*srcGT[4] + float64(offsetY)*srcGT[5]
	return gt
}

// MultiPolygon accumulates polygon coordinate rings from repeated
// Polygon/MultiPolygon GeoJSON fragments into one logical multi-polygon,
// in the style of the reference implementation's "append coordinates to
// an accumulating MultiPolygon" helper. It marshals directly to a
// GeoJSON MultiPolygon object.
type MultiPolygon struct {
	Type        string          `json:"type"`
	Coordinates [][][][]float64 `json:"coordinates"`
}

// NewMultiPolygon returns an empty accumulator.
func NewMultiPolygon() *MultiPolygon {
	return &MultiPolygon{Type: "MultiPolygon", Coordinates: [][][][]float64{}}
}

// Extend appends other's polygon entries onto mp. A nil other is a no-op,
// so merges of checks that never produced spatial output are safe.
func (mp *MultiPolygon) Extend(other *MultiPolygon) {
	if other == nil {
		return
	}
	mp.Coordinates = append(mp.Coordinates, other.Coordinates...)
}

// addGeoJSONFeature appends the polygon(s) carried by a single feature's
// GeoJSON geometry fragment to mp. A bare Polygon feature contributes one
// new entry (its ring list); a MultiPolygon feature's entries are each
// appended individually.
func (mp *MultiPolygon) addGeoJSONFeature(geoJSON string) error {
	var generic struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal([]byte(geoJSON), &generic); err != nil {
		return fmt.Errorf("gridcheck: decode geojson fragment: %w", err)
	}
	switch generic.Type {
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(generic.Coordinates, &rings); err != nil {
			return fmt.Errorf("gridcheck: decode polygon coordinates: %w", err)
		}
		mp.Coordinates = append(mp.Coordinates, rings)
	case "MultiPolygon":
		var polys [][][][]float64
		if err := json.Unmarshal(generic.Coordinates, &polys); err != nil {
			return fmt.Errorf("gridcheck: decode multipolygon coordinates: %w", err)
		}
		mp.Coordinates = append(mp.Coordinates, polys...)
	}
	return nil
}

// polygonizeMask burns a byte mask (non-zero foreground, zero background)
// into an in-memory raster positioned by the tile's geotransform, then
// polygonizes the non-zero connected regions using that raster itself as
// its own polygonization mask (matching the source's gdal.Polygonize
// invocation, which uses the same band as both value source and mask so
// that background pixels never produce a feature).
func polygonizeMask(mask []byte, width, height int, tileGT [6]float64, projection string) (godal.Layer, *godal.Dataset, func(), error) {
	memDS, err := godal.Create(godal.Memory, "", 1, godal.Byte, width, height)
	if err != nil {
		return godal.Layer{}, nil, nil, fmt.Errorf("gridcheck: create mem raster: %w", err)
	}
	if err := memDS.SetGeoTransform(tileGT); err != nil {
		memDS.Close()
		return godal.Layer{}, nil, nil, fmt.Errorf("gridcheck: set geotransform: %w", err)
	}
	if projection != "" {
		if err := memDS.SetProjection(projection); err != nil {
			memDS.Close()
			return godal.Layer{}, nil, nil, fmt.Errorf("gridcheck: set projection: %w", err)
		}
	}

	bands := memDS.Bands()
	band := bands[0]
	if err := band.Write(0, 0, mask, width, height); err != nil {
		memDS.Close()
		return godal.Layer{}, nil, nil, fmt.Errorf("gridcheck: write mask raster: %w", err)
	}
	if err := band.SetNoData(0); err != nil {
		memDS.Close()
		return godal.Layer{}, nil, nil, fmt.Errorf("gridcheck: set mask nodata: %w", err)
	}

	vecDS, err := godal.CreateVector(godal.Memory, "shapemask")
	if err != nil {
		memDS.Close()
		return godal.Layer{}, nil, nil, fmt.Errorf("gridcheck: create mem vector: %w", err)
	}

	var sr *godal.SpatialRef
	if projection != "" {
		sr, err = godal.NewSpatialRefFromWKT(projection)
		if err == nil {
			defer sr.Close()
		}
	}

	layer, err := vecDS.CreateLayer("shapemask", sr, godal.GTPolygon)
	if err != nil {
		memDS.Close()
		vecDS.Close()
		return godal.Layer{}, nil, nil, fmt.Errorf("gridcheck: create layer: %w", err)
	}

	if err := band.Polygonize(layer); err != nil {
		memDS.Close()
		vecDS.Close()
		return godal.Layer{}, nil, nil, fmt.Errorf("gridcheck: polygonize: %w", err)
	}

	cleanup := func() {
		vecDS.Close()
		memDS.Close()
	}
	return layer, vecDS, cleanup, nil
}

// PolygonizeFailures runs the shared failure-mask pipeline used by every
// concrete check: grow the mask by pixelGrowth, polygonize the non-zero
// regions, simplify at distance = pixelGrowth * pixelSizeX, reproject to
// EPSG:4326 using whatever axis order the default spatial reference
// carries (no mapping-strategy override, matching the check-output
// reprojection path), and return the resulting fragment for accumulation
// into the check's running multi-polygon. geoTransform and projection
// describe the full (untiled) raster; tile locates the mask's window
// within it.
func PolygonizeFailures(mask []byte, width, height int, geoTransform [6]float64, tile tiling.Tile, projection string, pixelGrowth int) (*MultiPolygon, error) {
	grown := GrowPixels(mask, width, height, pixelGrowth)

	tileGT := GeoTransformForTile(geoTransform, tile.MinX, tile.MinY)

	layer, _, cleanup, err := polygonizeMask(grown, width, height, tileGT, projection)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	simplifyDistance := float64(pixelGrowth) * geoTransform[1]

	srcSR, err := godal.NewSpatialRefFromWKT(projection)
	if err != nil {
		return nil, fmt.Errorf("gridcheck: parse projection: %w", err)
	}
	defer srcSR.Close()

	dstSR, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return nil, fmt.Errorf("gridcheck: create wgs84 spatial ref: %w", err)
	}
	defer dstSR.Close()

	result := NewMultiPolygon()

	layer.ResetReading()
	for {
		feat := layer.NextFeature()
		if feat == nil {
			break
		}
		geom := feat.Geometry()
		if geom == nil {
			feat.Close()
			continue
		}
		geom.SetSpatialRef(srcSR)

		simplified, err := geom.Simplify(simplifyDistance)
		if err != nil {
			feat.Close()
			return nil, fmt.Errorf("gridcheck: simplify: %w", err)
		}

		if err := simplified.Reproject(dstSR); err != nil {
			feat.Close()
			return nil, fmt.Errorf("gridcheck: reproject to wgs84: %w", err)
		}

		geoJSON, err := simplified.GeoJSON()
		if err != nil {
			feat.Close()
			return nil, fmt.Errorf("gridcheck: export geojson: %w", err)
		}

		if err := result.addGeoJSONFeature(geoJSON); err != nil {
			feat.Close()
			return nil, err
		}

		feat.Close()
	}

	return result, nil
}

// DatasetExtents reprojects the full pixel extent of a raster described by
// geoTransform/sizeX/sizeY into EPSG:4326, returning the WGS-84 MultiPolygon
// carried as outputs.data.extents. It is constant for a given IFD, so
// checks need only compute it once (e.g. on the tile covering the raster
// origin) and keep the first non-nil value across merges.
func DatasetExtents(geoTransform [6]float64, sizeX, sizeY int, projection string) (*MultiPolygon, error) {
	minX := geoTransform[0]
	maxY := geoTransform[3]
	maxX := minX + geoTransform[1]*float64(sizeX) + geoTransform[2]*float64(sizeY)
	minY := maxY + geoTransform[4]*float64(sizeX) + geoTransform[5]*float64(sizeY)

	wkt := fmt.Sprintf(
		"POLYGON((%g %g,%g %g,%g %g,%g %g,%g %g))",
		minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY)

	srcSR, err := godal.NewSpatialRefFromWKT(projection)
	if err != nil {
		return nil, fmt.Errorf("gridcheck: parse projection: %w", err)
	}
	defer srcSR.Close()

	geom, err := godal.NewGeometryFromWKT(wkt, srcSR)
	if err != nil {
		return nil, fmt.Errorf("gridcheck: build extents geometry: %w", err)
	}
	defer geom.Close()

	dstSR, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return nil, fmt.Errorf("gridcheck: create wgs84 spatial ref: %w", err)
	}
	defer dstSR.Close()

	if err := geom.Reproject(dstSR); err != nil {
		return nil, fmt.Errorf("gridcheck: reproject extents to wgs84: %w", err)
	}

	geoJSON, err := geom.GeoJSON()
	if err != nil {
		return nil, fmt.Errorf("gridcheck: export extents geojson: %w", err)
	}

	result := NewMultiPolygon()
	if err := result.addGeoJSONFeature(geoJSON); err != nil {
		return nil, err
	}
	return result, nil
}

// ExportTile writes the per-tile spatial_export artifacts for one failure
// mask: a GeoTIFF of the (grown) mask, an optional GeoTIFF of the allowable
// value raster that produced it (TVU/Resolution pass one; Density passes
// nil), and a shapefile of the polygonized failure regions in the raster's
// native projection. dir is the check's export directory; a blank dir is a
// no-op so callers need not check SpatialExport themselves.
func ExportTile(dir string, tile tiling.Tile, mask []byte, width, height int, tileGT [6]float64, projection string, growth int, allowable []float64) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("gridcheck: create export dir %s: %w", dir, err)
	}

	base := fmt.Sprintf("tile_%d_%d", tile.MinX, tile.MinY)
	grown := GrowPixels(mask, width, height, growth)

	if err := writeByteGeoTIFF(filepath.Join(dir, base+"_mask.tif"), grown, width, height, tileGT, projection); err != nil {
		return err
	}
	if allowable != nil {
		if err := writeFloatGeoTIFF(filepath.Join(dir, base+"_allowable.tif"), allowable, width, height, tileGT, projection); err != nil {
			return err
		}
	}
	return writeFailureShapefile(filepath.Join(dir, base+".shp"), grown, width, height, tileGT, projection)
}

func writeByteGeoTIFF(path string, values []byte, width, height int, gt [6]float64, projection string) error {
	ds, err := godal.Create(godal.GTiff, path, 1, godal.Byte, width, height)
	if err != nil {
		return fmt.Errorf("gridcheck: create %s: %w", path, err)
	}
	defer ds.Close()
	if err := ds.SetGeoTransform(gt); err != nil {
		return fmt.Errorf("gridcheck: set geotransform on %s: %w", path, err)
	}
	if projection != "" {
		if err := ds.SetProjection(projection); err != nil {
			return fmt.Errorf("gridcheck: set projection on %s: %w", path, err)
		}
	}
	band := ds.Bands()[0]
	if err := band.Write(0, 0, values, width, height); err != nil {
		return fmt.Errorf("gridcheck: write %s: %w", path, err)
	}
	return nil
}

func writeFloatGeoTIFF(path string, values []float64, width, height int, gt [6]float64, projection string) error {
	ds, err := godal.Create(godal.GTiff, path, 1, godal.Float64, width, height)
	if err != nil {
		return fmt.Errorf("gridcheck: create %s: %w", path, err)
	}
	defer ds.Close()
	if err := ds.SetGeoTransform(gt); err != nil {
		return fmt.Errorf("gridcheck: set geotransform on %s: %w", path, err)
	}
	if projection != "" {
		if err := ds.SetProjection(projection); err != nil {
			return fmt.Errorf("gridcheck: set projection on %s: %w", path, err)
		}
	}
	band := ds.Bands()[0]
	if err := band.Write(0, 0, values, width, height); err != nil {
		return fmt.Errorf("gridcheck: write %s: %w", path, err)
	}
	return nil
}

func writeFailureShapefile(path string, mask []byte, width, height int, tileGT [6]float64, projection string) error {
	memDS, err := godal.Create(godal.Memory, "", 1, godal.Byte, width, height)
	if err != nil {
		return fmt.Errorf("gridcheck: create mem raster: %w", err)
	}
	defer memDS.Close()
	if err := memDS.SetGeoTransform(tileGT); err != nil {
		return fmt.Errorf("gridcheck: set geotransform: %w", err)
	}

	var sr *godal.SpatialRef
	if projection != "" {
		if err := memDS.SetProjection(projection); err != nil {
			return fmt.Errorf("gridcheck: set projection: %w", err)
		}
		sr, err = godal.NewSpatialRefFromWKT(projection)
		if err == nil {
			defer sr.Close()
		}
	}

	band := memDS.Bands()[0]
	if err := band.Write(0, 0, mask, width, height); err != nil {
		return fmt.Errorf("gridcheck: write mask raster: %w", err)
	}
	if err := band.SetNoData(0); err != nil {
		return fmt.Errorf("gridcheck: set mask nodata: %w", err)
	}

	shpDS, err := godal.CreateVector(godal.Shapefile, path)
	if err != nil {
		return fmt.Errorf("gridcheck: create shapefile %s: %w", path, err)
	}
	defer shpDS.Close()

	layerName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	layer, err := shpDS.CreateLayer(layerName, sr, godal.GTPolygon)
	if err != nil {
		return fmt.Errorf("gridcheck: create shapefile layer: %w", err)
	}

	if err := band.Polygonize(layer); err != nil {
		return fmt.Errorf("gridcheck: polygonize to shapefile: %w", err)
	}
	return nil
}
