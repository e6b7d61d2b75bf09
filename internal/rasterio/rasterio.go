// Copyright 2021 Airbus Defence and Space
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rasterio reads and writes rectangular pixel windows of named
// raster bands, exposing nodata-aware, masked grids to the rest of the
// engine. It is a thin adaptation of godal's Dataset/Band API: the engine
// never talks to GDAL directly, only through this package.
package rasterio

import (
	"fmt"
	"math"

	"github.com/airbusgeo/godal"
)

func init() {
	godal.RegisterAll()
}

// Grid is a rectangular window of pixel values with an accompanying mask.
// Mask[i] == true means the pixel at that position is nodata and must be
// excluded from every downstream computation.
type Grid struct {
	Width, Height int
	Values        []float64
	Mask          []bool
}

// NewGrid allocates a Grid of the given dimensions with all pixels valid.
func NewGrid(width, height int) *Grid {
	return &Grid{
		Width:  width,
		Height: height,
		Values: make([]float64, width*height),
		Mask:   make([]bool, width*height),
	}
}

// At returns the value and validity of the pixel at (x, y).
func (g *Grid) At(x, y int) (float64, bool) {
	i := y*g.Width + x
	return g.Values[i], !g.Mask[i]
}

// CoerceIntegers rounds every valid pixel to the nearest integer value,
// leaving masked pixels untouched. Used for density bands, which are
// logically integer sounding counts but may be stored as a floating point
// raster type.
func (g *Grid) CoerceIntegers() {
	for i, masked := range g.Mask {
		if !masked {
			g.Values[i] = math.Round(g.Values[i])
		}
	}
}

// ValidCount returns the number of non-masked pixels in the grid.
func (g *Grid) ValidCount() int {
	n := 0
	for _, masked := range g.Mask {
		if !masked {
			n++
		}
	}
	return n
}

// Raster is an open, read-only handle onto a single raster file.
type Raster struct {
	ds   *godal.Dataset
	path string
}

// Open opens a raster file read-only. Missing files or unreadable rasters
// are reported as a fatal I/O error.
func Open(path string) (*Raster, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rasterio: open %s: %w", path, err)
	}
	return &Raster{ds: ds, path: path}, nil
}

// OpenUpdate opens a raster file for in-place reading and writing, used by
// the pink-chart clipping pass to overwrite masked-out pixels block by
// block after warping.
func OpenUpdate(path string) (*Raster, error) {
	ds, err := godal.Open(path, godal.Update())
	if err != nil {
		return nil, fmt.Errorf("rasterio: open %s for update: %w", path, err)
	}
	return &Raster{ds: ds, path: path}, nil
}

// Close releases the underlying GDAL dataset handle.
func (r *Raster) Close() error {
	if r.ds == nil {
		return nil
	}
	err := r.ds.Close()
	r.ds = nil
	return err
}

// Path returns the file path this Raster was opened from.
func (r *Raster) Path() string { return r.path }

// SizeX returns the raster's pixel width.
func (r *Raster) SizeX() int { return r.ds.Structure().SizeX }

// SizeY returns the raster's pixel height.
func (r *Raster) SizeY() int { return r.ds.Structure().SizeY }

// BandCount returns the number of raster bands in the file.
func (r *Raster) BandCount() int { return len(r.ds.Bands()) }

// Projection returns the dataset's WKT projection, which may be empty.
func (r *Raster) Projection() string { return r.ds.Projection() }

// GeoTransform returns the dataset's affine pixel-to-projected-coordinate
// transform.
func (r *Raster) GeoTransform() ([6]float64, error) {
	gt, err := r.ds.GeoTransform()
	if err != nil {
		return gt, fmt.Errorf("rasterio: geotransform %s: %w", r.path, err)
	}
	return gt, nil
}

func (r *Raster) band(index int) (godal.Band, error) {
	bands := r.ds.Bands()
	if index < 1 || index > len(bands) {
		return godal.Band{}, fmt.Errorf("rasterio: band index %d out of range in %s (has %d bands)", index, r.path, len(bands))
	}
	return bands[index-1], nil
}

// BandDescription returns the textual description attached to the given
// 1-based band index.
func (r *Raster) BandDescription(index int) (string, error) {
	b, err := r.band(index)
	if err != nil {
		return "", err
	}
	return b.Description(), nil
}

// BandNoData returns the nodata value assigned to the given band, or
// ok == false if none was set.
func (r *Raster) BandNoData(index int) (float64, bool, error) {
	b, err := r.band(index)
	if err != nil {
		return 0, false, err
	}
	nodata, ok := b.NoData()
	return nodata, ok, nil
}

// BlockSize returns the band's natural read/write block dimensions.
func (r *Raster) BlockSize(index int) (int, int, error) {
	b, err := r.band(index)
	if err != nil {
		return 0, 0, err
	}
	st := b.Structure()
	return st.BlockSizeX, st.BlockSizeY, nil
}

// ReadWindow reads the rectangular pixel window [minX, minX+width) x
// [minY, minY+height) of the given 1-based band index. The returned Grid
// always has exactly width*height elements; pixels equal to the band's
// nodata value (if any) are marked masked.
func (r *Raster) ReadWindow(bandIndex, minX, minY, width, height int) (*Grid, error) {
	b, err := r.band(bandIndex)
	if err != nil {
		return nil, err
	}
	buf := make([]float64, width*height)
	if err := b.Read(minX, minY, buf, width, height); err != nil {
		return nil, fmt.Errorf("rasterio: read window of %s band %d: %w", r.path, bandIndex, err)
	}
	grid := &Grid{Width: width, Height: height, Values: buf, Mask: make([]bool, width*height)}
	if nodata, ok := b.NoData(); ok {
		for i, v := range buf {
			if v == nodata {
				grid.Mask[i] = true
			}
		}
	}
	return grid, nil
}

// WriteWindow writes grid into the rectangular window of the given 1-based
// band index, using the band's nodata value (if any) for masked pixels.
func (r *Raster) WriteWindow(bandIndex, minX, minY int, grid *Grid) error {
	b, err := r.band(bandIndex)
	if err != nil {
		return err
	}
	out := make([]float64, len(grid.Values))
	copy(out, grid.Values)
	if nodata, ok := b.NoData(); ok {
		for i, masked := range grid.Mask {
			if masked {
				out[i] = nodata
			}
		}
	}
	if err := b.Write(minX, minY, out, grid.Width, grid.Height); err != nil {
		return fmt.Errorf("rasterio: write window of %s band %d: %w", r.path, bandIndex, err)
	}
	return nil
}

// SetBandDescription sets the textual description of a 1-based band index.
// Used to carry band labels across the pink-chart warp/clip pipeline.
func (r *Raster) SetBandDescription(bandIndex int, description string) error {
	b, err := r.band(bandIndex)
	if err != nil {
		return err
	}
	if err := b.SetDescription(description); err != nil {
		return fmt.Errorf("rasterio: set description of %s band %d: %w", r.path, bandIndex, err)
	}
	return nil
}

// SetBandNoData sets the nodata value of a 1-based band index.
func (r *Raster) SetBandNoData(bandIndex int, value float64) error {
	b, err := r.band(bandIndex)
	if err != nil {
		return err
	}
	if err := b.SetNoData(value); err != nil {
		return fmt.Errorf("rasterio: set nodata of %s band %d: %w", r.path, bandIndex, err)
	}
	return nil
}
