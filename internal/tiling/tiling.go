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

// Package tiling decomposes a rectangular pixel window into a deterministic,
// row-major sequence of fixed-size tiles.
package tiling

import "fmt"

// Tile is a half-open rectangle in pixel coordinates: [MinX,MaxX) x [MinY,MaxY).
type Tile struct {
	MinX, MinY, MaxX, MaxY int
}

// Width returns the tile's pixel width.
func (t Tile) Width() int { return t.MaxX - t.MinX }

// Height returns the tile's pixel height.
func (t Tile) Height() int { return t.MaxY - t.MinY }

func (t Tile) String() string {
	return fmt.Sprintf("(%d, %d) (%d, %d)", t.MinX, t.MinY, t.MaxX, t.MaxY)
}

// Tiles partitions the half-open rectangle [minX,maxX) x [minY,maxY) into a
// row-major sequence of tiles of at most sizeX x sizeY pixels. Tiles that
// abut the right or bottom edge are truncated rather than padded.
//
// The enumeration order (outer loop over y, inner loop over x, both
// starting at the window origin) is part of the observable contract: checks
// that accumulate state across tiles must not depend on it, but callers may.
func Tiles(minX, minY, maxX, maxY, sizeX, sizeY int) ([]Tile, error) {
	if minX >= maxX {
		return nil, fmt.Errorf("tiling: minX (%d) must be less than maxX (%d)", minX, maxX)
	}
	if minY >= maxY {
		return nil, fmt.Errorf("tiling: minY (%d) must be less than maxY (%d)", minY, maxY)
	}
	if sizeX <= 0 {
		return nil, fmt.Errorf("tiling: sizeX must be positive, got %d", sizeX)
	}
	if sizeY <= 0 {
		return nil, fmt.Errorf("tiling: sizeY must be positive, got %d", sizeY)
	}

	var tiles []Tile
	for y := minY; y < maxY; y += sizeY {
		nextY := y + sizeY
		if nextY > maxY {
			nextY = maxY
		}
		for x := minX; x < maxX; x += sizeX {
			nextX := x + sizeX
			if nextX > maxX {
				nextX = maxX
			}
			tiles = append(tiles, Tile{MinX: x, MinY: y, MaxX: nextX, MaxY: nextY})
		}
	}
	return tiles, nil
}
