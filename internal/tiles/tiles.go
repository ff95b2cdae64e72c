// Package tiles computes slippy-map tile coordinates and bulk-downloads
// tile imagery into the maps cache namespace.
package tiles

import (
	"errors"
	"fmt"
	"math"
)

// Bounds is a geographic bounding box in degrees.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

func (b Bounds) Validate() error {
	if b.North <= b.South {
		return errors.New("north must be greater than south")
	}
	if b.East <= b.West {
		return errors.New("east must be greater than west")
	}
	if b.North > 85.0511 || b.South < -85.0511 {
		return errors.New("latitude outside Web Mercator range")
	}
	if b.East > 180 || b.West < -180 {
		return errors.New("longitude must be in [-180,180]")
	}
	return nil
}

// Coord identifies one raster tile under the standard z/x/y scheme.
type Coord struct {
	Z int
	X int
	Y int
}

// TileX projects a longitude onto the tile grid at zoom z.
func TileX(lon float64, z int) int {
	n := math.Exp2(float64(z))
	x := int(math.Floor((lon + 180) / 360 * n))
	return clamp(x, int(n)-1)
}

// TileY projects a latitude onto the tile grid at zoom z.
func TileY(lat float64, z int) int {
	n := math.Exp2(float64(z))
	rad := lat * math.Pi / 180
	y := int(math.Floor((1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2 * n))
	return clamp(y, int(n)-1)
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

// Range computes the inclusive tile index range covering the bounds at
// one zoom level. North edge gives the smaller Y.
func Range(b Bounds, z int) (minX, maxX, minY, maxY int) {
	minX = TileX(b.West, z)
	maxX = TileX(b.East, z)
	minY = TileY(b.North, z)
	maxY = TileY(b.South, z)
	return minX, maxX, minY, maxY
}

// Enumerate lists every tile covering the bounds across the zoom range.
func Enumerate(b Bounds, minZoom, maxZoom int) []Coord {
	var out []Coord
	for z := minZoom; z <= maxZoom; z++ {
		minX, maxX, minY, maxY := Range(b, z)
		for x := minX; x <= maxX; x++ {
			for y := minY; y <= maxY; y++ {
				out = append(out, Coord{Z: z, X: x, Y: y})
			}
		}
	}
	return out
}

// URL renders a tile URL from a template with %d verbs for z, x, y.
func URL(template string, c Coord) string {
	return fmt.Sprintf(template, c.Z, c.X, c.Y)
}
