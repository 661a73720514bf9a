package weather

import (
	"fmt"
	"math"
)

// axisEpsilon is the tolerance used to match coordinates against grid nodes.
const axisEpsilon = 1e-9

// PointInterpolator projects a grid slice onto a single (lat, lon).
type PointInterpolator struct {
	Resolution float64 // grid spacing in degrees
}

// Interpolate returns a slice with one latitude and one longitude and the
// time axis of the input. Grid-aligned points are selected directly; other
// points are interpolated bilinearly inside their enclosing cell.
func (p PointInterpolator) Interpolate(slice *GridSlice, lat, lon float64) (*GridSlice, error) {
	if p.Resolution <= 0 {
		return nil, fmt.Errorf("invalid grid resolution %v", p.Resolution)
	}

	if isMultiple(lat, p.Resolution) && isMultiple(lon, p.Resolution) {
		i := indexOf(slice.Lat, lat)
		j := indexOf(slice.Lon, lon)
		if i < 0 || j < 0 {
			return nil, fmt.Errorf("%w: (%v, %v)", ErrOutOfGrid, lat, lon)
		}
		return p.sample(slice, lat, lon, func(field [][]float64) float64 {
			return field[i][j]
		}), nil
	}

	lat0 := cellFloor(lat, p.Resolution)
	lon0 := cellFloor(lon, p.Resolution)
	i0, i1, ty, err := bracket(slice.Lat, lat, lat0, lat0+p.Resolution)
	if err != nil {
		return nil, fmt.Errorf("%w: latitude %v", err, lat)
	}
	j0, j1, tx, err := bracket(slice.Lon, lon, lon0, lon0+p.Resolution)
	if err != nil {
		return nil, fmt.Errorf("%w: longitude %v", err, lon)
	}

	return p.sample(slice, lat, lon, func(field [][]float64) float64 {
		south := lerp(field[i0][j0], field[i0][j1], tx)
		north := lerp(field[i1][j0], field[i1][j1], tx)
		return lerp(south, north, ty)
	}), nil
}

func (p PointInterpolator) sample(slice *GridSlice, lat, lon float64, at func([][]float64) float64) *GridSlice {
	out := NewGridSlice(slice.Run, slice.Times, []float64{lat}, []float64{lon})
	for name, field := range slice.Vars {
		values := make([][][]float64, len(field))
		for t := range field {
			values[t] = [][]float64{{at(field[t])}}
		}
		out.Vars[name] = values
	}
	return out
}

// EnclosingBounds returns the grid cell containing (lat, lon), used to read
// only the nodes needed for interpolation. East of the last meridian node the
// cell ends at 360, which readers close on the lon=0 column.
func EnclosingBounds(lat, lon, resolution float64) Bounds {
	lat0 := cellFloor(lat, resolution)
	lon0 := cellFloor(lon, resolution)
	return Bounds{
		LatMin: lat0,
		LatMax: lat0 + resolution,
		LonMin: lon0,
		LonMax: lon0 + resolution,
	}
}

// NormalizeLon maps a longitude into [0, 360), the GFS convention.
func NormalizeLon(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	if lon >= 360 {
		lon = 0
	}
	return lon
}

func cellFloor(v, resolution float64) float64 {
	return math.Floor(v/resolution) * resolution
}

func isMultiple(v, resolution float64) bool {
	r := math.Abs(math.Mod(v, resolution))
	return r < axisEpsilon || math.Abs(r-resolution) < axisEpsilon
}

func indexOf(axis []float64, v float64) int {
	for i, a := range axis {
		if math.Abs(a-v) < axisEpsilon {
			return i
		}
	}
	return -1
}

// bracket finds the nodes for lo and hi on axis and the weight of hi. A value
// sitting on a node collapses the bracket onto that node, which also covers
// the upper domain boundary where hi does not exist.
func bracket(axis []float64, v, lo, hi float64) (int, int, float64, error) {
	if i := indexOf(axis, v); i >= 0 {
		return i, i, 0, nil
	}
	i0 := indexOf(axis, lo)
	i1 := indexOf(axis, hi)
	if i0 < 0 || i1 < 0 {
		return 0, 0, 0, ErrOutOfGrid
	}
	return i0, i1, (v - axis[i0]) / (axis[i1] - axis[i0]), nil
}

func lerp(a, b, t float64) float64 {
	switch t {
	case 0:
		return a
	case 1:
		return b
	}
	return (1-t)*a + t*b
}
