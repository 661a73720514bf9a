package weather

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

// gridFixture reads a full synthetic window starting at (lat0, lon0).
func gridFixture(t *testing.T, lat0, lon0 float64, n int) *GridSlice {
	t.Helper()
	src := newFakeSource()
	ds := src.publish(runAt(today, 0), 3, lat0, lon0, n, ForecastVariables)
	slice, err := ds.Read(context.Background(), ForecastVariables, nil, -1)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	return slice
}

func TestInterpolateAlignedPointIsIdentity(t *testing.T) {
	slice := gridFixture(t, 28, 77, 4)
	ip := PointInterpolator{Resolution: 0.25}

	for _, pt := range []struct{ lat, lon float64 }{{28, 77}, {28.5, 77.25}, {29, 78}} {
		got, err := ip.Interpolate(slice, pt.lat, pt.lon)
		if err != nil {
			t.Fatalf("Interpolate(%v, %v): %v", pt.lat, pt.lon, err)
		}
		i, j := indexOf(slice.Lat, pt.lat), indexOf(slice.Lon, pt.lon)
		for name, field := range slice.Vars {
			for ts := range field {
				if got.Vars[name][ts][0][0] != field[ts][i][j] {
					t.Fatalf("%s[%d] at (%v, %v) = %v, want node value %v",
						name, ts, pt.lat, pt.lon, got.Vars[name][ts][0][0], field[ts][i][j])
				}
			}
		}
		if got.Lat[0] != pt.lat || got.Lon[0] != pt.lon {
			t.Fatalf("axes = (%v, %v)", got.Lat, got.Lon)
		}
	}
}

func TestInterpolateBilinear(t *testing.T) {
	slice := gridFixture(t, 28, 77, 4)
	ip := PointInterpolator{Resolution: 0.25}

	tests := []struct {
		name     string
		lat, lon float64
	}{
		{name: "cell interior", lat: 28.6, lon: 77.1},
		{name: "near-aligned latitude", lat: 28.625, lon: 77.25},
		{name: "on latitude node", lat: 28.5, lon: 77.86},
		{name: "upper latitude boundary", lat: 29, lon: 77.3},
		{name: "upper longitude boundary", lat: 28.1, lon: 78},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ip.Interpolate(slice, tt.lat, tt.lon)
			if err != nil {
				t.Fatalf("Interpolate: %v", err)
			}
			for name, field := range got.Vars {
				for ts := range field {
					v := field[ts][0][0]
					want := fieldValue(name, ts, tt.lat, tt.lon)
					if math.IsNaN(v) || math.Abs(v-want) > 1e-9 {
						t.Fatalf("%s[%d] = %v, want %v", name, ts, v, want)
					}
				}
			}
		})
	}
}

func TestInterpolateConvexBounds(t *testing.T) {
	slice := gridFixture(t, 28, 77, 1)
	ip := PointInterpolator{Resolution: 0.25}

	for _, pt := range []struct{ lat, lon float64 }{{28.01, 77.01}, {28.13, 77.2}, {28.249, 77.001}} {
		got, err := ip.Interpolate(slice, pt.lat, pt.lon)
		if err != nil {
			t.Fatalf("Interpolate: %v", err)
		}
		for name, field := range slice.Vars {
			for ts := range field {
				lo, hi := math.Inf(1), math.Inf(-1)
				for _, row := range field[ts] {
					for _, v := range row {
						lo, hi = math.Min(lo, v), math.Max(hi, v)
					}
				}
				v := got.Vars[name][ts][0][0]
				if v < lo-1e-12 || v > hi+1e-12 {
					t.Fatalf("%s[%d] = %v outside [%v, %v]", name, ts, v, lo, hi)
				}
			}
		}
	}
}

func TestInterpolateOutOfGrid(t *testing.T) {
	slice := gridFixture(t, 28, 77, 1)
	ip := PointInterpolator{Resolution: 0.25}

	for _, pt := range []struct{ lat, lon float64 }{{30, 77}, {28.1, 79.1}, {27.9, 77.1}} {
		if _, err := ip.Interpolate(slice, pt.lat, pt.lon); !errors.Is(err, ErrOutOfGrid) {
			t.Fatalf("Interpolate(%v, %v) err = %v, want ErrOutOfGrid", pt.lat, pt.lon, err)
		}
	}
	if _, err := (PointInterpolator{}).Interpolate(slice, 28, 77); err == nil {
		t.Fatal("zero resolution accepted")
	}
}

func TestInterpolateKeepsTimeAxis(t *testing.T) {
	slice := gridFixture(t, 28, 77, 1)
	got, err := PointInterpolator{Resolution: 0.25}.Interpolate(slice, 28.1, 77.1)
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	if len(got.Times) != len(slice.Times) {
		t.Fatalf("times = %d, want %d", len(got.Times), len(slice.Times))
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestEnclosingBounds(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     Bounds
	}{
		{lat: 28.625, lon: 77.25, want: Bounds{LatMin: 28.5, LatMax: 28.75, LonMin: 77.25, LonMax: 77.5}},
		{lat: -0.1, lon: 359.9, want: Bounds{LatMin: -0.25, LatMax: 0, LonMin: 359.75, LonMax: 360}},
	}
	for _, tt := range tests {
		if got := EnclosingBounds(tt.lat, tt.lon, 0.25); got != tt.want {
			t.Errorf("EnclosingBounds(%v, %v) = %+v, want %+v", tt.lat, tt.lon, got, tt.want)
		}
	}
}

func TestNormalizeLon(t *testing.T) {
	tests := map[float64]float64{0: 0, 77.25: 77.25, -0.25: 359.75, -180: 180, 360: 0, 359.75: 359.75, -1e-15: 0}
	for in, want := range tests {
		if got := NormalizeLon(in); got != want {
			t.Errorf("NormalizeLon(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestNearestTimeIndex(t *testing.T) {
	times := []time.Time{today, today.Add(3 * time.Hour), today.Add(6 * time.Hour)}
	tests := []struct {
		target time.Duration
		want   int
	}{
		{target: -time.Hour, want: 0},
		{target: time.Hour, want: 0},
		{target: 2 * time.Hour, want: 1},
		{target: 10 * time.Hour, want: 2},
	}
	for _, tt := range tests {
		if got := NearestTimeIndex(times, today.Add(tt.target)); got != tt.want {
			t.Errorf("NearestTimeIndex(+%v) = %d, want %d", tt.target, got, tt.want)
		}
	}
	if NearestTimeIndex(nil, today) != -1 {
		t.Error("empty axis should give -1")
	}
}
