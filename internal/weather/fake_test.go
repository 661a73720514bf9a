package weather

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

var errNotPublished = errors.New("not published")

// fakeSource serves synthetic runs. Runs are published by RunID.String();
// dates listed in unreachable fail the probe.
type fakeSource struct {
	mu          sync.Mutex
	runs        map[string]*fakeDataset
	unreachable map[string]bool
	probes      int
	opens       []RunID
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		runs:        make(map[string]*fakeDataset),
		unreachable: make(map[string]bool),
	}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Probe(_ context.Context, product Product, date time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	if f.unreachable[product.Tag+date.Format("20060102")] {
		return errNotPublished
	}
	return nil
}

func (f *fakeSource) Open(_ context.Context, run RunID) (Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens = append(f.opens, run)
	ds, ok := f.runs[run.String()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", run, errNotPublished)
	}
	return ds, nil
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opens)
}

// publish adds a run with steps time steps over a lat/lon window.
func (f *fakeSource) publish(run RunID, steps int, lat0, lon0 float64, n int, vars []string) *fakeDataset {
	var lat, lon []float64
	for i := 0; i <= n; i++ {
		lat = append(lat, lat0+float64(i)*run.Product.Resolution)
		lon = append(lon, lon0+float64(i)*run.Product.Resolution)
	}
	return f.publishAxes(run, steps, lat, lon, vars)
}

// publishAxes adds a run on explicit, ascending lat/lon axes.
func (f *fakeSource) publishAxes(run RunID, steps int, lat, lon []float64, vars []string) *fakeDataset {
	ds := &fakeDataset{run: run, vars: vars, lat: lat, lon: lon, readIndex: -2}
	for t := 0; t < steps; t++ {
		ds.times = append(ds.times, run.Time().Add(time.Duration(t)*run.Product.Cadence))
	}
	f.mu.Lock()
	f.runs[run.String()] = ds
	f.mu.Unlock()
	return ds
}

func (f *fakeSource) markUnreachable(product Product, date time.Time) {
	f.unreachable[product.Tag+date.Format("20060102")] = true
}

type fakeDataset struct {
	run   RunID
	vars  []string
	times []time.Time
	lat   []float64
	lon   []float64

	readIndex int // last timeIndex passed to Read
	reads     []Bounds
	corrupt   bool // drop the last longitude of every temperature row
}

func (d *fakeDataset) Run() RunID         { return d.run }
func (d *fakeDataset) Times() []time.Time { return d.times }
func (d *fakeDataset) Close() error       { return nil }

// fieldValue is linear in lat and lon so bilinear interpolation is exact.
func fieldValue(name string, t int, lat, lon float64) float64 {
	switch name {
	case VarTemperature:
		return 290 + 0.5*lat + 0.25*lon + float64(t)
	case VarPrecipRate:
		return 1e-5 * (1 + lat/100)
	case VarHumidity:
		return 60 + lat - lon/10
	case VarRadiation:
		return 100 * float64(t)
	case VarWindU:
		return 3 + lat/100
	case VarWindV:
		return -4 + lon/100
	}
	return math.NaN()
}

func (d *fakeDataset) Read(_ context.Context, variables []string, bounds *Bounds, timeIndex int) (*GridSlice, error) {
	d.readIndex = timeIndex
	if bounds != nil {
		d.reads = append(d.reads, *bounds)
	}
	for _, v := range variables {
		found := false
		for _, have := range d.vars {
			found = found || have == v
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrMissingVariable, v)
		}
	}

	tIdx := make([]int, 0, len(d.times))
	for t := range d.times {
		if timeIndex < 0 || t == timeIndex {
			tIdx = append(tIdx, t)
		}
	}
	within := func(v, lo, hi float64) bool { return v >= lo-1e-9 && v <= hi+1e-9 }
	var lat, lon []float64
	for _, v := range d.lat {
		if bounds == nil || within(v, bounds.LatMin, bounds.LatMax) {
			lat = append(lat, v)
		}
	}
	for _, v := range d.lon {
		if bounds == nil || within(v, bounds.LonMin, bounds.LonMax) {
			lon = append(lon, v)
		}
	}
	if len(lat) == 0 || len(lon) == 0 {
		return nil, ErrOutOfGrid
	}

	times := make([]time.Time, len(tIdx))
	for k, t := range tIdx {
		times[k] = d.times[t]
	}
	slice := NewGridSlice(d.run, times, lat, lon)
	for _, v := range variables {
		field := slice.NewField()
		for k, t := range tIdx {
			for i, la := range lat {
				for j, lo := range lon {
					field[k][i][j] = fieldValue(v, t, la, lo)
				}
			}
		}
		slice.Vars[v] = field
	}
	if d.corrupt {
		for _, rows := range slice.Vars[VarTemperature] {
			for i := range rows {
				rows[i] = rows[i][:len(rows[i])-1]
			}
		}
	}
	return slice, nil
}
