package weather

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var (
	refTime   = time.Date(2026, 10, 18, 10, 17, 0, 0, time.UTC)
	today     = time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	yesterday = today.AddDate(0, 0, -1)
)

func runAt(date time.Time, hour int) RunID {
	return RunID{Date: date, Hour: hour, Product: ProductHourly}
}

func TestCandidates(t *testing.T) {
	tests := []struct {
		name      string
		reachable bool
		want      []RunID
	}{
		{
			name:      "reference date reachable",
			reachable: true,
			want: []RunID{
				runAt(today, 18), runAt(today, 12), runAt(today, 6), runAt(today, 0),
				runAt(yesterday, 18), runAt(yesterday, 12), runAt(yesterday, 6), runAt(yesterday, 0),
			},
		},
		{
			name: "reference date unreachable",
			want: []RunID{runAt(yesterday, 18), runAt(yesterday, 12), runAt(yesterday, 6), runAt(yesterday, 0)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			if !tt.reachable {
				src.markUnreachable(ProductHourly, today)
			}
			got := NewRunResolver(src, ProductHourly, nil).Candidates(context.Background(), refTime)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d candidates, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].String() != tt.want[i].String() {
					t.Errorf("candidate %d = %s, want %s", i, got[i], tt.want[i])
				}
			}
			if src.probes != 1 {
				t.Errorf("probes = %d, want 1", src.probes)
			}
		})
	}
}

func TestResolveExhaustion(t *testing.T) {
	src := newFakeSource()
	r := NewRunResolver(src, ProductHourly, nil)

	_, err := r.Resolve(context.Background(), refTime, Request{Variables: ForecastVariables})
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}
	if n := src.openCount(); n != 8 {
		t.Fatalf("open attempts = %d, want 8", n)
	}
	if src.probes != 1 {
		t.Fatalf("probes = %d, want 1", src.probes)
	}
}

func TestResolveExhaustionAfterFailedProbe(t *testing.T) {
	src := newFakeSource()
	src.markUnreachable(ProductHourly, today)
	// Published on the reference date but never tried, since the probe failed.
	src.publish(runAt(today, 0), 4, 28, 77, 2, ForecastVariables)

	_, err := NewRunResolver(src, ProductHourly, nil).Resolve(context.Background(), refTime, Request{Variables: ForecastVariables})
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}
	if n := src.openCount(); n != 4 {
		t.Fatalf("open attempts = %d, want 4", n)
	}
	for _, run := range src.opens {
		if !run.Date.Equal(yesterday) {
			t.Fatalf("opened %s, want only the previous day", run)
		}
	}
}

func TestResolvePicksFreshestRun(t *testing.T) {
	tests := []struct {
		name      string
		published []RunID
		want      RunID
		opens     int
	}{
		{name: "latest cycle", published: []RunID{runAt(today, 18), runAt(today, 6)}, want: runAt(today, 18), opens: 1},
		{name: "earlier cycle today", published: []RunID{runAt(today, 6), runAt(yesterday, 18)}, want: runAt(today, 6), opens: 3},
		{name: "previous day", published: []RunID{runAt(yesterday, 12)}, want: runAt(yesterday, 12), opens: 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			for _, run := range tt.published {
				src.publish(run, 4, 28, 77, 2, ForecastVariables)
			}
			slice, err := NewRunResolver(src, ProductHourly, nil).Resolve(context.Background(), refTime, Request{Variables: ForecastVariables})
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if slice.Run.String() != tt.want.String() {
				t.Fatalf("run = %s, want %s", slice.Run, tt.want)
			}
			if n := src.openCount(); n != tt.opens {
				t.Fatalf("open attempts = %d, want %d", n, tt.opens)
			}
			if err := slice.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}

func TestResolveMissingVariableIsFatal(t *testing.T) {
	src := newFakeSource()
	src.publish(runAt(today, 18), 4, 28, 77, 2, []string{VarTemperature})
	src.publish(runAt(today, 12), 4, 28, 77, 2, ForecastVariables)

	_, err := NewRunResolver(src, ProductHourly, nil).Resolve(context.Background(), refTime, Request{Variables: ForecastVariables})
	if !errors.Is(err, ErrMissingVariable) {
		t.Fatalf("err = %v, want ErrMissingVariable", err)
	}
	if errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("schema error reported as unavailability: %v", err)
	}
	if n := src.openCount(); n != 1 {
		t.Fatalf("open attempts = %d, want 1", n)
	}
}

func TestResolveHourSelectsNearestStep(t *testing.T) {
	src := newFakeSource()
	ds := src.publish(runAt(today, 6), 12, 28, 77, 2, ForecastVariables)

	hour := 9
	slice, err := NewRunResolver(src, ProductHourly, nil).Resolve(context.Background(), refTime,
		Request{Variables: ForecastVariables, Hour: &hour})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ds.readIndex != 3 {
		t.Fatalf("time index = %d, want 3", ds.readIndex)
	}
	if len(slice.Times) != 1 || !slice.Times[0].Equal(today.Add(9*time.Hour)) {
		t.Fatalf("times = %v", slice.Times)
	}
}

func TestResolveCancelled(t *testing.T) {
	src := newFakeSource()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunResolver(src, ProductHourly, nil).Resolve(ctx, refTime, Request{Variables: ForecastVariables})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := src.openCount(); n != 0 {
		t.Fatalf("open attempts = %d, want 0", n)
	}
}

func TestLatest(t *testing.T) {
	src := newFakeSource()
	src.publish(runAt(today, 0), 4, 28, 77, 2, nil)
	r := NewRunResolver(src, ProductHourly, nil)

	run, err := r.Latest(context.Background(), refTime)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if run.String() != runAt(today, 0).String() {
		t.Fatalf("run = %s", run)
	}

	_, err = NewRunResolver(newFakeSource(), ProductThreeHourly, nil).Latest(context.Background(), refTime)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}
}

func TestResolveOutOfGridIsFatal(t *testing.T) {
	src := newFakeSource()
	src.publish(runAt(today, 18), 4, 28, 77, 2, ForecastVariables)
	src.publish(runAt(today, 12), 4, 28, 77, 2, ForecastVariables)

	bounds := EnclosingBounds(40.1, 77.1, 0.25)
	_, err := NewRunResolver(src, ProductHourly, nil).Resolve(context.Background(), refTime,
		Request{Variables: ForecastVariables, Bounds: &bounds})
	if !errors.Is(err, ErrOutOfGrid) {
		t.Fatalf("err = %v, want ErrOutOfGrid", err)
	}
	if errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("grid error reported as unavailability: %v", err)
	}
	if n := src.openCount(); n != 1 {
		t.Fatalf("open attempts = %d, want 1", n)
	}
}

func TestResolveWrapsMeridian(t *testing.T) {
	lat := []float64{51.25, 51.5, 51.75}
	tests := []struct {
		name    string
		lon     []float64
		wantLon []float64
		wrapLon float64 // node whose values fill the 360 column
		reads   int
		wantErr error
	}{
		{name: "global axis ending at 359.75", lon: []float64{0, 0.25, 359.5, 359.75}, wantLon: []float64{359.75, 360}, wrapLon: 0, reads: 2},
		{name: "axis carrying 360", lon: []float64{359.5, 359.75, 360}, wantLon: []float64{359.75, 360}, wrapLon: 360, reads: 1},
		{name: "regional axis without lon 0", lon: []float64{359.5, 359.75}, reads: 2, wantErr: ErrOutOfGrid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			ds := src.publishAxes(runAt(today, 18), 3, lat, tt.lon, ForecastVariables)

			bounds := EnclosingBounds(51.5074, NormalizeLon(-0.1278), 0.25)
			slice, err := NewRunResolver(src, ProductHourly, nil).Resolve(context.Background(), refTime,
				Request{Variables: ForecastVariables, Bounds: &bounds})
			if len(ds.reads) != tt.reads {
				t.Errorf("reads = %d, want %d", len(ds.reads), tt.reads)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if n := src.openCount(); n != 1 {
					t.Fatalf("open attempts = %d, want 1", n)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if len(slice.Lon) != len(tt.wantLon) {
				t.Fatalf("lon axis = %v, want %v", slice.Lon, tt.wantLon)
			}
			for j := range tt.wantLon {
				if math.Abs(slice.Lon[j]-tt.wantLon[j]) > 1e-9 {
					t.Fatalf("lon axis = %v, want %v", slice.Lon, tt.wantLon)
				}
			}
			if err := slice.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			for ti := range slice.Times {
				for i, la := range slice.Lat {
					want := fieldValue(VarTemperature, ti, la, tt.wrapLon)
					if got := slice.Vars[VarTemperature][ti][i][1]; got != want {
						t.Fatalf("t=%d lat=%v: wrapped value %v, want %v", ti, la, got, want)
					}
				}
			}
		})
	}
}

func TestResolveSkipsMalformedSlice(t *testing.T) {
	src := newFakeSource()
	src.publish(runAt(today, 18), 4, 28, 77, 2, ForecastVariables).corrupt = true
	src.publish(runAt(today, 12), 4, 28, 77, 2, ForecastVariables)

	slice, err := NewRunResolver(src, ProductHourly, nil).Resolve(context.Background(), refTime, Request{Variables: ForecastVariables})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if slice.Run.String() != runAt(today, 12).String() {
		t.Fatalf("run = %s, want the 12z run after the malformed 18z one", slice.Run)
	}
	if n := src.openCount(); n != 2 {
		t.Fatalf("open attempts = %d, want 2", n)
	}
}

func TestResolverLogsSource(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	src := newFakeSource()
	r := NewRunResolver(src, ProductHourly, zap.New(core))

	if _, err := r.Resolve(context.Background(), refTime, Request{Variables: ForecastVariables}); !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}
	if logs.Len() == 0 {
		t.Fatal("nothing logged")
	}
	if n := logs.FilterField(zap.String("source", "fake")).Len(); n != logs.Len() {
		t.Fatalf("%d of %d entries carry source=fake", n, logs.Len())
	}
}
