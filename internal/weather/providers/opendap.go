package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/gfs-point-forecast/internal/weather"
)

// DefaultOpenDAPBaseURL is the NOMADS GrADS data server.
const DefaultOpenDAPBaseURL = "https://nomads.ncep.noaa.gov/dods"

// OpenDAPSource implements weather.GridSource for a GrADS-DODS server such as NOMADS.
// Datasets are addressed as {base}/{tag}/gfs{YYYYMMDD}/{tag}_{HH}z.
type OpenDAPSource struct {
	name    string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewOpenDAPSource(client *http.Client, baseURL string, logger *zap.Logger) *OpenDAPSource {
	if baseURL == "" {
		baseURL = DefaultOpenDAPBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenDAPSource{
		name:    "opendap",
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		circuit: newCircuitBreaker("opendap"),
		logger:  logger.With(zap.String("source", "opendap")),
	}
}

func (s *OpenDAPSource) Name() string {
	return s.name
}

// DateURL returns the directory URL of a product for one reference date.
func (s *OpenDAPSource) DateURL(product weather.Product, date time.Time) string {
	return fmt.Sprintf("%s/%s/gfs%s", s.baseURL, product.Tag, date.Format("20060102"))
}

// RunURL returns the dataset URL of one run.
func (s *OpenDAPSource) RunURL(run weather.RunID) string {
	return fmt.Sprintf("%s/%s_%02dz", s.DateURL(run.Product, run.Date), run.Product.Tag, run.Hour)
}

// Probe issues a HEAD request against the date directory.
func (s *OpenDAPSource) Probe(ctx context.Context, product weather.Product, date time.Time) error {
	u := s.DateURL(product, date)
	resp, err := doRequest(ctx, s.client, s.circuit, "probe", func() (*http.Request, error) {
		return http.NewRequest(http.MethodHead, u, nil)
	})
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// Open reads the DDS and the time/lat/lon axes of a run.
func (s *OpenDAPSource) Open(ctx context.Context, run weather.RunID) (weather.Dataset, error) {
	base := s.RunURL(run)

	body, err := s.get(ctx, base+".dds", "dds")
	if err != nil {
		return nil, err
	}
	vars, err := parseDDS(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", base, err)
	}
	for _, axis := range []string{"time", "lat", "lon"} {
		if _, ok := vars[axis]; !ok {
			return nil, fmt.Errorf("%s: dds has no %s axis", base, axis)
		}
	}

	body, err = s.get(ctx, base+".ascii?time,lat,lon", "axes")
	if err != nil {
		return nil, err
	}
	arrays, err := parseASCII(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", base, err)
	}
	timeAxis, okT := arrays["time"]
	latAxis, okLat := arrays["lat"]
	lonAxis, okLon := arrays["lon"]
	if !okT || !okLat || !okLon || len(timeAxis.Values) == 0 {
		return nil, fmt.Errorf("%s: incomplete axes response", base)
	}

	s.logger.Debug("opened run", zap.Stringer("run", run),
		zap.Int("times", len(timeAxis.Values)), zap.Int("lat", len(latAxis.Values)), zap.Int("lon", len(lonAxis.Values)))

	return &openDAPDataset{
		source: s,
		run:    run,
		url:    base,
		vars:   vars,
		times:  decodeRunTimes(run, timeAxis.Values),
		lat:    latAxis.Values,
		lon:    lonAxis.Values,
	}, nil
}

func (s *OpenDAPSource) get(ctx context.Context, u, kind string) ([]byte, error) {
	resp, err := doRequest(ctx, s.client, s.circuit, kind, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	// GrADS answers 200 with an error document for runs that are not published.
	if isGrADSError(body) {
		return nil, fmt.Errorf("%w: %s", ErrNotAvailable, u)
	}
	return body, nil
}

// decodeRunTimes anchors a GrADS "days since 1-1-1" axis on the run's
// initialization time. Only offsets from the first step are used, which
// sidesteps the mixed Julian/Gregorian epoch of the axis.
func decodeRunTimes(run weather.RunID, days []float64) []time.Time {
	start := run.Time()
	times := make([]time.Time, len(days))
	for i, d := range days {
		offset := time.Duration(math.Round((d - days[0]) * 24 * 60))
		times[i] = start.Add(offset * time.Minute)
	}
	return times
}

type openDAPDataset struct {
	source *OpenDAPSource
	run    weather.RunID
	url    string
	vars   map[string][]string
	times  []time.Time
	lat    []float64
	lon    []float64
}

func (d *openDAPDataset) Run() weather.RunID  { return d.run }
func (d *openDAPDataset) Times() []time.Time { return d.times }
func (d *openDAPDataset) Close() error       { return nil }

func (d *openDAPDataset) Read(ctx context.Context, variables []string, bounds *weather.Bounds, timeIndex int) (*weather.GridSlice, error) {
	for _, v := range variables {
		dims, ok := d.vars[v]
		if !ok {
			return nil, fmt.Errorf("%w: %s not in %s", weather.ErrMissingVariable, v, d.run)
		}
		if len(dims) != 3 {
			return nil, fmt.Errorf("%w: %s has %d dimensions, want time/lat/lon", weather.ErrMissingVariable, v, len(dims))
		}
	}

	t0, t1 := 0, len(d.times)-1
	if timeIndex >= 0 {
		if timeIndex >= len(d.times) {
			return nil, fmt.Errorf("time index %d out of range for %s", timeIndex, d.run)
		}
		t0, t1 = timeIndex, timeIndex
	}
	i0, i1, j0, j1, err := boundsToIndex(d.lat, d.lon, bounds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.run, err)
	}

	constraints := make([]string, len(variables))
	for k, v := range variables {
		constraints[k] = fmt.Sprintf("%s[%d:%d][%d:%d][%d:%d]", v, t0, t1, i0, i1, j0, j1)
	}
	body, err := d.source.get(ctx, d.url+".ascii?"+strings.Join(constraints, ","), "read")
	if err != nil {
		return nil, err
	}
	arrays, err := parseASCII(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.run, err)
	}

	slice := weather.NewGridSlice(d.run, d.times[t0:t1+1], d.lat[i0:i1+1], d.lon[j0:j1+1])
	nt, ni, nj := t1-t0+1, i1-i0+1, j1-j0+1
	for _, v := range variables {
		a, ok := lookupArray(arrays, v)
		if !ok {
			return nil, fmt.Errorf("%w: %s absent from response", weather.ErrMissingVariable, v)
		}
		if len(a.Values) != nt*ni*nj {
			return nil, fmt.Errorf("%s: %s has %d values, want %d", d.run, v, len(a.Values), nt*ni*nj)
		}
		field := slice.NewField()
		for t := 0; t < nt; t++ {
			for i := 0; i < ni; i++ {
				copy(field[t][i], a.Values[(t*ni+i)*nj:(t*ni+i+1)*nj])
			}
		}
		slice.Vars[v] = field
	}
	return slice, nil
}

// boundsToIndex maps a lat/lon box to inclusive index ranges on monotonic axes.
func boundsToIndex(lat, lon []float64, b *weather.Bounds) (int, int, int, int, error) {
	if b == nil {
		return 0, len(lat) - 1, 0, len(lon) - 1, nil
	}
	i0, i1, ok := axisRange(lat, b.LatMin, b.LatMax)
	if !ok {
		return 0, 0, 0, 0, fmt.Errorf("%w: latitude %v..%v", weather.ErrOutOfGrid, b.LatMin, b.LatMax)
	}
	j0, j1, ok := axisRange(lon, b.LonMin, b.LonMax)
	if !ok {
		return 0, 0, 0, 0, fmt.Errorf("%w: longitude %v..%v", weather.ErrOutOfGrid, b.LonMin, b.LonMax)
	}
	return i0, i1, j0, j1, nil
}

const boundsEpsilon = 1e-6

func axisRange(axis []float64, lo, hi float64) (int, int, bool) {
	first, last := -1, -1
	for i, v := range axis {
		if v >= lo-boundsEpsilon && v <= hi+boundsEpsilon {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return first, last, first >= 0
}
