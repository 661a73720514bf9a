package providers

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"go.uber.org/zap"

	"github.com/i474232898/gfs-point-forecast/internal/weather"
)

// NetCDFSource implements weather.GridSource over a directory of NetCDF files
// mirroring the server layout: {dir}/{tag}/gfs{YYYYMMDD}/{tag}_{HH}z.nc.
// Files hold CF-style time/lat/lon axes and [time][lat][lon] variables.
type NetCDFSource struct {
	dir    string
	logger *zap.Logger
}

func NewNetCDFSource(dir string, logger *zap.Logger) *NetCDFSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NetCDFSource{dir: dir, logger: logger.With(zap.String("source", "netcdf"))}
}

func (s *NetCDFSource) Name() string {
	return "netcdf"
}

// DatePath returns the directory of a product for one reference date.
func (s *NetCDFSource) DatePath(product weather.Product, date time.Time) string {
	return filepath.Join(s.dir, product.Tag, "gfs"+date.Format("20060102"))
}

// RunPath returns the file of one run.
func (s *NetCDFSource) RunPath(run weather.RunID) string {
	return filepath.Join(s.DatePath(run.Product, run.Date), fmt.Sprintf("%s_%02dz.nc", run.Product.Tag, run.Hour))
}

func (s *NetCDFSource) Probe(_ context.Context, product weather.Product, date time.Time) error {
	info, err := os.Stat(s.DatePath(product, date))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNotAvailable, info.Name())
	}
	return nil
}

func (s *NetCDFSource) Open(_ context.Context, run weather.RunID) (weather.Dataset, error) {
	path := s.RunPath(run)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}

	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	ds, err := newNetCDFDataset(nc, run)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.logger.Debug("opened run", zap.Stringer("run", run), zap.String("path", path))
	return ds, nil
}

type netCDFDataset struct {
	nc    api.Group
	run   weather.RunID
	names []string
	times []time.Time
	lat   []float64
	lon   []float64
}

func newNetCDFDataset(nc api.Group, run weather.RunID) (*netCDFDataset, error) {
	lat, err := axisValues(nc, "lat", "latitude")
	if err != nil {
		return nil, err
	}
	lon, err := axisValues(nc, "lon", "longitude")
	if err != nil {
		return nil, err
	}

	tv, err := nc.GetVariable("time")
	if err != nil {
		return nil, fmt.Errorf("time axis: %w", err)
	}
	raw, err := toFloat64s(tv.Values)
	if err != nil {
		return nil, fmt.Errorf("time axis: %w", err)
	}
	units, _ := tv.Attributes.Get("units")
	unitStr, _ := units.(string)
	times, err := decodeCFTimes(unitStr, raw)
	if err != nil {
		return nil, err
	}

	return &netCDFDataset{
		nc:    nc,
		run:   run,
		names: nc.ListVariables(),
		times: times,
		lat:   lat,
		lon:   lon,
	}, nil
}

func (d *netCDFDataset) Run() weather.RunID  { return d.run }
func (d *netCDFDataset) Times() []time.Time { return d.times }

func (d *netCDFDataset) Close() error {
	d.nc.Close()
	return nil
}

func (d *netCDFDataset) Read(_ context.Context, variables []string, bounds *weather.Bounds, timeIndex int) (*weather.GridSlice, error) {
	for _, v := range variables {
		if !slices.Contains(d.names, v) {
			return nil, fmt.Errorf("%w: %s not in %s", weather.ErrMissingVariable, v, d.run)
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

	slice := weather.NewGridSlice(d.run,
		slices.Clone(d.times[t0:t1+1]), slices.Clone(d.lat[i0:i1+1]), slices.Clone(d.lon[j0:j1+1]))
	for _, v := range variables {
		vg, err := d.nc.GetVarGetter(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v, err)
		}
		raw, err := vg.GetSlice(int64(t0), int64(t1+1))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v, err)
		}
		cube, err := toFloat64Cube(raw, packing(vg.Attributes()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v, err)
		}
		if err := d.checkShape(cube, t1-t0+1); err != nil {
			return nil, fmt.Errorf("%s: %w", v, err)
		}
		field := slice.NewField()
		for t := range field {
			for i := range field[t] {
				copy(field[t][i], cube[t][i0+i][j0:j1+1])
			}
		}
		slice.Vars[v] = field
	}
	slice.SortAxes()
	return slice, nil
}

// checkShape reports a variable that does not lie on the file's time/lat/lon grid.
func (d *netCDFDataset) checkShape(cube [][][]float64, steps int) error {
	if len(cube) != steps {
		return fmt.Errorf("%d time steps read, want %d", len(cube), steps)
	}
	for t := range cube {
		if len(cube[t]) != len(d.lat) {
			return fmt.Errorf("%d latitudes, grid has %d", len(cube[t]), len(d.lat))
		}
		for i := range cube[t] {
			if len(cube[t][i]) != len(d.lon) {
				return fmt.Errorf("%d longitudes, grid has %d", len(cube[t][i]), len(d.lon))
			}
		}
	}
	return nil
}

func axisValues(nc api.Group, names ...string) ([]float64, error) {
	for _, name := range names {
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			continue
		}
		raw, err := vg.Values()
		if err != nil {
			return nil, fmt.Errorf("%s axis: %w", name, err)
		}
		values, err := toFloat64s(raw)
		if err != nil {
			return nil, fmt.Errorf("%s axis: %w", name, err)
		}
		// float32 axes carry representation noise; grid nodes are compared exactly.
		for i, v := range values {
			values[i] = math.Round(v*1e6) / 1e6
		}
		return values, nil
	}
	return nil, fmt.Errorf("no axis named %s", strings.Join(names, " or "))
}

func toFloat64s(raw interface{}) ([]float64, error) {
	switch v := raw.(type) {
	case []float64:
		return slices.Clone(v), nil
	case []float32:
		return convert(v), nil
	case []int32:
		return convert(v), nil
	case []int64:
		return convert(v), nil
	case []int16:
		return convert(v), nil
	default:
		return nil, fmt.Errorf("unsupported axis type %T", raw)
	}
}

// scaleOffset unpacks CF packed integers: value = raw*scale + offset.
type scaleOffset struct {
	scale, offset float64
}

func packing(attrs api.AttributeMap) scaleOffset {
	p := scaleOffset{scale: 1}
	if attrs == nil {
		return p
	}
	if v, ok := attrs.Get("scale_factor"); ok {
		if f, ok := attrFloat(v); ok {
			p.scale = f
		}
	}
	if v, ok := attrs.Get("add_offset"); ok {
		if f, ok := attrFloat(v); ok {
			p.offset = f
		}
	}
	return p
}

func attrFloat(v interface{}) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case []float64:
		if len(f) == 1 {
			return f[0], true
		}
	case []float32:
		if len(f) == 1 {
			return float64(f[0]), true
		}
	}
	return 0, false
}

func toFloat64Cube(raw interface{}, p scaleOffset) ([][][]float64, error) {
	switch v := raw.(type) {
	case [][][]float64:
		return unpackCube(v, p), nil
	case [][][]float32:
		return unpackCube(v, p), nil
	case [][][]int16:
		return unpackCube(v, p), nil
	default:
		return nil, fmt.Errorf("unsupported variable type %T, want [time][lat][lon] numbers", raw)
	}
}

func unpackCube[T float32 | float64 | int16](cube [][][]T, p scaleOffset) [][][]float64 {
	out := make([][][]float64, len(cube))
	for t := range cube {
		out[t] = make([][]float64, len(cube[t]))
		for i := range cube[t] {
			row := make([]float64, len(cube[t][i]))
			for j, v := range cube[t][i] {
				row[j] = float64(v)*p.scale + p.offset
			}
			out[t][i] = row
		}
	}
	return out
}

func convert[T float32 | int16 | int32 | int64](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

var cfUnits = map[string]time.Duration{
	"seconds": time.Second,
	"minutes": time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
}

// decodeCFTimes decodes a CF "<unit> since <epoch>" time axis.
func decodeCFTimes(units string, values []float64) ([]time.Time, error) {
	unitName, epochStr, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return nil, fmt.Errorf("time axis units %q: want \"<unit> since <epoch>\"", units)
	}
	unit, ok := cfUnits[strings.ToLower(strings.TrimSpace(unitName))]
	if !ok {
		return nil, fmt.Errorf("time axis units %q: unknown unit %q", units, unitName)
	}
	epoch, err := parseCFEpoch(epochStr)
	if err != nil {
		return nil, fmt.Errorf("time axis units %q: %w", units, err)
	}

	times := make([]time.Time, len(values))
	for i, v := range values {
		secs := v * unit.Seconds()
		days := math.Floor(secs / 86400)
		rem := secs - days*86400
		times[i] = epoch.AddDate(0, 0, int(days)).Add(time.Duration(math.Round(rem)) * time.Second)
	}
	return times, nil
}

func parseCFEpoch(s string) (time.Time, error) {
	fields := strings.Fields(strings.TrimSuffix(strings.TrimSpace(s), "Z"))
	if len(fields) == 0 {
		return time.Time{}, fmt.Errorf("empty epoch")
	}
	date, clock, _ := strings.Cut(fields[0], "T")
	if clock == "" && len(fields) > 1 {
		clock = fields[1]
	}
	if clock == "" {
		clock = "0:0:0"
	}
	clock, _, _ = strings.Cut(clock, ".")
	if strings.Count(clock, ":") == 1 {
		clock += ":0"
	}
	return time.Parse("2006-1-2 15:4:5", date+" "+clock)
}
