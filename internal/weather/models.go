package weather

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// TimeLayout is the wall-clock format used for forecast timestamps in responses.
const TimeLayout = "2006-01-02 15:04"

// Product describes one GFS dataset family published on the NOMADS server.
type Product struct {
	Name       string        `json:"name"`
	Tag        string        `json:"tag"`        // e.g. gfs_0p25_1hr
	Resolution float64       `json:"resolution"` // grid spacing in degrees
	Cadence    time.Duration `json:"-"`
}

var (
	// ProductHourly has a short horizon at one-hour steps.
	ProductHourly = Product{Name: "hourly", Tag: "gfs_0p25_1hr", Resolution: 0.25, Cadence: time.Hour}
	// ProductThreeHourly extends the horizon at three-hour steps.
	ProductThreeHourly = Product{Name: "3hourly", Tag: "gfs_0p25", Resolution: 0.25, Cadence: 3 * time.Hour}
)

// RunHours lists model cycles from the freshest to the oldest of a day.
var RunHours = []int{18, 12, 6, 0}

// RunID identifies one published model cycle.
type RunID struct {
	Date    time.Time `json:"date"` // UTC midnight of the reference date
	Hour    int       `json:"hour"`
	Product Product   `json:"product"`
}

// DateString returns the reference date in the YYYYMMDD form used by dataset paths.
func (r RunID) DateString() string {
	return r.Date.Format("20060102")
}

// Time returns the initialization time of the run.
func (r RunID) Time() time.Time {
	return r.Date.Add(time.Duration(r.Hour) * time.Hour)
}

// After reports whether r is a fresher run than o.
func (r RunID) After(o RunID) bool {
	return r.Time().After(o.Time())
}

func (r RunID) String() string {
	return fmt.Sprintf("%s/%s/%02dz", r.Product.Tag, r.DateString(), r.Hour)
}

// Bounds is an inclusive lat/lon box in degrees.
type Bounds struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// Request describes what to extract from a model run.
// A nil Bounds means the whole grid; a nil Hour means every time step.
type Request struct {
	Variables []string
	Bounds    *Bounds
	Hour      *int
}

// GridSlice holds gridded values indexed by variable, time, latitude and longitude.
// All variables share the Times, Lat and Lon axes, which are ascending.
type GridSlice struct {
	Run   RunID
	Times []time.Time
	Lat   []float64
	Lon   []float64
	Vars  map[string][][][]float64 // [time][lat][lon]
}

// NewGridSlice allocates an empty slice with the given axes.
func NewGridSlice(run RunID, times []time.Time, lat, lon []float64) *GridSlice {
	return &GridSlice{
		Run:   run,
		Times: times,
		Lat:   lat,
		Lon:   lon,
		Vars:  make(map[string][][][]float64),
	}
}

// NewField allocates a zeroed [time][lat][lon] array matching the slice axes.
func (g *GridSlice) NewField() [][][]float64 {
	field := make([][][]float64, len(g.Times))
	for t := range field {
		field[t] = make([][]float64, len(g.Lat))
		for i := range field[t] {
			field[t][i] = make([]float64, len(g.Lon))
		}
	}
	return field
}

// Missing returns the names not present in the slice, in the order given.
func (g *GridSlice) Missing(names ...string) []string {
	var missing []string
	for _, name := range names {
		if _, ok := g.Vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Validate checks that every variable matches the slice axes.
func (g *GridSlice) Validate() error {
	for name, field := range g.Vars {
		if len(field) != len(g.Times) {
			return fmt.Errorf("variable %s: %d time steps, axis has %d", name, len(field), len(g.Times))
		}
		for t := range field {
			if len(field[t]) != len(g.Lat) {
				return fmt.Errorf("variable %s: %d latitudes, axis has %d", name, len(field[t]), len(g.Lat))
			}
			for i := range field[t] {
				if len(field[t][i]) != len(g.Lon) {
					return fmt.Errorf("variable %s: %d longitudes, axis has %d", name, len(field[t][i]), len(g.Lon))
				}
			}
		}
	}
	return nil
}

// SortAxes reverses descending lat or lon axes (and the data along them) so
// both are ascending.
func (g *GridSlice) SortAxes() {
	if len(g.Lat) > 1 && g.Lat[0] > g.Lat[len(g.Lat)-1] {
		reverse(g.Lat)
		for _, field := range g.Vars {
			for t := range field {
				reverse(field[t])
			}
		}
	}
	if len(g.Lon) > 1 && g.Lon[0] > g.Lon[len(g.Lon)-1] {
		reverse(g.Lon)
		for _, field := range g.Vars {
			for t := range field {
				for i := range field[t] {
					reverse(field[t][i])
				}
			}
		}
	}
}

func (g *GridSlice) reachesLon(lon float64) bool {
	return len(g.Lon) > 0 && g.Lon[len(g.Lon)-1] >= lon-axisEpsilon
}

// appendWrapped joins the columns of west, read at the start of the
// longitude axis, onto the east edge of g as lon+360.
func (g *GridSlice) appendWrapped(west *GridSlice) error {
	if err := errors.Join(g.Validate(), west.Validate()); err != nil {
		return err
	}
	if len(west.Times) != len(g.Times) || len(west.Lat) != len(g.Lat) {
		return fmt.Errorf("wrapped columns have %dx%d time/lat steps, want %dx%d",
			len(west.Times), len(west.Lat), len(g.Times), len(g.Lat))
	}
	for i := range g.Lat {
		if math.Abs(west.Lat[i]-g.Lat[i]) > axisEpsilon {
			return fmt.Errorf("wrapped columns on latitude %v, want %v", west.Lat[i], g.Lat[i])
		}
	}

	lon := make([]float64, 0, len(g.Lon)+len(west.Lon))
	lon = append(lon, g.Lon...)
	for _, v := range west.Lon {
		lon = append(lon, v+360)
	}

	for name, field := range g.Vars {
		wf, ok := west.Vars[name]
		if !ok {
			return fmt.Errorf("%w: %s absent from wrapped columns", ErrMissingVariable, name)
		}
		for t := range field {
			for i := range field[t] {
				row := make([]float64, 0, len(lon))
				row = append(row, field[t][i]...)
				field[t][i] = append(row, wf[t][i]...)
			}
		}
	}
	g.Lon = lon
	return nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// NearestTimeIndex returns the index of the time step closest to target, or -1
// for an empty axis.
func NearestTimeIndex(times []time.Time, target time.Time) int {
	best := -1
	var bestDiff time.Duration
	for i, ts := range times {
		diff := ts.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if best < 0 || diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}
	return best
}

// ForecastPoint is a single output record.
type ForecastPoint struct {
	Lat       float64
	Lon       float64
	Time      time.Time // expressed in the output zone
	Temp      float64   // °C
	Prec      float64   // precipitation rate, kg/m²/s
	RH        float64   // %
	Rad       float64   // downward shortwave flux, W/m²
	WindSpeed float64   // m/s
	WindDir   float64   // degrees in [0, 360)
}

type forecastPointJSON struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Time      string  `json:"time"`
	Temp      float64 `json:"temp"`
	Prec      float64 `json:"prec"`
	RH        float64 `json:"rh"`
	Rad       float64 `json:"rad"`
	WindSpeed float64 `json:"wind_speed"`
	WindDir   float64 `json:"wind_dir"`
}

// MarshalJSON writes the canonical column order with a local wall-clock time.
func (p ForecastPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(forecastPointJSON{
		Lat:       p.Lat,
		Lon:       p.Lon,
		Time:      p.Time.Format(TimeLayout),
		Temp:      p.Temp,
		Prec:      p.Prec,
		RH:        p.RH,
		Rad:       p.Rad,
		WindSpeed: p.WindSpeed,
		WindDir:   p.WindDir,
	})
}

// Series is a time-ordered forecast for one location.
type Series []ForecastPoint

// Latest returns the greatest timestamp in the series.
func (s Series) Latest() (time.Time, bool) {
	var latest time.Time
	for i, p := range s {
		if i == 0 || p.Time.After(latest) {
			latest = p.Time
		}
	}
	return latest, len(s) > 0
}

// SortByTime orders the series by timestamp, keeping the relative order of equal instants.
func (s Series) SortByTime() {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Time.Before(s[j].Time)
	})
}

// Location represents a named place resolved to coordinates by a geocoder.
type Location struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// Key returns a canonical string key for this location.
func (l Location) Key() string {
	return l.City + ":" + l.Country
}

// RunStatus records the freshest servable run seen for a product.
type RunStatus struct {
	Product   string    `json:"product"`
	Run       RunID     `json:"run"`
	CheckedAt time.Time `json:"checkedAt"` // always UTC
}
