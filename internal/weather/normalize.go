package weather

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// GFS variable names.
const (
	VarTemperature = "tmp2m"
	VarPrecipRate  = "pratesfc"
	VarHumidity    = "rh2m"
	VarRadiation   = "dswrfsfc"
	VarWindU       = "ugrd10m"
	VarWindV       = "vgrd10m"
)

// ForecastVariables is the fixed set requested from every product.
var ForecastVariables = []string{VarTemperature, VarPrecipRate, VarHumidity, VarRadiation, VarWindU, VarWindV}

// Public field names.
const (
	FieldTemp      = "temp"
	FieldPrec      = "prec"
	FieldRH        = "rh"
	FieldRad       = "rad"
	FieldWindSpeed = "wind_speed"
	FieldWindDir   = "wind_dir"
)

// FieldMapping renames a source variable to its public field.
type FieldMapping struct {
	Source string
	Public string
}

// FieldMappings is the rename table applied after unit conversion.
var FieldMappings = []FieldMapping{
	{Source: VarTemperature, Public: FieldTemp},
	{Source: VarPrecipRate, Public: FieldPrec},
	{Source: VarHumidity, Public: FieldRH},
	{Source: VarRadiation, Public: FieldRad},
}

var fieldSetters = map[string]func(*ForecastPoint, float64){
	FieldTemp:      func(p *ForecastPoint, v float64) { p.Temp = v },
	FieldPrec:      func(p *ForecastPoint, v float64) { p.Prec = v },
	FieldRH:        func(p *ForecastPoint, v float64) { p.RH = v },
	FieldRad:       func(p *ForecastPoint, v float64) { p.Rad = v },
	FieldWindSpeed: func(p *ForecastPoint, v float64) { p.WindSpeed = v },
	FieldWindDir:   func(p *ForecastPoint, v float64) { p.WindDir = v },
}

const kelvinOffset = 273.15

// KelvinToCelsius converts a temperature from K to °C.
func KelvinToCelsius(k float64) float64 { return k - kelvinOffset }

// CelsiusToKelvin converts a temperature from °C to K.
func CelsiusToKelvin(c float64) float64 { return c + kelvinOffset }

// WindSpeed returns the magnitude of the (u, v) wind vector.
func WindSpeed(u, v float64) float64 {
	return math.Sqrt(u*u + v*v)
}

// WindDirection returns the direction the wind blows from, in [0, 360).
func WindDirection(u, v float64) float64 {
	dir := math.Atan2(u, v)*(180/math.Pi) + 180
	if dir >= 360 {
		dir -= 360
	}
	return dir
}

// OutputZone returns a fixed zone for a UTC offset such as 5h30m.
func OutputZone(offset time.Duration) *time.Location {
	sign := '+'
	abs := offset
	if offset < 0 {
		sign = '-'
		abs = -offset
	}
	name := fmt.Sprintf("UTC%c%02d:%02d", sign, int(abs/time.Hour), int(abs%time.Hour/time.Minute))
	return time.FixedZone(name, int(offset/time.Second))
}

// FieldNormalizer turns a point slice into output records.
type FieldNormalizer struct {
	Zone *time.Location
}

// Normalize derives wind speed and direction, converts temperature to °C,
// renames fields, expresses times in the output zone and flattens the slice
// by (lat, lon, time). The first row is the analysis anchor and is dropped.
func (n FieldNormalizer) Normalize(slice *GridSlice) (Series, error) {
	if missing := slice.Missing(ForecastVariables...); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingVariable, strings.Join(missing, ", "))
	}

	fields := make(map[string][][][]float64, len(fieldSetters))

	u, v := slice.Vars[VarWindU], slice.Vars[VarWindV]
	speed, dir := slice.NewField(), slice.NewField()
	for t := range slice.Times {
		for i := range slice.Lat {
			for j := range slice.Lon {
				speed[t][i][j] = WindSpeed(u[t][i][j], v[t][i][j])
				dir[t][i][j] = WindDirection(u[t][i][j], v[t][i][j])
			}
		}
	}
	fields[FieldWindSpeed] = speed
	fields[FieldWindDir] = dir

	celsius := slice.NewField()
	for t, plane := range slice.Vars[VarTemperature] {
		for i, row := range plane {
			for j, k := range row {
				celsius[t][i][j] = KelvinToCelsius(k)
			}
		}
	}

	for _, m := range FieldMappings {
		if m.Source == VarTemperature {
			fields[m.Public] = celsius
			continue
		}
		fields[m.Public] = slice.Vars[m.Source]
	}

	zone := n.Zone
	if zone == nil {
		zone = time.UTC
	}

	rows := make(Series, 0, len(slice.Lat)*len(slice.Lon)*len(slice.Times))
	for i, lat := range slice.Lat {
		for j, lon := range slice.Lon {
			for t, ts := range slice.Times {
				p := ForecastPoint{Lat: lat, Lon: lon, Time: ts.In(zone)}
				for name, set := range fieldSetters {
					set(&p, fields[name][t][i][j])
				}
				rows = append(rows, p)
			}
		}
	}

	if len(rows) == 0 {
		return rows, nil
	}
	return rows[1:], nil
}
