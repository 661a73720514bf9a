package weather

import (
	geojson "github.com/paulmach/go.geojson"
)

// FeatureCollection renders the series as GeoJSON points carrying the output
// columns as properties.
func (s Series) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range s {
		f := geojson.NewPointFeature([]float64{p.Lon, p.Lat})
		f.SetProperty("time", p.Time.Format(TimeLayout))
		f.SetProperty(FieldTemp, p.Temp)
		f.SetProperty(FieldPrec, p.Prec)
		f.SetProperty(FieldRH, p.RH)
		f.SetProperty(FieldRad, p.Rad)
		f.SetProperty(FieldWindSpeed, p.WindSpeed)
		f.SetProperty(FieldWindDir, p.WindDir)
		fc.AddFeature(f)
	}
	return fc
}
