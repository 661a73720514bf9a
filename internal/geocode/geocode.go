// Package geocode resolves city/country pairs to coordinates.
package geocode

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"
	"go.uber.org/zap"

	"github.com/i474232898/gfs-point-forecast/internal/weather"
)

// ErrDisabled is returned when no geocoding API key is configured.
var ErrDisabled = errors.New("geocoding disabled: no API key configured")

// Coordinates is a resolved position in degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LookupFunc resolves one address.
type LookupFunc func(geocoder.Address) (geocoder.Location, error)

// Geocoder resolves locations through the Google geocoding API and caches
// the answers for the life of the process.
type Geocoder struct {
	lookup LookupFunc
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]Coordinates
}

// New returns a Geocoder using apiKey. An empty key yields a Geocoder that
// always fails with ErrDisabled.
func New(apiKey string, logger *zap.Logger) *Geocoder {
	var lookup LookupFunc
	if apiKey != "" {
		geocoder.ApiKey = apiKey
		lookup = geocoder.Geocoding
	}
	return NewWithLookup(lookup, logger)
}

// NewWithLookup returns a Geocoder backed by an arbitrary lookup function.
func NewWithLookup(lookup LookupFunc, logger *zap.Logger) *Geocoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Geocoder{
		lookup: lookup,
		logger: logger.With(zap.String("component", "geocoder")),
		cache:  make(map[string]Coordinates),
	}
}

// Enabled reports whether lookups can be made.
func (g *Geocoder) Enabled() bool {
	return g != nil && g.lookup != nil
}

// Locate returns the coordinates of loc.
func (g *Geocoder) Locate(loc weather.Location) (Coordinates, error) {
	if !g.Enabled() {
		return Coordinates{}, ErrDisabled
	}

	key := loc.Key()
	g.mu.RLock()
	c, ok := g.cache[key]
	g.mu.RUnlock()
	if ok {
		return c, nil
	}

	res, err := g.lookup(geocoder.Address{City: loc.City, Country: loc.Country})
	if err != nil {
		return Coordinates{}, fmt.Errorf("geocode %s: %w", key, err)
	}
	c = Coordinates{Lat: res.Latitude, Lon: res.Longitude}

	g.mu.Lock()
	g.cache[key] = c
	g.mu.Unlock()

	g.logger.Debug("geocoded location", zap.String("location", key),
		zap.Float64("lat", c.Lat), zap.Float64("lon", c.Lon))
	return c, nil
}
