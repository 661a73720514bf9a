package weather

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDataUnavailable is returned when no candidate run of a product could be opened.
	ErrDataUnavailable = errors.New("forecast data unavailable")
	// ErrMissingVariable is returned when an opened run lacks a required variable.
	ErrMissingVariable = errors.New("required variable missing")
	// ErrOutOfGrid is returned when a query point is not covered by a grid slice.
	ErrOutOfGrid = errors.New("point outside grid")
)

// GridSource abstracts a remote gridded dataset (e.g. NOMADS OPeNDAP, NetCDF files).
type GridSource interface {
	Name() string
	// Probe checks whether the dataset directory for a reference date is reachable.
	Probe(ctx context.Context, product Product, date time.Time) error
	// Open opens one model run. Any error means the run is not servable.
	Open(ctx context.Context, run RunID) (Dataset, error)
}

// Dataset is one opened model run.
type Dataset interface {
	Run() RunID
	Times() []time.Time
	// Read extracts variables restricted to bounds (nil for the whole grid) and
	// to one time step (timeIndex < 0 for all). Unknown variables yield
	// ErrMissingVariable.
	Read(ctx context.Context, variables []string, bounds *Bounds, timeIndex int) (*GridSlice, error)
	Close() error
}

// Store is the contract the in-memory run status store must satisfy.
type Store interface {
	SaveStatus(status RunStatus)
	GetLatest(product string) (RunStatus, error)
	GetRange(product string, from, to time.Time) ([]RunStatus, error)
}
