package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/gfs-point-forecast/internal/metrics"
)

// RunResolver finds the freshest servable run of one product.
//
// The search space is an explicit, finite candidate list: the reference date
// is probed once, and if it is unreachable the search starts a day earlier.
// Runs are tried 18z, 12z, 6z, 0z; when the reference date was reachable the
// previous day's runs follow, since a date directory appears before its runs
// are complete. At most 8 runs are opened per resolve.
type RunResolver struct {
	source  GridSource
	product Product
	logger  *zap.Logger
}

// NewRunResolver creates a resolver for product over source.
func NewRunResolver(source GridSource, product Product, logger *zap.Logger) *RunResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunResolver{
		source:  source,
		product: product,
		logger:  logger.With(zap.String("product", product.Name), zap.String("source", source.Name())),
	}
}

// Product returns the product this resolver searches.
func (r *RunResolver) Product() Product {
	return r.product
}

// Candidates returns the ordered runs to try for reference time ref.
func (r *RunResolver) Candidates(ctx context.Context, ref time.Time) []RunID {
	date := truncateDay(ref)
	dates := []time.Time{date, date.AddDate(0, 0, -1)}

	if err := r.source.Probe(ctx, r.product, date); err != nil {
		r.logger.Info("reference date not reachable, stepping back one day",
			zap.String("date", date.Format("2006-01-02")), zap.Error(err))
		dates = dates[1:]
	}

	runs := make([]RunID, 0, len(dates)*len(RunHours))
	for _, d := range dates {
		for _, h := range RunHours {
			runs = append(runs, RunID{Date: d, Hour: h, Product: r.product})
		}
	}
	return runs
}

// Resolve returns the requested variables from the freshest run that opens
// and reads successfully.
func (r *RunResolver) Resolve(ctx context.Context, ref time.Time, req Request) (*GridSlice, error) {
	candidates := r.Candidates(ctx, ref)

	for i, run := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		slice, err := r.read(ctx, run, req)
		if err == nil {
			metrics.RunOpenAttempts.WithLabelValues(r.product.Name, "ok").Inc()
			metrics.RunResolutions.WithLabelValues(r.product.Name, resolutionOutcome(i)).Inc()
			r.logger.Debug("resolved run", zap.Stringer("run", run), zap.Int("attempt", i+1))
			return slice, nil
		}

		// Schema and grid errors repeat on every run of a product.
		if outcome, fatal := fatalOutcome(err); fatal {
			metrics.RunResolutions.WithLabelValues(r.product.Name, outcome).Inc()
			return nil, fmt.Errorf("run %s: %w", run, err)
		}

		metrics.RunOpenAttempts.WithLabelValues(r.product.Name, "failed").Inc()
		r.logger.Debug("run not servable", zap.Stringer("run", run), zap.Error(err))
	}

	metrics.RunResolutions.WithLabelValues(r.product.Name, "unavailable").Inc()
	return nil, fmt.Errorf("%w: %s, %d candidate runs failed", ErrDataUnavailable, r.product.Tag, len(candidates))
}

// Latest returns the freshest run that opens, without reading any variable.
func (r *RunResolver) Latest(ctx context.Context, ref time.Time) (RunID, error) {
	candidates := r.Candidates(ctx, ref)

	for _, run := range candidates {
		if err := ctx.Err(); err != nil {
			return RunID{}, err
		}
		ds, err := r.source.Open(ctx, run)
		if err != nil {
			metrics.RunOpenAttempts.WithLabelValues(r.product.Name, "failed").Inc()
			r.logger.Debug("run not servable", zap.Stringer("run", run), zap.Error(err))
			continue
		}
		metrics.RunOpenAttempts.WithLabelValues(r.product.Name, "ok").Inc()
		ds.Close()
		return run, nil
	}

	return RunID{}, fmt.Errorf("%w: %s, %d candidate runs failed", ErrDataUnavailable, r.product.Tag, len(candidates))
}

func (r *RunResolver) read(ctx context.Context, run RunID, req Request) (*GridSlice, error) {
	ds, err := r.source.Open(ctx, run)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	timeIndex := -1
	if req.Hour != nil {
		target := run.Date.Add(time.Duration(*req.Hour) * time.Hour)
		timeIndex = NearestTimeIndex(ds.Times(), target)
		if timeIndex < 0 {
			return nil, fmt.Errorf("run %s has an empty time axis", run)
		}
	}

	slice, err := ds.Read(ctx, req.Variables, req.Bounds, timeIndex)
	if err != nil {
		return nil, err
	}

	// A cell east of the last meridian node closes on the lon=0 column.
	if b := req.Bounds; b != nil && b.LonMax > 360-axisEpsilon && !slice.reachesLon(b.LonMax) {
		west := Bounds{LatMin: b.LatMin, LatMax: b.LatMax, LonMin: 0, LonMax: b.LonMax - 360}
		ws, err := ds.Read(ctx, req.Variables, &west, timeIndex)
		if err != nil {
			return nil, fmt.Errorf("columns past the meridian: %w", err)
		}
		if err := slice.appendWrapped(ws); err != nil {
			return nil, fmt.Errorf("run %s: %w", run, err)
		}
	}

	slice.Run = run
	if err := slice.Validate(); err != nil {
		return nil, fmt.Errorf("run %s: %w", run, err)
	}
	return slice, nil
}

func fatalOutcome(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrMissingVariable):
		return "schema", true
	case errors.Is(err, ErrOutOfGrid):
		return "out_of_grid", true
	}
	return "", false
}

func resolutionOutcome(attempt int) string {
	if attempt == 0 {
		return "fresh"
	}
	return "fallback"
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
