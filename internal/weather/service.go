package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service orchestrates run resolution, interpolation, normalization and
// merging for point forecasts, and tracks the freshest runs in a store.
type Service struct {
	store      Store
	fine       *RunResolver
	coarse     *RunResolver
	normalizer FieldNormalizer
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a Service reading the hourly and 3-hourly products from source.
func NewService(source GridSource, store Store, zone *time.Location, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		fine:       NewRunResolver(source, ProductHourly, logger),
		coarse:     NewRunResolver(source, ProductThreeHourly, logger),
		normalizer: FieldNormalizer{Zone: zone},
		logger:     logger,
		now:        time.Now,
	}
}

// Products returns the products served, fine first.
func (s *Service) Products() []Product {
	return []Product{s.fine.Product(), s.coarse.Product()}
}

// GetForecast returns the merged hourly/3-hourly forecast for (lat, lon).
// ErrDataUnavailable, ErrMissingVariable and ErrOutOfGrid are returned unchanged; retries
// happen only inside the run resolvers.
func (s *Service) GetForecast(ctx context.Context, lat, lon float64) (Series, error) {
	lon = NormalizeLon(lon)
	ref := s.now().UTC()

	s.logger.Debug("forecast requested", zap.Float64("lat", lat), zap.Float64("lon", lon), zap.Time("ref", ref))

	var fine, coarse Series
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fine, err = s.pointSeries(gctx, s.fine, ref, lat, lon)
		return err
	})
	g.Go(func() error {
		var err error
		coarse, err = s.pointSeries(gctx, s.coarse, ref, lat, lon)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := MergeSeries(fine, coarse)
	s.logger.Info("forecast merged",
		zap.Float64("lat", lat), zap.Float64("lon", lon),
		zap.Int("fine", len(fine)), zap.Int("coarse", len(coarse)), zap.Int("merged", len(merged)))
	return merged, nil
}

func (s *Service) pointSeries(ctx context.Context, r *RunResolver, ref time.Time, lat, lon float64) (Series, error) {
	product := r.Product()
	bounds := EnclosingBounds(lat, lon, product.Resolution)

	slice, err := r.Resolve(ctx, ref, Request{Variables: ForecastVariables, Bounds: &bounds})
	if err != nil {
		return nil, err
	}

	point, err := PointInterpolator{Resolution: product.Resolution}.Interpolate(slice, lat, lon)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", product.Name, err)
	}

	series, err := s.normalizer.Normalize(point)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", product.Name, err)
	}
	s.logger.Debug("product series ready", zap.String("product", product.Name),
		zap.Stringer("run", slice.Run), zap.Int("records", len(series)))
	return series, nil
}

// RefreshRuns resolves the freshest run of every product and saves the
// statuses. Products that cannot be resolved are logged and skipped.
func (s *Service) RefreshRuns(ctx context.Context) error {
	var errs []error
	for _, r := range []*RunResolver{s.fine, s.coarse} {
		run, err := r.Latest(ctx, s.now())
		if err != nil {
			s.logger.Warn("run refresh failed", zap.String("product", r.Product().Name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		status := RunStatus{Product: r.Product().Name, Run: run, CheckedAt: s.now().UTC()}
		if s.store != nil {
			s.store.SaveStatus(status)
		}
		s.logger.Info("latest run", zap.String("product", status.Product), zap.Stringer("run", run))
	}
	return errors.Join(errs...)
}

// GetLatestRun delegates to the underlying store.
func (s *Service) GetLatestRun(product string) (RunStatus, error) {
	return s.store.GetLatest(product)
}

// GetRunRange delegates to the underlying store.
func (s *Service) GetRunRange(product string, from, to time.Time) ([]RunStatus, error) {
	return s.store.GetRange(product, from, to)
}
