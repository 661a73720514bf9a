package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/gfs-point-forecast/internal/api/http"
	"github.com/i474232898/gfs-point-forecast/internal/config"
	"github.com/i474232898/gfs-point-forecast/internal/geocode"
	"github.com/i474232898/gfs-point-forecast/internal/logging"
	"github.com/i474232898/gfs-point-forecast/internal/scheduler"
	"github.com/i474232898/gfs-point-forecast/internal/store"
	"github.com/i474232898/gfs-point-forecast/internal/weather"
	"github.com/i474232898/gfs-point-forecast/internal/weather/providers"
)

var cli struct {
	Serve ServeCmd `cmd:"" default:"1" help:"Run the HTTP forecast service."`
	Point PointCmd `cmd:"" help:"Print the merged forecast for one location."`
}

// runtime carries the shared dependencies into commands.
type runtime struct {
	cfg    *config.AppConfig
	logger *zap.Logger
}

type ServeCmd struct{}

func (c *ServeCmd) Run(rt *runtime) error {
	cfg, logger := rt.cfg, rt.logger

	// In-memory run status store with configured retention.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	service, err := buildService(cfg, memStore, logger)
	if err != nil {
		return err
	}

	// Watcher that keeps the latest run per product fresh.
	watcher := scheduler.New(cfg.WatchInterval, service, logger)
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("start run watcher: %w", err)
	}
	defer watcher.Stop()

	app := httpapi.NewApp(service, geocode.New(cfg.GeocoderAPIKey, logger), logger)

	// Start server with graceful shutdown
	go func() {
		logger.Info("listening", zap.String("port", cfg.Port), zap.String("source", cfg.Source))
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("fiber server stopped", zap.Error(err))
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("error during shutdown", zap.Error(err))
	}
	return nil
}

type PointCmd struct {
	Lat     float64       `required:"" help:"Latitude in degrees."`
	Lon     float64       `required:"" help:"Longitude in degrees, -180..180 or 0..360."`
	GeoJSON bool          `name:"geojson" help:"Print a GeoJSON FeatureCollection instead of records."`
	Timeout time.Duration `default:"5m" help:"Overall deadline for the lookup."`
}

func (c *PointCmd) Run(rt *runtime) error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", c.Lat)
	}

	service, err := buildService(rt.cfg, nil, rt.logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	series, err := service.GetForecast(ctx, c.Lat, c.Lon)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if c.GeoJSON {
		return enc.Encode(series.FeatureCollection())
	}
	return enc.Encode(series)
}

func buildService(cfg *config.AppConfig, st weather.Store, logger *zap.Logger) (*weather.Service, error) {
	var source weather.GridSource
	switch cfg.Source {
	case config.SourceNetCDF:
		source = providers.NewNetCDFSource(cfg.NetCDFDir, logger)
	case config.SourceOpenDAP:
		// Shared HTTP client for outbound grid requests.
		source = providers.NewOpenDAPSource(&http.Client{Timeout: cfg.HTTPTimeout}, cfg.BaseURL, logger)
	default:
		return nil, fmt.Errorf("unknown grid source %q", cfg.Source)
	}
	return weather.NewService(source, st, weather.OutputZone(cfg.OutputOffset), logger), nil
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("gfs-forecast"),
		kong.Description("GFS point forecasts merged from the hourly and 3-hourly products."),
		kong.UsageOnError(),
	)

	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	kctx.FatalIfErrorf(kctx.Run(&runtime{cfg: cfg, logger: logger}))
}
