package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/gfs-point-forecast/internal/geocode"
	"github.com/i474232898/gfs-point-forecast/internal/metrics"
	"github.com/i474232898/gfs-point-forecast/internal/store"
	"github.com/i474232898/gfs-point-forecast/internal/weather"
)

var validate = validator.New()

// ForecastService is the part of weather.Service the handlers use.
type ForecastService interface {
	GetForecast(ctx context.Context, lat, lon float64) (weather.Series, error)
	Products() []weather.Product
	GetLatestRun(product string) (weather.RunStatus, error)
	GetRunRange(product string, from, to time.Time) ([]weather.RunStatus, error)
}

// Locator resolves city/country queries to coordinates.
type Locator interface {
	Enabled() bool
	Locate(loc weather.Location) (geocode.Coordinates, error)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. locator may be nil.
func RegisterRoutes(app *fiber.App, service ForecastService, locator Locator) {
	forecast := forecastHandler(service, locator)
	app.Get("/short_forecast", forecast)

	v1 := app.Group("/api/v1")
	v1.Get("/forecast", forecast)

	v1.Get("/runs", func(c *fiber.Ctx) error {
		runs := make([]weather.RunStatus, 0, 2)
		for _, p := range service.Products() {
			status, err := service.GetLatestRun(p.Name)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return fiber.NewError(fiber.StatusInternalServerError, "failed to read run status")
			}
			runs = append(runs, status)
		}
		return c.JSON(fiber.Map{"runs": runs})
	})

	v1.Get("/runs/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		statuses, err := service.GetRunRange(req.Product, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no run history for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read run history")
		}

		return c.JSON(fiber.Map{
			"product": req.Product,
			"from":    req.From,
			"to":      req.To,
			"runs":    statuses,
		})
	})
}

func forecastHandler(service ForecastService, locator Locator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		q, err := parsePointQuery(c, locator)
		if err != nil {
			metrics.ForecastRequests.WithLabelValues("invalid").Inc()
			return err
		}

		start := time.Now()
		series, err := service.GetForecast(c.UserContext(), q.Lat, q.Lon)
		metrics.ForecastLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ForecastRequests.WithLabelValues(outcome(err)).Inc()
			return fiber.NewError(statusFor(err), err.Error())
		}
		metrics.ForecastRequests.WithLabelValues("ok").Inc()

		if q.Format == "geojson" {
			return c.JSON(series.FeatureCollection())
		}
		return c.JSON(series)
	}
}

// pointQuery holds the query parameters of the forecast endpoints.
type pointQuery struct {
	Lat    float64 `validate:"gte=-90,lte=90"`
	Lon    float64 `validate:"gte=-180,lt=360"`
	Format string  `validate:"omitempty,oneof=json geojson"`
}

// parsePointQuery reads lat/lon, or city/country when a locator is available.
// Errors are *fiber.Error values ready to return.
func parsePointQuery(c *fiber.Ctx, locator Locator) (pointQuery, error) {
	q := pointQuery{Format: c.Query("format")}

	latStr, lonStr := c.Query("lat"), c.Query("lon")
	switch {
	case latStr != "" || lonStr != "":
		if latStr == "" || lonStr == "" {
			return q, fiber.NewError(fiber.StatusBadRequest, "lat and lon query parameters are both required")
		}
		var err error
		if q.Lat, err = strconv.ParseFloat(latStr, 64); err != nil {
			return q, fiber.NewError(fiber.StatusBadRequest, "invalid lat: "+err.Error())
		}
		if q.Lon, err = strconv.ParseFloat(lonStr, 64); err != nil {
			return q, fiber.NewError(fiber.StatusBadRequest, "invalid lon: "+err.Error())
		}

	case c.Query("city") != "":
		loc := locationQuery{City: c.Query("city"), Country: c.Query("country")}
		if err := validate.Struct(loc); err != nil {
			return q, fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if locator == nil || !locator.Enabled() {
			return q, fiber.NewError(fiber.StatusBadRequest, "city lookup is not configured; pass lat and lon")
		}
		coords, err := locator.Locate(loc.toLocation())
		if err != nil {
			return q, fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
		q.Lat, q.Lon = coords.Lat, coords.Lon

	default:
		return q, fiber.NewError(fiber.StatusBadRequest, "lat and lon query parameters are required")
	}

	if err := validate.Struct(q); err != nil {
		return q, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return q, nil
}

// locationQuery holds query parameters for identifying a location.
type locationQuery struct {
	City    string `validate:"required"`
	Country string `validate:"required"`
}

func (l locationQuery) toLocation() weather.Location {
	return weather.Location{
		City:    l.City,
		Country: l.Country,
	}
}

// statusFor maps pipeline errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, weather.ErrDataUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, weather.ErrMissingVariable):
		return fiber.StatusBadGateway
	case errors.Is(err, weather.ErrOutOfGrid):
		return fiber.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func outcome(err error) string {
	switch statusFor(err) {
	case fiber.StatusServiceUnavailable:
		return "unavailable"
	case fiber.StatusBadGateway:
		return "schema"
	case fiber.StatusBadRequest:
		return "invalid"
	default:
		return "error"
	}
}

// historyQuery holds query parameters for the run history endpoint.
type historyQuery struct {
	Product string    `validate:"required"`
	From    time.Time `validate:"required"`
	To      time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	h.Product = c.Query("product")

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return fmt.Errorf("from: %w", err)
	}
	to, err := parseTime(toStr)
	if err != nil {
		return fmt.Errorf("to: %w", err)
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
