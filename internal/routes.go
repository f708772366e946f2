package internal

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	"qrclinic/internal/analytics"
	"qrclinic/internal/cache"
	"qrclinic/internal/channels"
	"qrclinic/internal/config"
	"qrclinic/internal/events"
	"qrclinic/internal/http"
	"qrclinic/internal/http/middleware"
	"qrclinic/internal/metrics"
	"qrclinic/internal/pkg/async"
	"qrclinic/internal/pkg/geoip"
	"qrclinic/internal/settings"
	"qrclinic/internal/timeframe"
)

// ReportCachePrefix namespaces report keys in Redis.
const ReportCachePrefix = "qrclinic"

// statsCORSConfig lets the dashboard frontend call the stats API from its own origin.
var statsCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization",
}

// NewStatsService wires the report service. Redis is optional: when it
// cannot be reached the service runs uncached.
func NewStatsService(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config) *analytics.Service {
	geoip.InitLogger(logger)

	deps := analytics.Dependencies{
		Store:    events.NewGormStore(dbManager, logger),
		Channels: channels.NewDirectory(dbManager),
		Clinic:   settings.NewClinic(dbManager.GetConnection()),
		CacheTTL: cfg.ReportCacheTTL(),
		Periods:  timeframe.NewResolver(cfg.Location()),
		Pool:     async.NewPool(cfg.AggregationWorkers),
		Places:   geoip.DefaultResolver(),
		Logger:   logger,
	}

	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		reportCache, err := cache.NewFromURL(ctx, cfg.RedisURL, ReportCachePrefix)
		if err != nil {
			logger.Warn("Report cache unavailable, serving uncached reports", slog.Any("error", err))
		} else {
			deps.Cache = reportCache
		}
	}

	return analytics.NewService(deps)
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()
	db := srv.GetDBManager().GetConnection()
	logger := srv.GetLogger()

	// Rate limiting only in production; it would interfere with tests
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// Each stats request fans out into several aggregate queries
	statsRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(60),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	statsConfig := &cartridge.RouteConfig{
		EnableCORS: true,
		CORSConfig: statsCORSConfig,
		CustomMiddleware: []fiber.Handler{
			statsRateLimiter,
			middleware.ChannelFilter(db, logger),
		},
	}

	stats := http.NewStatsHandler(NewStatsService(srv.GetDBManager(), logger, cfg))

	// Health check endpoint
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	srv.Get("/metrics", func(ctx *cartridge.Context) error {
		return metrics.Handler()(ctx.Ctx)
	})

	// === STATS API ===
	srv.Get("/api/stats/channels", stats.ChannelStatsAction, statsConfig)
	srv.Get("/api/stats/overall", stats.OverallStatsAction, statsConfig)
	srv.Get("/api/stats/locations", stats.LocationsAction, statsConfig)
	srv.Get("/api/stats/locations/demographics", stats.LocationDemographicsAction, statsConfig)
}
