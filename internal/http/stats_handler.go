package http

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"qrclinic/internal/analytics"
	"qrclinic/internal/http/middleware"
	"qrclinic/internal/timeframe"
)

// StatsRequestTimeout bounds every stats request, including its store queries.
const StatsRequestTimeout = 30 * time.Second

// StatsHandler serves the dashboard stats API.
type StatsHandler struct {
	service *analytics.Service
}

func NewStatsHandler(service *analytics.Service) *StatsHandler {
	return &StatsHandler{service: service}
}

func periodSpec(ctx *cartridge.Context) timeframe.PeriodSpec {
	return timeframe.ParsePeriodSpec(ctx.Query("period"), ctx.Query("start"), ctx.Query("end"))
}

func requestContext(ctx *cartridge.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.UserContext(), StatsRequestTimeout)
}

// optionalQuery returns nil when the parameter is absent or blank.
func optionalQuery(ctx *cartridge.Context, key string) *string {
	v := ctx.Query(key)
	if v == "" {
		return nil
	}
	return &v
}

// respondError maps user-correctable errors to 400 and everything else to 500.
func respondError(ctx *cartridge.Context, what string, err error) error {
	if errors.Is(err, timeframe.ErrInvalidPeriod) || errors.Is(err, analytics.ErrInvalidLocation) {
		ctx.Logger.Warn("Rejected stats request", slog.String("report", what), slog.Any("error", err))
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	ctx.Logger.Error("Failed to build "+what, slog.Any("error", err))
	return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to build " + what,
	})
}

// ChannelStatsAction handles GET /api/stats/channels
func (h *StatsHandler) ChannelStatsAction(ctx *cartridge.Context) error {
	reqCtx, cancel := requestContext(ctx)
	defer cancel()

	stats, err := h.service.GetChannelStats(reqCtx, middleware.ChannelIDs(ctx.Ctx), periodSpec(ctx))
	if err != nil {
		return respondError(ctx, "channel stats", err)
	}
	return ctx.JSON(stats)
}

// OverallStatsAction handles GET /api/stats/overall
func (h *StatsHandler) OverallStatsAction(ctx *cartridge.Context) error {
	reqCtx, cancel := requestContext(ctx)
	defer cancel()

	stats, err := h.service.GetOverallStats(reqCtx, middleware.ChannelIDs(ctx.Ctx), periodSpec(ctx))
	if err != nil {
		return respondError(ctx, "overall stats", err)
	}
	return ctx.JSON(stats)
}

// LocationsAction handles GET /api/stats/locations
func (h *StatsHandler) LocationsAction(ctx *cartridge.Context) error {
	reqCtx, cancel := requestContext(ctx)
	defer cancel()

	locations, err := h.service.GetLocationAggregates(reqCtx, middleware.ChannelIDs(ctx.Ctx), periodSpec(ctx))
	if err != nil {
		return respondError(ctx, "location stats", err)
	}
	return ctx.JSON(locations)
}

// LocationDemographicsAction handles GET /api/stats/locations/demographics
func (h *StatsHandler) LocationDemographicsAction(ctx *cartridge.Context) error {
	reqCtx, cancel := requestContext(ctx)
	defer cancel()

	demographics, err := h.service.GetLocationDemographics(reqCtx,
		optionalQuery(ctx, "region"),
		optionalQuery(ctx, "city"),
		optionalQuery(ctx, "town"),
		middleware.ChannelIDs(ctx.Ctx),
		periodSpec(ctx))
	if err != nil {
		return respondError(ctx, "location demographics", err)
	}
	return ctx.JSON(demographics)
}
