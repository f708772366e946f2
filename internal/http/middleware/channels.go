package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"qrclinic/internal/analytics"
	"qrclinic/internal/channels"
)

// ChannelIDsKey is the Locals key holding the requested channel ids.
const ChannelIDsKey = "channel_ids"

// ChannelFilter resolves the channel set for stats requests. An explicit
// ids parameter is used as given, even when empty; without one every
// active channel is selected.
func ChannelFilter(db *gorm.DB, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Context().QueryArgs().Has("ids") {
			ids := analytics.ParseChannelIDs(c.Query("ids"))
			c.Locals(ChannelIDsKey, ids)
			logger.Debug("Applied channel filter", slog.Int("channels", len(ids)))
			return c.Next()
		}

		ids, err := channels.GetActiveChannelIDs(db.WithContext(c.UserContext()))
		if err != nil {
			logger.Error("Failed to load active channels", slog.Any("error", err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to load channels",
			})
		}
		c.Locals(ChannelIDsKey, analytics.NormalizeChannelIDs(ids))
		logger.Debug("No ids provided, using all active channels", slog.Int("channels", len(ids)))
		return c.Next()
	}
}

// ChannelIDs returns the channel set resolved by ChannelFilter.
func ChannelIDs(c *fiber.Ctx) []string {
	ids, _ := c.Locals(ChannelIDsKey).([]string)
	if ids == nil {
		return []string{}
	}
	return ids
}
