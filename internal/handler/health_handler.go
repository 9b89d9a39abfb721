package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const healthPingTimeout = 2 * time.Second

// Pinger is an interface for health check ping operations.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the ticket ledger can serve requests.
type HealthHandler struct {
	db    Pinger
	cache Pinger
}

// NewHealthHandler creates a HealthHandler. cache is nil when the open
// ticket cache is disabled.
func NewHealthHandler(db Pinger, cache Pinger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

// Check pings Postgres and, when configured, Redis.
//
//	200 {"status":"healthy","database":"up","cache":"up|disabled"}
//	200 {"status":"degraded","database":"up","cache":"unreachable"}
//	503 {"status":"unhealthy","database":"down","error":"database connection failed"}
//
// Redis only degrades the status: lookups fall back to Postgres.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), healthPingTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("health check failed: database unreachable")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":   "unhealthy",
			"database": "down",
			"error":    "database connection failed",
		})
	}

	if h.cache == nil {
		return c.JSON(fiber.Map{"status": "healthy", "database": "up", "cache": "disabled"})
	}
	if err := h.cache.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("health check: open ticket cache unreachable")
		return c.JSON(fiber.Map{"status": "degraded", "database": "up", "cache": "unreachable"})
	}
	return c.JSON(fiber.Map{"status": "healthy", "database": "up", "cache": "up"})
}
