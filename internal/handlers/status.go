package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neochat/roulette/internal/core"
)

// Health reports liveness plus the current aggregate counters.
func Health(engine *core.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		total, _, waiting, matches := engine.Counts()
		c.JSON(http.StatusOK, gin.H{
			"status":        "healthy",
			"usersOnline":   total,
			"waiting":       waiting,
			"activeMatches": matches,
			"timestamp":     time.Now().Unix(),
		})
	}
}

// Info reports process uptime and current counts.
func Info(engine *core.Engine, started time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		total, ready, waiting, matches := engine.Counts()
		c.JSON(http.StatusOK, gin.H{
			"service":       "roulette-signaling",
			"uptime":        time.Since(started).Seconds(),
			"total":         total,
			"ready":         ready,
			"waiting":       waiting,
			"activeMatches": matches,
		})
	}
}

// Stats mirrors the online-count broadcast for plain HTTP consumers.
func Stats(engine *core.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		total, ready, waiting, matches := engine.Counts()
		c.JSON(http.StatusOK, gin.H{
			"total":         total,
			"ready":         ready,
			"waiting":       waiting,
			"activeMatches": matches,
		})
	}
}

// Debug dumps the full engine state: every connection, the queue order and
// all live matches. Routed behind JWT auth; this is operator tooling, not a
// client API.
func Debug(engine *core.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, engine.Debug())
	}
}
