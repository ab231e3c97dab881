package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/hub"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/leaderboard"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/protocol"
	"github.com/gin-contrib/cors"
	ginGzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	cachecontrol "go.eigsys.de/gin-cachecontrol/v2"
)

const readyTimeout = 2 * time.Second

type Board interface {
	Snapshot(ctx context.Context, w leaderboard.Window, limit int) ([]leaderboard.Row, error)
}

type PresenceView interface {
	OnlineUsers() []protocol.OnlineUser
	OnlineCount() int
	IsUserOnline(ctx context.Context, userID string) (bool, error)
	UserInstances(ctx context.Context, userID string) ([]string, error)
}

// Check is a named readiness probe, e.g. a redis ping.
type Check func(ctx context.Context) error

type RouterDeps struct {
	Hub          *hub.Hub
	Board        Board
	Presence     PresenceView
	WebSocket    http.Handler
	Gatherer     prometheus.Gatherer
	Checks       map[string]Check
	ClientURL    string
	DefaultLimit int
	Production   bool
}

func NewRouter(deps RouterDeps, logger zerolog.Logger) *gin.Engine {
	if deps.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	logger = logger.With().Str("component", "http").Logger()

	r := gin.New()
	r.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		logger.Info().
			Str("client_ip", param.ClientIP).
			Str("method", param.Method).
			Str("path", param.Path).
			Int("status_code", param.StatusCode).
			Dur("latency", param.Latency).
			Str("error_message", param.ErrorMessage).
			Msg("http_request")
		return ""
	}))
	r.Use(gin.Recovery())

	origins := []string{"*"}
	if deps.ClientURL != "" && deps.ClientURL != "*" {
		origins = []string{deps.ClientURL}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: origins[0] != "*",
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", readyHandler(deps))
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	if deps.WebSocket != nil {
		r.GET("/v1/ws", gin.WrapH(deps.WebSocket))
	}

	api := r.Group("/api")
	api.Use(ginGzip.Gzip(ginGzip.DefaultCompression))
	api.Use(cachecontrol.New(cachecontrol.Config{
		NoStore:        true,
		NoCache:        true,
		MustRevalidate: true,
	}))
	{
		api.GET("/leaderboard", leaderboardHandler(deps, logger))
		api.GET("/presence", presenceHandler(deps))
		api.GET("/presence/:userId", userPresenceHandler(deps, logger))
	}

	return r
}

func readyHandler(deps RouterDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()

		failed := map[string]string{}
		for name, check := range deps.Checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}

		body := gin.H{"status": "ready"}
		if deps.Hub != nil {
			body["stats"] = deps.Hub.GetStats()
		}
		if deps.Presence != nil {
			body["online"] = deps.Presence.OnlineCount()
		}
		if len(failed) > 0 {
			body["status"] = "unavailable"
			body["failed"] = failed
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, body)
	}
}

func leaderboardHandler(deps RouterDeps, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		window, err := leaderboard.ParseWindow(c.Query("filter"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "filter must be one of all, today, week, month"})
			return
		}

		limit := deps.DefaultLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
				return
			}
			limit = n
		}

		rows, err := deps.Board.Snapshot(c.Request.Context(), window, limit)
		if err == nil {
			var entries []protocol.LeaderboardEntry
			if entries, err = leaderboard.Entries(rows); err == nil {
				c.JSON(http.StatusOK, entries)
				return
			}
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Error().Err(err).Str("filter", string(window)).Msg("Error fetching leaderboard")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch leaderboard data"})
	}
}

func presenceHandler(deps RouterDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		users := deps.Presence.OnlineUsers()
		c.JSON(http.StatusOK, protocol.OnlineUsersPayload{Count: len(users), Users: users})
	}
}

func userPresenceHandler(deps RouterDeps, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		online, err := deps.Presence.IsUserOnline(c.Request.Context(), userID)
		if err != nil {
			logger.Error().Err(err).Str("userId", userID).Msg("Error checking presence")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check presence"})
			return
		}
		instances, err := deps.Presence.UserInstances(c.Request.Context(), userID)
		if err != nil {
			logger.Warn().Err(err).Str("userId", userID).Msg("Error listing user instances")
			instances = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"userId": userID, "online": online, "instances": instances})
	}
}
