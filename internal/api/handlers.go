package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"ipreputation/internal/config"
	"ipreputation/internal/metrics"
	"ipreputation/internal/models"
	"ipreputation/internal/reputation"
	"ipreputation/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type APIHandler struct {
	cfg           *config.Config
	manager       *reputation.Manager
	redisRepo     *repository.RedisRepository
	asynqClient   *asynq.Client
	mainLimiter   gin.HandlerFunc
	uploadLimiter gin.HandlerFunc
}

func NewAPIHandler(cfg *config.Config, m *reputation.Manager, r *repository.RedisRepository, ac *asynq.Client) *APIHandler {
	return &APIHandler{
		cfg:         cfg,
		manager:     m,
		redisRepo:   r,
		asynqClient: ac,
	}
}

func (h *APIHandler) SetLimiters(main, upload gin.HandlerFunc) {
	h.mainLimiter = main
	h.uploadLimiter = upload
}

func (h *APIHandler) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		c.Next()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		metrics.MetricHttpDuration.WithLabelValues(path, c.Request.Method, status).Observe(duration)
	}
}

// passthrough keeps route registration uniform when a limiter is unset,
// as in tests.
func passthrough(c *gin.Context) { c.Next() }

func (h *APIHandler) limiter(fn gin.HandlerFunc) gin.HandlerFunc {
	if fn == nil {
		return passthrough
	}
	return fn
}

func (h *APIHandler) RegisterRoutes(r *gin.Engine) {
	r.Use(h.PrometheusMiddleware())

	main := h.limiter(h.mainLimiter)
	upload := h.limiter(h.uploadLimiter)

	v1 := r.Group("/api/v1")
	v1.Use(main)
	{
		v1.POST("/analyze", h.Analyze)
		v1.POST("/analyze/bulk", upload, h.BulkAnalyze)

		v1.GET("/ip/:ip", h.LocateIP)

		v1.GET("/scores", h.Scores)
		v1.GET("/scores/high-risk", h.HighRisk)
		v1.GET("/scores/stats", h.ScoreStats)
		v1.GET("/scores/:ip", h.GetScore)
		v1.DELETE("/scores/:ip", h.DeleteScore)

		bl := v1.Group("/blacklist")
		{
			bl.GET("/status", h.BlacklistStatus)
			bl.GET("/check/:ip", h.CheckBlacklist)
			bl.POST("", h.AddBlacklistEntry)
			bl.POST("/remove", h.RemoveBlacklistEntry)
			bl.POST("/upload", upload, h.UploadBlacklist)
			bl.POST("/save", h.SaveBlacklist)
			bl.POST("/reload", h.ReloadBlacklist)
		}

		rl := v1.Group("/rules")
		{
			rl.GET("", h.ListRules)
			rl.POST("", h.AddRule)
			rl.POST("/groups", h.CreateGroup)
			rl.POST("/groups/:name/rules", h.AddRuleToGroup)
			rl.POST("/evaluate", h.EvaluateFacts)
			rl.POST("/save", h.SaveRules)
			rl.POST("/reload", h.ReloadRules)
		}
	}

	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// httpStatus maps the domain error taxonomy onto response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidAddress), errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrLookupFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{"error": err.Error()})
}

func (h *APIHandler) Health(c *gin.Context) {
	status := "UP"
	redisStatus := "OK"
	if h.redisRepo != nil {
		if _, err := h.redisRepo.Stats(); err != nil {
			redisStatus = "ERROR"
			status = "DEGRADED"
		}
	} else {
		redisStatus = "MISSING"
		status = "DEGRADED"
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"redis":  redisStatus,
	})
}

func (h *APIHandler) Ready(c *gin.Context) {
	if h.redisRepo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "NOT_READY"})
		return
	}
	if err := h.redisRepo.GetClient().Ping(c.Request.Context()).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "NOT_READY", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "READY"})
}
