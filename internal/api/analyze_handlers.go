package api

import (
	"net/http"
	"strconv"

	"ipreputation/internal/tasks"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"
)

// Analyze scores a single IP and returns the full analysis.
func (h *APIHandler) Analyze(c *gin.Context) {
	var req struct {
		IP string `json:"ip"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	analysis, err := h.manager.AnalyzeIP(c.Request.Context(), req.IP)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// LocateIP returns the raw geolocation result for one IP, no scoring.
func (h *APIHandler) LocateIP(c *gin.Context) {
	result, err := h.manager.Locate(c.Request.Context(), c.Param("ip"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

const maxSyncBatch = 100

// BulkAnalyze scores a batch of IPs. Batches larger than maxSyncBatch
// are handed to the background worker and acknowledged with 202.
func (h *APIHandler) BulkAnalyze(c *gin.Context) {
	var req struct {
		IPs   []string `json:"ips"`
		Async bool     `json:"async"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if len(req.IPs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No IPs provided"})
		return
	}

	if (req.Async || len(req.IPs) > maxSyncBatch) && h.asynqClient != nil {
		task, err := tasks.NewBulkAnalyzeTask(req.IPs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue analysis"})
			return
		}
		info, err := h.asynqClient.Enqueue(task)
		if err != nil {
			zlog.Error().Err(err).Msg("API: failed to enqueue bulk analysis")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue analysis"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "task_id": info.ID, "count": len(req.IPs)})
		return
	}

	results := h.manager.BulkAnalyze(c.Request.Context(), req.IPs)
	c.JSON(http.StatusOK, gin.H{"count": len(results), "results": results})
}

// GetScore returns the stored score for one IP.
func (h *APIHandler) GetScore(c *gin.Context) {
	score, err := h.manager.Store().GetScore(c.Param("ip"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}

func (h *APIHandler) DeleteScore(c *gin.Context) {
	if err := h.manager.Store().DeleteScore(c.Param("ip")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "ip": c.Param("ip")})
}

func (h *APIHandler) Scores(c *gin.Context) {
	scores, err := h.manager.Store().AllScores()
	if err != nil {
		zlog.Error().Err(err).Msg("API: failed to list scores")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list scores"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(scores), "scores": scores})
}

// HighRisk lists IPs scoring below the threshold, default from config.
func (h *APIHandler) HighRisk(c *gin.Context) {
	threshold := h.cfg.HighRiskThreshold
	if raw := c.Query("threshold"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid threshold"})
			return
		}
		threshold = v
	}

	ips, err := h.manager.HighRisk(threshold)
	if err != nil {
		zlog.Error().Err(err).Msg("API: high risk query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query scores"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"threshold": threshold, "count": len(ips), "ips": ips})
}

func (h *APIHandler) ScoreStats(c *gin.Context) {
	stats, err := h.manager.Store().Stats()
	if err != nil {
		zlog.Error().Err(err).Msg("API: stats query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
