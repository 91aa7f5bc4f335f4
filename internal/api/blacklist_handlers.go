package api

import (
	"net/http"
	"time"

	"ipreputation/internal/models"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"
)

// AddBlacklistEntry records a manual blacklist entry for an IP or CIDR.
func (h *APIHandler) AddBlacklistEntry(c *gin.Context) {
	var req struct {
		IP        string     `json:"ip_or_cidr"`
		Reason    string     `json:"reason"`
		ExpiresAt *time.Time `json:"expires_at"`
		Notes     string     `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	reason := models.BlacklistReason(req.Reason)
	if req.Reason == "" {
		reason = models.ReasonManual
	}

	entry := models.BlacklistEntry{
		IP:        req.IP,
		Reason:    reason,
		ExpiresAt: req.ExpiresAt,
		Notes:     req.Notes,
	}
	if err := h.manager.Blacklist().AddEntry(entry); err != nil {
		abortWithError(c, err)
		return
	}

	zlog.Info().Str("ip", req.IP).Str("reason", string(reason)).Msg("API: blacklist entry added")
	c.JSON(http.StatusOK, gin.H{"status": "blacklisted", "ip_or_cidr": req.IP})
}

// RemoveBlacklistEntry deletes an IP or CIDR from the blacklist.
// The body form keeps CIDR arguments out of the URL path.
func (h *APIHandler) RemoveBlacklistEntry(c *gin.Context) {
	var req struct {
		IP string `json:"ip_or_cidr"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IP == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	h.manager.Blacklist().Remove(req.IP)
	c.JSON(http.StatusOK, gin.H{"status": "removed", "ip_or_cidr": req.IP})
}

// CheckBlacklist reports membership for one IP without scoring it.
func (h *APIHandler) CheckBlacklist(c *gin.Context) {
	ip := c.Param("ip")
	entry, blacklisted, err := h.manager.CheckBlacklist(ip)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := gin.H{"ip": ip, "blacklisted": blacklisted}
	if entry != nil {
		resp["entry"] = entry
	}
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandler) BlacklistStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Blacklist().Status())
}

// UploadBlacklist atomically replaces the feed sets with the uploaded
// list. Manual entries survive the swap.
func (h *APIHandler) UploadBlacklist(c *gin.Context) {
	var req struct {
		IPs []string `json:"ips"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result := h.manager.Blacklist().BulkReplace(req.IPs)
	zlog.Info().
		Int("processed", result.TotalProcessed).
		Int("valid", result.ValidEntries).
		Int("invalid", result.InvalidEntries).
		Msg("API: blacklist feed replaced")
	c.JSON(http.StatusOK, result)
}

func (h *APIHandler) SaveBlacklist(c *gin.Context) {
	idx := h.manager.Blacklist()
	if err := idx.Save(h.cfg.BlacklistFile); err != nil {
		abortWithError(c, err)
		return
	}
	if err := idx.SaveEntries(h.cfg.EntriesFile); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (h *APIHandler) ReloadBlacklist(c *gin.Context) {
	idx := h.manager.Blacklist()
	if err := idx.Load(h.cfg.BlacklistFile); err != nil {
		abortWithError(c, err)
		return
	}
	if err := idx.LoadEntries(h.cfg.EntriesFile); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, idx.Status())
}
