package api

import (
	"net/http"

	"ipreputation/internal/rules"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"
)

func (h *APIHandler) ListRules(c *gin.Context) {
	sys := h.manager.Rules()
	c.JSON(http.StatusOK, gin.H{
		"rules":  sys.Rules(),
		"groups": sys.Groups(),
	})
}

// AddRule registers an ungrouped point rule.
func (h *APIHandler) AddRule(c *gin.Context) {
	var rule rules.PointRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.manager.Rules().AddRule(rule); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "added", "attribute": rule.Attribute})
}

func (h *APIHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	group, err := h.manager.Rules().CreateGroup(req.Name, req.Description)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (h *APIHandler) AddRuleToGroup(c *gin.Context) {
	var rule rules.PointRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.manager.Rules().AddToGroup(c.Param("name"), rule); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "added", "group": c.Param("name"), "attribute": rule.Attribute})
}

// EvaluateFacts runs the rule engine against caller-supplied facts
// without touching the score store. Useful for dry-running rule sets.
func (h *APIHandler) EvaluateFacts(c *gin.Context) {
	var facts map[string]interface{}
	if err := c.ShouldBindJSON(&facts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result := h.manager.Rules().Evaluate(facts)
	c.JSON(http.StatusOK, result)
}

func (h *APIHandler) SaveRules(c *gin.Context) {
	if err := h.manager.SaveRules(h.cfg.RulesFile); err != nil {
		zlog.Error().Err(err).Msg("API: failed to save rules")
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (h *APIHandler) ReloadRules(c *gin.Context) {
	if err := h.manager.ReloadRules(h.cfg.RulesFile); err != nil {
		abortWithError(c, err)
		return
	}
	sys := h.manager.Rules()
	c.JSON(http.StatusOK, gin.H{
		"status": "reloaded",
		"rules":  len(sys.Rules()),
		"groups": len(sys.Groups()),
	})
}
