package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	zlog "github.com/rs/zerolog/log"

	"ipreputation/internal/models"
)

const (
	TypeBulkAnalyze = "reputation:bulk_analyze"
)

type BulkAnalyzePayload struct {
	IPs []string `json:"ips"`
}

func NewBulkAnalyzeTask(ips []string) (*asynq.Task, error) {
	payload, err := json.Marshal(BulkAnalyzePayload{IPs: ips})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBulkAnalyze, payload, asynq.MaxRetry(2), asynq.Timeout(5*time.Minute)), nil
}

// Analyzer is the slice of the reputation manager the task needs.
type Analyzer interface {
	BulkAnalyze(ctx context.Context, ips []string) map[string]*models.Analysis
}

type BulkAnalyzeTaskHandler struct {
	analyzer Analyzer
}

func NewBulkAnalyzeTaskHandler(analyzer Analyzer) *BulkAnalyzeTaskHandler {
	return &BulkAnalyzeTaskHandler{analyzer: analyzer}
}

func (h *BulkAnalyzeTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p BulkAnalyzePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if len(p.IPs) == 0 {
		return nil
	}

	results := h.analyzer.BulkAnalyze(ctx, p.IPs)

	failed := 0
	for _, r := range results {
		if r.Status == models.StatusError {
			failed++
		}
	}
	zlog.Info().
		Int("total", len(results)).
		Int("failed", failed).
		Msg("Asynq: Bulk reputation analysis finished")

	return nil
}
