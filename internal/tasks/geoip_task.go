package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	zlog "github.com/rs/zerolog/log"

	"ipreputation/internal/config"
	"ipreputation/internal/geo"
)

const (
	TypeGeoIPUpdate = "geoip:update"
)

type GeoIPPayload struct {
	Edition string `json:"edition"`
}

func NewGeoIPUpdateTask(edition string) (*asynq.Task, error) {
	payload, err := json.Marshal(GeoIPPayload{Edition: edition})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeGeoIPUpdate, payload, asynq.MaxRetry(3), asynq.Queue("low")), nil
}

// ReaderReloader is implemented by the offline geo provider so a fresh
// database file is picked up without a restart.
type ReaderReloader interface {
	ReloadReaders()
}

type GeoIPTaskHandler struct {
	updater  *geo.Updater
	provider ReaderReloader
}

func NewGeoIPTaskHandler(cfg *config.Config, provider ReaderReloader) *GeoIPTaskHandler {
	return &GeoIPTaskHandler{updater: geo.NewUpdater(cfg), provider: provider}
}

func (h *GeoIPTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p GeoIPPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	zlog.Info().Str("edition", p.Edition).Msg("Asynq: Updating GeoIP database")
	if err := h.updater.Download(p.Edition); err != nil {
		return err
	}

	if h.provider != nil {
		h.provider.ReloadReaders()
	}

	return nil
}
