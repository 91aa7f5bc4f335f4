package reputation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ipreputation/internal/blacklist"
	"ipreputation/internal/config"
	"ipreputation/internal/geo"
	"ipreputation/internal/metrics"
	"ipreputation/internal/models"
	"ipreputation/internal/repository"
	"ipreputation/internal/rules"

	zlog "github.com/rs/zerolog/log"
)

// Structural adjustments: fixed, code-defined heuristics applied on top
// of the rule total. They are deliberately not reachable through the
// rule API. The complete list:
//   - every analysis starts from the configured base score (default 100)
//   - connections whose reverse domain ends in .proxy/.vpn/.tor lose
//     proxyPenalty points
//   - the final total never goes below zero
const proxyPenalty = -20

var proxySuffixes = []string{".proxy", ".vpn", ".tor"}

// Manager is the top-level scoring entry point. It owns the blacklist
// index, the rule system (swappable via ReloadRules) and the score
// store, and delegates geolocation to the configured provider.
type Manager struct {
	cfg       *config.Config
	blacklist *blacklist.Index
	provider  geo.Provider
	repo      *repository.RedisRepository

	mu    sync.RWMutex
	rules *rules.System
}

func NewManager(cfg *config.Config, idx *blacklist.Index, provider geo.Provider, repo *repository.RedisRepository, sys *rules.System) *Manager {
	if sys == nil {
		sys = rules.NewSystem()
	}
	return &Manager{
		cfg:       cfg,
		blacklist: idx,
		provider:  provider,
		repo:      repo,
		rules:     sys,
	}
}

// Rules returns the currently active rule system.
func (m *Manager) Rules() *rules.System {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules
}

// Blacklist returns the blacklist index.
func (m *Manager) Blacklist() *blacklist.Index {
	return m.blacklist
}

// Store returns the score repository.
func (m *Manager) Store() *repository.RedisRepository {
	return m.repo
}

// ReloadRules loads the rules document at path and swaps it in whole.
// In-flight evaluations finish against the system they started with.
func (m *Manager) ReloadRules(path string) error {
	sys, err := rules.LoadFile(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.rules = sys
	m.mu.Unlock()
	zlog.Info().Str("path", path).Int("rules", len(sys.Rules())).Int("groups", len(sys.Groups())).Msg("Reputation: rules reloaded")
	return nil
}

// SaveRules writes the active rule system to path.
func (m *Manager) SaveRules(path string) error {
	return m.Rules().Save(path)
}

// AnalyzeIP runs the full scoring pipeline for one IP: blacklist check
// first (short-circuits without a geo call), then geo lookup, rule
// evaluation, structural adjustment and persistence. The returned
// Analysis always carries a terminal status; a lookup failure yields
// StatusError with the provider's message, never a partial score.
func (m *Manager) AnalyzeIP(ctx context.Context, ip string) (*models.Analysis, error) {
	if !blacklist.IsValidAddress(ip) {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidAddress, ip)
	}

	entry, err := m.blacklist.Lookup(ip)
	if err != nil {
		return nil, err
	}
	blacklisted := entry != nil
	if !blacklisted {
		blacklisted, err = m.blacklist.Contains(ip)
		if err != nil {
			return nil, err
		}
	}

	if blacklisted {
		metrics.MetricBlacklistHitsTotal.Inc()
		metrics.MetricAnalysesTotal.WithLabelValues(string(models.StatusBlacklisted)).Inc()

		score := models.ReputationScore{
			IP:              ip,
			TotalScore:      0,
			AttributeScores: map[string]int{},
			Factors:         []string{"IP is blacklisted"},
			ComputedAt:      time.Now().UTC(),
			Blacklisted:     true,
		}
		m.persist(score)

		return &models.Analysis{
			Status:         models.StatusBlacklisted,
			IP:             ip,
			Score:          &score,
			BlacklistEntry: entry,
		}, nil
	}

	result, err := m.provider.Lookup(ctx, ip)
	if err != nil {
		metrics.MetricAnalysesTotal.WithLabelValues(string(models.StatusError)).Inc()
		return nil, err
	}

	score := m.calculate(ip, result)
	m.persist(score)
	metrics.MetricAnalysesTotal.WithLabelValues(string(models.StatusActive)).Inc()

	return &models.Analysis{
		Status:     models.StatusActive,
		IP:         ip,
		Location:   result.Location,
		Connection: result.Connection,
		Timezone:   result.Timezone,
		Score:      &score,
	}, nil
}

// Locate runs a bare geo lookup for ip, without scoring or persistence.
func (m *Manager) Locate(ctx context.Context, ip string) (*models.GeoResult, error) {
	if !blacklist.IsValidAddress(ip) {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidAddress, ip)
	}
	return m.provider.Lookup(ctx, ip)
}

// calculate merges the rule evaluation with the structural adjustments.
func (m *Manager) calculate(ip string, result *models.GeoResult) models.ReputationScore {
	eval := m.Rules().Evaluate(result.Facts())

	total := m.cfg.BaseScore + eval.Total
	breakdown := make(map[string]int, len(eval.Breakdown)+1)
	for k, v := range eval.Breakdown {
		breakdown[k] = v
	}
	factors := append([]string{}, eval.Factors...)

	if result.Connection != nil && hasProxySuffix(result.Connection.Domain) {
		total += proxyPenalty
		breakdown["proxy_penalty"] = proxyPenalty
		factors = append(factors, "Proxy/VPN detection penalty")
	}

	if total < 0 {
		total = 0
	}

	return models.ReputationScore{
		IP:              ip,
		TotalScore:      total,
		AttributeScores: breakdown,
		Factors:         factors,
		ComputedAt:      time.Now().UTC(),
	}
}

func hasProxySuffix(domain string) bool {
	for _, suffix := range proxySuffixes {
		if strings.HasSuffix(domain, suffix) {
			return true
		}
	}
	return false
}

// persist writes the score through to the store. A store failure is
// logged, not fatal: the analysis result itself is already computed.
func (m *Manager) persist(score models.ReputationScore) {
	if m.repo == nil {
		return
	}
	if err := m.repo.PutScore(score); err != nil {
		zlog.Error().Err(err).Str("ip", score.IP).Msg("Reputation: failed to persist score")
	}
}

// BulkAnalyze scores a batch of IPs, continuing past per-IP failures
// and collecting each outcome independently.
func (m *Manager) BulkAnalyze(ctx context.Context, ips []string) map[string]*models.Analysis {
	results := make(map[string]*models.Analysis, len(ips))
	for _, ip := range ips {
		analysis, err := m.AnalyzeIP(ctx, ip)
		if err != nil {
			results[ip] = &models.Analysis{
				Status: models.StatusError,
				IP:     ip,
				Error:  err.Error(),
			}
			continue
		}
		results[ip] = analysis
	}
	return results
}

// CheckBlacklist returns the manual entry for ip when one covers it,
// or reports plain feed membership otherwise.
func (m *Manager) CheckBlacklist(ip string) (*models.BlacklistEntry, bool, error) {
	entry, err := m.blacklist.Lookup(ip)
	if err != nil {
		return nil, false, err
	}
	if entry != nil {
		return entry, true, nil
	}
	ok, err := m.blacklist.Contains(ip)
	return nil, ok, err
}

// HighRisk lists stored IPs scoring below threshold or blacklisted.
func (m *Manager) HighRisk(threshold int) ([]string, error) {
	if m.repo == nil {
		return nil, nil
	}
	return m.repo.HighRisk(threshold)
}
