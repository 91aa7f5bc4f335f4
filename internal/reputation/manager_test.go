package reputation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"ipreputation/internal/blacklist"
	"ipreputation/internal/config"
	"ipreputation/internal/models"
	"ipreputation/internal/repository"
	"ipreputation/internal/rules"

	"github.com/alicebob/miniredis/v2"
)

// stubProvider records lookups and serves canned results.
type stubProvider struct {
	calls  int64
	result *models.GeoResult
	err    error
}

func (s *stubProvider) Lookup(ctx context.Context, ip string) (*models.GeoResult, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	res := *s.result
	res.IP = ip
	return &res, nil
}

func franceResult() *models.GeoResult {
	return &models.GeoResult{
		Location: &models.LocationInfo{
			Type:        "IPv4",
			Country:     "France",
			CountryCode: "FR",
			Continent:   "Europe",
			IsEU:        true,
			Latitude:    48.85,
			Longitude:   2.35,
		},
		Connection: &models.ConnectionInfo{
			ASN:    3215,
			Org:    "Orange",
			ISP:    "Orange",
			Domain: "orange.fr",
		},
		Timezone: &models.TimezoneInfo{ID: "Europe/Paris"},
	}
}

func newTestManager(t *testing.T, provider *stubProvider) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	port, _ := strconv.Atoi(mr.Port())
	repo := repository.NewRedisRepository(mr.Host(), port, "", 0)
	cfg := &config.Config{BaseScore: 100, HighRiskThreshold: 50}
	return NewManager(cfg, blacklist.New(), provider, repo, rules.NewSystem())
}

func TestManager_BlacklistShortCircuit(t *testing.T) {
	provider := &stubProvider{result: franceResult()}
	m := newTestManager(t, provider)

	err := m.Blacklist().AddEntry(models.BlacklistEntry{IP: "203.0.113.5", Reason: models.ReasonAbuse})
	if err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}

	analysis, err := m.AnalyzeIP(context.Background(), "203.0.113.5")
	if err != nil {
		t.Fatalf("AnalyzeIP failed: %v", err)
	}

	if analysis.Status != models.StatusBlacklisted {
		t.Errorf("expected blacklisted status, got %s", analysis.Status)
	}
	if analysis.Score.TotalScore != 0 || !analysis.Score.Blacklisted {
		t.Errorf("expected zero blacklisted score, got %+v", analysis.Score)
	}
	if len(analysis.Score.Factors) != 1 || analysis.Score.Factors[0] != "IP is blacklisted" {
		t.Errorf("unexpected factors: %v", analysis.Score.Factors)
	}
	if analysis.BlacklistEntry == nil || analysis.BlacklistEntry.Reason != models.ReasonAbuse {
		t.Errorf("expected the abuse entry in the response, got %+v", analysis.BlacklistEntry)
	}
	if atomic.LoadInt64(&provider.calls) != 0 {
		t.Error("blacklisted IP must never trigger a geo lookup")
	}

	// The zero score is persisted under the IP
	stored, err := m.Store().GetScore("203.0.113.5")
	if err != nil {
		t.Fatalf("blacklisted score was not persisted: %v", err)
	}
	if !stored.Blacklisted {
		t.Error("persisted score should carry the blacklisted flag")
	}
}

func TestManager_ActivePipeline(t *testing.T) {
	provider := &stubProvider{result: franceResult()}
	m := newTestManager(t, provider)

	err := m.Rules().AddRule(rules.PointRule{Attribute: "is_eu", Value: true, Points: 20})
	if err != nil {
		t.Fatal(err)
	}

	analysis, err := m.AnalyzeIP(context.Background(), "1.2.3.4")
	if err != nil {
		t.Fatalf("AnalyzeIP failed: %v", err)
	}

	if analysis.Status != models.StatusActive {
		t.Errorf("expected active status, got %s", analysis.Status)
	}
	// Base score 100 + is_eu rule 20
	if analysis.Score.TotalScore != 120 {
		t.Errorf("expected total 120, got %d", analysis.Score.TotalScore)
	}
	if analysis.Score.AttributeScores["is_eu"] != 20 {
		t.Errorf("unexpected breakdown: %v", analysis.Score.AttributeScores)
	}
	if analysis.Location == nil || analysis.Location.Country != "France" {
		t.Errorf("expected location block in response, got %+v", analysis.Location)
	}
	if analysis.Timezone == nil || analysis.Timezone.ID != "Europe/Paris" {
		t.Errorf("expected timezone block, got %+v", analysis.Timezone)
	}

	stored, err := m.Store().GetScore("1.2.3.4")
	if err != nil {
		t.Fatalf("score was not persisted: %v", err)
	}
	if stored.TotalScore != 120 {
		t.Errorf("persisted total mismatch: %d", stored.TotalScore)
	}
}

func TestManager_ProxyPenalty(t *testing.T) {
	result := franceResult()
	result.Connection.Domain = "exit-node.tor"
	provider := &stubProvider{result: result}
	m := newTestManager(t, provider)

	analysis, err := m.AnalyzeIP(context.Background(), "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}

	if analysis.Score.TotalScore != 80 {
		t.Errorf("expected 100-20=80, got %d", analysis.Score.TotalScore)
	}
	if analysis.Score.AttributeScores["proxy_penalty"] != -20 {
		t.Errorf("expected proxy_penalty -20 in breakdown, got %v", analysis.Score.AttributeScores)
	}
	found := false
	for _, f := range analysis.Score.Factors {
		if strings.Contains(f, "Proxy/VPN") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected proxy factor, got %v", analysis.Score.Factors)
	}
}

func TestManager_ScoreClampedAtZero(t *testing.T) {
	provider := &stubProvider{result: franceResult()}
	m := newTestManager(t, provider)
	m.cfg.BaseScore = 10

	_ = m.Rules().AddRule(rules.PointRule{Attribute: "country", Value: "France", Points: -100})

	analysis, err := m.AnalyzeIP(context.Background(), "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if analysis.Score.TotalScore != 0 {
		t.Errorf("total must clamp at zero, got %d", analysis.Score.TotalScore)
	}
}

func TestManager_LookupFailure(t *testing.T) {
	provider := &stubProvider{err: fmt.Errorf("%w: API error: Reserved range", models.ErrLookupFailed)}
	m := newTestManager(t, provider)

	_, err := m.AnalyzeIP(context.Background(), "1.2.3.4")
	if !errors.Is(err, models.ErrLookupFailed) {
		t.Fatalf("expected ErrLookupFailed, got %v", err)
	}
	// The provider's message is surfaced verbatim, never swallowed
	if !strings.Contains(err.Error(), "Reserved range") {
		t.Errorf("provider message missing from error: %v", err)
	}
	// No partial score is persisted
	if _, err := m.Store().GetScore("1.2.3.4"); !errors.Is(err, models.ErrNotFound) {
		t.Error("a failed lookup must not persist a score")
	}
}

func TestManager_InvalidAddress(t *testing.T) {
	m := newTestManager(t, &stubProvider{result: franceResult()})

	if _, err := m.AnalyzeIP(context.Background(), "not-an-ip"); !errors.Is(err, models.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestManager_BulkAnalyze(t *testing.T) {
	provider := &stubProvider{result: franceResult()}
	m := newTestManager(t, provider)

	results := m.BulkAnalyze(context.Background(), []string{"1.2.3.4", "bogus", "5.6.7.8"})
	if len(results) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(results))
	}
	if results["1.2.3.4"].Status != models.StatusActive {
		t.Errorf("expected active for 1.2.3.4, got %s", results["1.2.3.4"].Status)
	}
	if results["bogus"].Status != models.StatusError || results["bogus"].Error == "" {
		t.Errorf("expected error outcome for bogus, got %+v", results["bogus"])
	}
	if results["5.6.7.8"].Status != models.StatusActive {
		t.Error("failures must not abort the batch")
	}
}

func TestManager_HighRisk(t *testing.T) {
	provider := &stubProvider{result: franceResult()}
	m := newTestManager(t, provider)

	_ = m.Rules().AddRule(rules.PointRule{Attribute: "country", Value: "France", Points: -80})
	if _, err := m.AnalyzeIP(context.Background(), "1.2.3.4"); err != nil {
		t.Fatal(err)
	}
	_ = m.Blacklist().AddEntry(models.BlacklistEntry{IP: "203.0.113.5", Reason: models.ReasonSpam})
	if _, err := m.AnalyzeIP(context.Background(), "203.0.113.5"); err != nil {
		t.Fatal(err)
	}

	ips, err := m.HighRisk(50)
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, ip := range ips {
		found[ip] = true
	}
	// 100-80=20 is below threshold; the blacklisted IP qualifies via flag
	if !found["1.2.3.4"] || !found["203.0.113.5"] {
		t.Errorf("expected both IPs flagged, got %v", ips)
	}
}

func TestManager_ReloadRules(t *testing.T) {
	provider := &stubProvider{result: franceResult()}
	m := newTestManager(t, provider)

	path := filepath.Join(t.TempDir(), "rules.json")
	sys := rules.NewSystem()
	_ = sys.AddRule(rules.PointRule{Attribute: "is_eu", Value: true, Points: 30})
	if err := sys.Save(path); err != nil {
		t.Fatal(err)
	}

	if err := m.ReloadRules(path); err != nil {
		t.Fatalf("ReloadRules failed: %v", err)
	}

	analysis, err := m.AnalyzeIP(context.Background(), "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if analysis.Score.TotalScore != 130 {
		t.Errorf("expected 130 after reload, got %d", analysis.Score.TotalScore)
	}
}
