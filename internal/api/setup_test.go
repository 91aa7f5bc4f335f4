package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"testing"

	"ipreputation/internal/blacklist"
	"ipreputation/internal/config"
	"ipreputation/internal/models"
	"ipreputation/internal/reputation"
	"ipreputation/internal/repository"
	"ipreputation/internal/rules"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubProvider serves a fixed geo result, or fails when err is set.
type stubProvider struct {
	result *models.GeoResult
	err    error
}

func (s *stubProvider) Lookup(ctx context.Context, ip string) (*models.GeoResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	res := *s.result
	res.IP = ip
	return &res, nil
}

func germanyResult() *models.GeoResult {
	return &models.GeoResult{
		Location: &models.LocationInfo{
			Type:        "IPv4",
			Country:     "Germany",
			CountryCode: "DE",
			Continent:   "Europe",
			IsEU:        true,
		},
		Connection: &models.ConnectionInfo{ASN: 3320, ISP: "Deutsche Telekom", Domain: "telekom.de"},
		Timezone:   &models.TimezoneInfo{ID: "Europe/Berlin"},
	}
}

type testStack struct {
	router  *gin.Engine
	handler *APIHandler
	manager *reputation.Manager
	cfg     *config.Config
}

func newTestStack(t *testing.T, provider *stubProvider) *testStack {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	port, _ := strconv.Atoi(mr.Port())
	repo := repository.NewRedisRepository(mr.Host(), port, "", 0)

	dir := t.TempDir()
	cfg := &config.Config{
		BaseScore:         100,
		HighRiskThreshold: 50,
		RulesFile:         dir + "/rules.json",
		BlacklistFile:     dir + "/blacklist.json",
		EntriesFile:       dir + "/entries.json",
	}

	manager := reputation.NewManager(cfg, blacklist.New(), provider, repo, rules.NewSystem())
	handler := NewAPIHandler(cfg, manager, repo, nil)

	router := gin.New()
	handler.RegisterRoutes(router)

	return &testStack{router: router, handler: handler, manager: manager, cfg: cfg}
}

func (s *testStack) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}
