package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/feedharvest/cache"
	"github.com/use-agent/feedharvest/config"
	"github.com/use-agent/feedharvest/credentials"
	"github.com/use-agent/feedharvest/models"
	"github.com/use-agent/feedharvest/storage"
)

const apiKey = "test-key"

type fakeCollector struct {
	startErr error
	started  []models.RunRequest
	busy     bool
	current  *models.CollectionRun
	last     *models.RunOutcome
	canceled bool
}

func (f *fakeCollector) Start(req models.RunRequest) (*models.CollectionRun, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, req)
	return &models.CollectionRun{ID: "run-1", SentinelUser: req.SentinelUser, Key: "florin_x.json"}, nil
}

func (f *fakeCollector) Cancel() bool {
	if !f.busy {
		return false
	}
	f.canceled = true
	return true
}

func (f *fakeCollector) Busy() bool                      { return f.busy }
func (f *fakeCollector) Current() *models.CollectionRun  { return f.current }
func (f *fakeCollector) LastOutcome() *models.RunOutcome { return f.last }

type testEnv struct {
	router *gin.Engine
	col    *fakeCollector
	store  *storage.LocalStore
	moles  *credentials.Provider
	cache  *cache.Cache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: gin.TestMode},
		Auth:      config.AuthConfig{Enabled: true, APIKeys: []string{apiKey}},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		Collector: config.CollectorConfig{DefaultTarget: 10, ConcurrencyUnit: 4, DefaultRegion: "IL"},
	}
	env := &testEnv{
		col:   &fakeCollector{},
		store: storage.NewLocalStore(t.TempDir()),
		moles: credentials.NewProvider(credentials.EnvSource{Var: "FEEDHARVEST_TEST_UNSET"}, "id", t.TempDir()),
		cache: cache.New(10, time.Hour),
	}
	t.Cleanup(env.cache.Close)
	env.router = NewRouter(Deps{
		Collector: env.col,
		Moles:     env.moles,
		Store:     env.store,
		Cache:     env.cache,
		StartTime: time.Now(),
	}, cfg)
	return env
}

func (e *testEnv) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth_NoAuthAndDegradedWithoutProxy(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/api/v1/health", "", false)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[models.HealthResponse](t, w)
	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.ProxyInitialized)
}

func TestAuth_Required(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/v1/status", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, models.ErrCodeUnauthorized, decode[models.ErrorResponse](t, w).Error.Code)
}

func TestStartCollection_AppliesDefaults(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, "/api/v1/collections", `{"sentinel_user":"florin"}`, true)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	resp := decode[models.CollectionResponse](t, w)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, env.store.Location("florin_x.json"), resp.Destination)

	require.Len(t, env.col.started, 1)
	assert.Equal(t, models.RunRequest{TargetCount: 10, SentinelUser: "florin", ProxyRegion: "IL", Concurrency: 4}, env.col.started[0])
}

func TestStartCollection_ExplicitZeroTarget(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, "/api/v1/collections", `{"sentinel_user":"florin","target_count":0,"concurrency":20,"proxy_region":"RO"}`, true)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	got := env.col.started[0]
	assert.Equal(t, 0, got.TargetCount)
	assert.Equal(t, 20, got.Concurrency, "clamping is the orchestrator's job")
	assert.Equal(t, "RO", got.ProxyRegion)
}

func TestStartCollection_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{models.NewScrapeError(models.ErrCodeBusy, "busy", nil), http.StatusConflict},
		{models.NewScrapeError(models.ErrCodeNotInitialized, "no proxy", nil), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		env := newTestEnv(t)
		env.col.startErr = tc.err
		w := env.do(http.MethodPost, "/api/v1/collections", `{"sentinel_user":"florin"}`, true)
		assert.Equal(t, tc.code, w.Code)
	}
}

func TestStartCollection_InvalidBody(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{`{}`, `{"sentinel_user":"x","proxy_region":"ROU"}`, `{"sentinel_user":"x","target_count":-1}`, `not json`} {
		w := env.do(http.MethodPost, "/api/v1/collections", body, true)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, env.col.started)
}

func TestCancelCollection(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodDelete, "/api/v1/collections/current", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.col.busy = true
	env.col.current = &models.CollectionRun{ID: "run-9"}
	w = env.do(http.MethodDelete, "/api/v1/collections/current", "", true)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, env.col.canceled)
	assert.Equal(t, "run-9", decode[models.CollectionResponse](t, w).RunID)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.moles.AddIdentity("bob", []byte(`{"cookies":[]}`)))
	require.NoError(t, env.moles.AddIdentity("alice", []byte(`{"cookies":[]}`)))
	env.col.busy = true
	env.col.current = &models.CollectionRun{ID: "run-2"}

	w := env.do(http.MethodGet, "/api/v1/status", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[models.StatusResponse](t, w)
	assert.Equal(t, []string{"alice", "bob"}, resp.AvailableMoles)
	assert.True(t, resp.IsCollectionInProgress)
	assert.Equal(t, "run-2", resp.CurrentRun.ID)
}

func TestGetData(t *testing.T) {
	env := newTestEnv(t)
	items := []models.VideoItem{{ID: "42", AuthorUniqueID: "x"}, {ID: "7", AuthorUniqueID: "y"}}
	require.NoError(t, env.store.Save(context.Background(), items, "k.json"))

	w := env.do(http.MethodGet, "/api/v1/data?key=k.json&formatted=true", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[models.DataResponse](t, w)
	assert.Equal(t, "https://www.tiktok.com/@x/video/42\nhttps://www.tiktok.com/@y/video/7", resp.Data)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "miss", resp.CacheStatus)

	w = env.do(http.MethodGet, "/api/v1/data?key=k.json", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[models.DataResponse](t, w)
	assert.Equal(t, "hit", resp.CacheStatus)
	list, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, list, 2)
}

func TestGetData_Errors(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/data", "", true).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/data?key=k.json&formatted=maybe", "", true).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/data?key=missing.json", "", true).Code)
}

func TestMoles(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/moles", `{"name":"florin","content":{"cookies":[],"origins":[]}}`, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, []string{"florin"}, decode[models.MolesResponse](t, w).AvailableMoles)

	w = env.do(http.MethodGet, "/api/v1/moles", "", true)
	assert.Equal(t, []string{"florin"}, decode[models.MolesResponse](t, w).AvailableMoles)

	w = env.do(http.MethodPost, "/api/v1/moles", `{"name":"../etc","content":{}}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodDelete, "/api/v1/moles/florin", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[models.MolesResponse](t, w).AvailableMoles)

	w = env.do(http.MethodDelete, "/api/v1/moles/ghost", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: gin.TestMode},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1},
	}
	c := cache.New(1, time.Hour)
	defer c.Close()
	r := NewRouter(Deps{Collector: &fakeCollector{}, Moles: credentials.NewProvider(nil, "", t.TempDir()), Store: storage.NewLocalStore(t.TempDir()), Cache: c}, cfg)

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/v1/moles", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/v1/moles", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
