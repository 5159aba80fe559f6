package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-queue/internal/config"
	"github.com/JakeFAU/scrape-queue/internal/lookup"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server:    config.ServerConfig{Port: 8080, RequestTimeout: 5 * time.Second},
		Request:   config.RequestConfig{KeyLength: 11},
		Scheduler: config.SchedulerConfig{Concurrency: 2, ExecutionTimeout: time.Minute},
		Jobs:      config.JobsConfig{TTL: time.Hour},
		Cache:     config.CacheConfig{Enabled: true, TTL: time.Minute},
		GC:        config.GCConfig{Interval: time.Minute},
		Browser:   config.BrowserConfig{Headless: true, UserAgent: "scrapequeue-test"},
		Executor: config.ExecutorConfig{
			TargetURL:        "https://registry.example.gov/search",
			InputSelector:    "#doc",
			SubmitSelector:   "#go",
			ResultSelector:   "table.result",
			NotFoundSelector: ".empty",
		},
		Storage:  config.StorageConfig{Backend: config.StorageLocal, LocalDir: t.TempDir(), Prefix: "results"},
		Progress: config.ProgressConfig{LogEvents: true, MaxBatchWait: 10 * time.Millisecond},
		Logging:  config.LoggingConfig{Level: "error"},
	}
}

func TestBuildWiresHTTPSurface(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	require.NotNil(t, a.progressHub, "log and archive sinks start the hub")
	require.Nil(t, a.outcomes)
	require.Nil(t, a.pubsubClient)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.EqualValues(t, 2, health["ceiling"])
	require.EqualValues(t, 0, health["jobs"])
	browser, ok := health["browser"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, false, browser["ready"], "the browser is launched lazily")

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/lookups/123", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildWithoutCacheOrSinks(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Cache.Enabled = false
	cfg.Storage.Backend = config.StorageNone
	cfg.Progress.LogEvents = false

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	require.Nil(t, a.cache)
	require.Nil(t, a.progressHub)
}

func TestBuildRejectsIncompleteExecutor(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Executor.ResultSelector = ""

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "executor init failed")
}

func TestBuildRejectsBadLogLevel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Logging.Level = "shouting"

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "logger init failed")
}

func TestLookupOnceValidatesKey(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	_, err = a.LookupOnce(context.Background(), "12-34")
	require.ErrorIs(t, err, lookup.ErrInvalidKey)
	require.Equal(t, lookup.KindValidation, lookup.KindOf(err))
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)

	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/lookups/12345678901", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
