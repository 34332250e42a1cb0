package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/register-extractor/internal/config"
	"github.com/spherical/register-extractor/internal/domain"
	"github.com/spherical/register-extractor/internal/llm"
	"github.com/spherical/register-extractor/internal/observability"
)

type cannedCompleter struct{}

func (cannedCompleter) Complete(context.Context, *llm.Prompt) (string, error) {
	return `{"registers":[],"confidence":0.5}`, nil
}

func (cannedCompleter) Name() string { return "canned" }

func TestNew_WiresPipeline(t *testing.T) {
	cfg := config.DefaultConfig()

	a, err := New(context.Background(), cfg, observability.NopLogger(), Options{Completer: cannedCompleter{}})
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Orchestrator)
	assert.NotNil(t, a.Orchestrator.Results())
	assert.NotNil(t, a.Analyzer)
	assert.NotNil(t, a.Limiter)
	assert.NoError(t, a.Ready(context.Background()))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"service":"register-extractor"`)
}

func TestNew_AnalyzeOnlyNeedsNoProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = ""
	cfg.RateLimit.Enabled = false

	a, err := New(context.Background(), cfg, observability.NopLogger(), Options{AnalyzeOnly: true})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Orchestrator)
	assert.Nil(t, a.Limiter)
	assert.NotNil(t, a.Analyzer)
}

func TestNew_MissingAPIKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = ""

	_, err := New(context.Background(), cfg, observability.NopLogger(), Options{})
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}

func TestNew_RedisLimiterRequiresRedis(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimit.Store = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg, observability.NopLogger(), Options{Completer: cannedCompleter{}})
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}

func TestNew_UnreachableCacheRedisDegrades(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.RedisEnabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	a, err := New(context.Background(), cfg, observability.NopLogger(), Options{Completer: cannedCompleter{}})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.redis)
	assert.NoError(t, a.Ready(context.Background()))
}
