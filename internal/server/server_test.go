package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sundialhq/sundial/internal/config"
	"github.com/sundialhq/sundial/internal/engine"
	"github.com/sundialhq/sundial/internal/llm"
	"github.com/sundialhq/sundial/internal/notify"
	"github.com/sundialhq/sundial/internal/scheduler"
	"github.com/sundialhq/sundial/internal/server"
	"github.com/sundialhq/sundial/internal/storage/sqlite"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (stubEmbedder) GetModel() string { return "stub-embedder" }

type stubGenerator struct{}

func (stubGenerator) Complete(_ context.Context, _ string) (string, error) {
	return `{"people":[],"preferences":[],"facts":[],"events":[]}`, nil
}

func (stubGenerator) GetModel() string { return "stub-generator" }

// startTestServer starts a server backed by an in-memory SQLite store and
// returns its base URL. Shutdown is registered with t.Cleanup.
func startTestServer(t *testing.T, cfg *config.Config) string {
	t.Helper()

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	cfg.Server.Port = 0

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err, "failed to create in-memory SQLite store")

	retrieval := config.RetrievalConfig{
		Alpha: 0.5, Beta: 0.2, Gamma: 0.3,
		HalfLife: 168 * time.Hour, SearchK: 5, CandidateLimit: 256,
	}
	decay := config.DecayConfig{
		CleanupInterval: time.Hour,
		ImportanceFloor: 0.05,
		Inactivity:      720 * time.Hour,
	}

	episodic := engine.NewEpisodicService(store, stubEmbedder{}, nil, retrieval, decay, 3)
	graph := engine.NewEntityGraph(store, stubEmbedder{}, nil, 0.9)
	aggregator := engine.NewContextAggregator(episodic, graph, nil, nil, nil, nil, time.Second)
	pipeline := engine.NewExtractionPipeline(llm.NewExtractor(stubGenerator{}), episodic, graph)
	notifier := notify.NewNotifier(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())

	addr, hub, err := server.Start(ctx, cfg, server.Services{
		Episodic:   episodic,
		Graph:      graph,
		Aggregator: aggregator,
		Pipeline:   pipeline,
		Scheduler:  scheduler.New(store, nil, notifier, time.Minute),
	})
	require.NoError(t, err, "server failed to start")
	require.NotNil(t, hub)

	t.Cleanup(func() {
		cancel()
		pipeline.Close()
		time.Sleep(50 * time.Millisecond)
		_ = store.Close()
	})

	return "http://" + addr
}

func TestServerStartsOnRandomPort(t *testing.T) {
	cfg := &config.Config{}
	base := startTestServer(t, cfg)

	assert.NotEqual(t, "http://127.0.0.1:0", base)

	resp, err := http.Get(base + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestServerSecurityHeaders(t *testing.T) {
	base := startTestServer(t, &config.Config{})

	resp, err := http.Get(base + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestServerAuthProtectsAPI(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.APIToken = "secret-token"
	cfg.Server.RateLimit = 100
	cfg.Server.RateBurst = 100
	base := startTestServer(t, cfg)

	// Health stays open
	resp, err := http.Get(base + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// API without token is rejected
	resp, err = http.Get(base + "/api/tasks?thread_id=t1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// With the token it is allowed
	req, err := http.NewRequest(http.MethodGet, base+"/api/tasks?thread_id=t1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerMemoryRoundTrip(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.RateLimit = 100
	cfg.Server.RateBurst = 100
	base := startTestServer(t, cfg)

	payload, _ := json.Marshal(map[string]interface{}{
		"thread_id":  "t1",
		"content":    "moved to Lisbon last spring",
		"importance": 0.8,
	})
	resp, err := http.Post(base+"/api/memories", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ID)

	resp, err = http.Get(fmt.Sprintf("%s/api/search?thread_id=t1&q=%s", base, "lisbon"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "moved to Lisbon")
}

func TestServerZeroRateLimitConfigStillServes(t *testing.T) {
	// A zero-value config must fall back to the default limiter instead of
	// rejecting every request.
	base := startTestServer(t, &config.Config{})

	for i := 0; i < 5; i++ {
		resp, err := http.Get(base + "/api/health")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestServerRateLimit(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.RateLimit = 1
	cfg.Server.RateBurst = 2
	base := startTestServer(t, cfg)

	limited := false
	for i := 0; i < 5; i++ {
		resp, err := http.Get(base + "/api/health")
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	assert.True(t, limited, "expected at least one rate-limited response")
}
