package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/solgraph/services/clustering/collab"
	"github.com/AleutianAI/solgraph/services/clustering/collab/collabtest"
	"github.com/AleutianAI/solgraph/services/clustering/events"
	"github.com/AleutianAI/solgraph/services/clustering/manager"
	"github.com/AleutianAI/solgraph/services/clustering/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testManager() *manager.Manager {
	return manager.New(manager.Deps{
		Graph: collab.GraphCollaborators{
			Embedder:      collabtest.NewEmbedder(),
			StepJudge:     collabtest.SameText(),
			SolutionJudge: collabtest.SameText(),
			Splitter:      collabtest.LineSplitter(),
			Summarizer:    collabtest.Echo(),
		},
		Tree: collab.TreeCollaborators{
			Matcher:  collabtest.NoMatch(),
			Prefixer: collabtest.WordPrefix(),
		},
	}, manager.DefaultConfig())
}

func TestSetupRoutes_RegistersEveryRoute(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, testManager(), Options{
		Events:  events.NewBus(nil),
		Metrics: promhttp.Handler(),
	})

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"GET", "/v1/assignments"},
		{"POST", "/v1/assignments/:assignmentId/solutions"},
		{"GET", "/v1/assignments/:assignmentId/graph"},
		{"GET", "/v1/assignments/:assignmentId/tree"},
		{"GET", "/v1/events/ws"},
	}
	routes := router.Routes()
	for _, e := range expected {
		found := false
		for _, r := range routes {
			if r.Method == e.method && r.Path == e.path {
				found = true
				break
			}
		}
		assert.True(t, found, "route %s %s not registered", e.method, e.path)
	}
}

func TestSetupRoutes_OptionalRoutes(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, testManager(), Options{})

	for _, r := range router.Routes() {
		assert.NotEqual(t, "/metrics", r.Path)
		assert.NotEqual(t, "/v1/events/ws", r.Path)
	}
}

func TestSetupRoutes_MetricsExposeEngineCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	m.StepCreated()

	router := gin.New()
	SetupRoutes(router, testManager(), Options{
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "solgraph_engine_steps_created_total 1")
}

func TestSetupRoutes_TokenGuardsAPIOnly(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, testManager(), Options{APIToken: "s3cret"})

	get := func(path, auth string) int {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get("/health", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/v1/assignments", ""))
	assert.Equal(t, http.StatusOK, get("/v1/assignments", "Bearer s3cret"))
}
