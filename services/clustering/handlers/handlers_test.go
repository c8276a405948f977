package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/solgraph/services/clustering/collab"
	"github.com/AleutianAI/solgraph/services/clustering/collab/collabtest"
	"github.com/AleutianAI/solgraph/services/clustering/events"
	"github.com/AleutianAI/solgraph/services/clustering/manager"
	"github.com/AleutianAI/solgraph/services/clustering/render"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, splitter collabtest.SplitterFunc) (*gin.Engine, *manager.Manager) {
	t.Helper()
	if splitter == nil {
		splitter = collabtest.LineSplitter()
	}
	m := manager.New(manager.Deps{
		Graph: collab.GraphCollaborators{
			Embedder:      collabtest.NewEmbedder(),
			StepJudge:     collabtest.SameText(),
			SolutionJudge: collabtest.SameText(),
			Splitter:      splitter,
			Summarizer:    collabtest.Echo(),
		},
		Tree: collab.TreeCollaborators{
			Matcher:  collabtest.FirstWordMatcher(),
			Prefixer: collabtest.WordPrefix(),
		},
	}, manager.DefaultConfig())

	router := gin.New()
	router.GET("/health", HealthCheck)
	router.POST("/a/:assignmentId/solutions", HandleAddSolution(m, slog.Default()))
	router.GET("/a/:assignmentId/graph", HandleGetGraph(m))
	router.GET("/a/:assignmentId/tree", HandleGetTree(m))
	router.GET("/a", HandleListAssignments(m))
	return router, m
}

func do(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// HealthCheck
// =============================================================================

func TestHealthCheck_ReturnsOK(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	w := do(router, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

// =============================================================================
// Solutions
// =============================================================================

func TestAddSolution_AcceptedThenRendered(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := do(router, http.MethodGet, "/a/hw1/graph", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"status":"not_initialized"}`, w.Body.String())

	w = do(router, http.MethodPost, "/a/hw1/solutions", AddSolutionRequest{
		SolutionUID:  "s1",
		SolutionText: "expand\nsimplify",
		IsCorrect:    true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp AddSolutionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.True(t, resp.GraphAccepted)
	assert.True(t, resp.TreeAccepted)

	w = do(router, http.MethodGet, "/a/hw1/graph", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var graph render.Structure
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &graph))
	assert.Equal(t, []string{"START", "END", "expand", "simplify"}, graph.StepSummary)
	assert.Equal(t, []int{0, 2, 3, 1}, graph.Submissions[0].Nodes)
	assert.Contains(t, w.Body.String(), `"submission_uid":"s1"`)

	w = do(router, http.MethodGet, "/a/hw1/tree", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tree render.Structure
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tree))
	assert.Equal(t, "Start of solution", tree.StepSummary[0])

	w = do(router, http.MethodGet, "/a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"assignment_id":"hw1"`)
}

func TestAddSolution_BadRequests(t *testing.T) {
	router, m := newTestRouter(t, nil)

	w := do(router, http.MethodPost, "/a/hw1/solutions", map[string]string{"solution_text": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/a/hw1/solutions", AddSolutionRequest{SolutionUID: "s1", SolutionText: "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"error_code":"empty_solution"`)

	w = do(router, http.MethodPost, "/a/hw%201/solutions", AddSolutionRequest{SolutionUID: "s1", SolutionText: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"error_code":"invalid_submission"`)

	assert.Empty(t, m.Assignments())
}

func TestAddSolution_CollaboratorFailureIs422(t *testing.T) {
	router, _ := newTestRouter(t, func(string, string) ([]string, error) {
		return nil, collabtest.ErrScripted
	})

	w := do(router, http.MethodPost, "/a/hw1/solutions", AddSolutionRequest{SolutionUID: "s1", SolutionText: "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp AddSolutionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rejected", resp.Status)
	assert.Equal(t, "split_failure", resp.ErrorCode)
	assert.False(t, resp.GraphAccepted)
	assert.True(t, resp.TreeAccepted)

	w = do(router, http.MethodGet, "/a/hw1/graph", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(router, http.MethodGet, "/a/hw1/tree", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// =============================================================================
// Event stream
// =============================================================================

func TestEventsWebSocket_StreamsEvents(t *testing.T) {
	bus := events.NewBus(nil)
	router := gin.New()
	router.GET("/ws", HandleEventsWebSocket(bus, 8, slog.Default()))
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	bus.Publish(events.Event{Kind: events.KindSubmissionAccepted, AssignmentID: "hw1", SubmissionUID: "s1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.KindSubmissionAccepted, ev.Kind)
	assert.Equal(t, "s1", ev.SubmissionUID)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return bus.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
