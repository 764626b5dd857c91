package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/EKaterinaTR/winm/command"
	"github.com/EKaterinaTR/winm/event"
	"github.com/EKaterinaTR/winm/graphstore"
	"github.com/EKaterinaTR/winm/llmtask"
	"github.com/EKaterinaTR/winm/metric"
	"github.com/EKaterinaTR/winm/projector"
	"github.com/EKaterinaTR/winm/resultstore"
)

// loopbackQueue applies published graph events straight to the projector and
// records LLM tasks, standing in for the real queue in handler tests.
type loopbackQueue struct {
	projector *projector.Projector
	tasks     []event.Task
}

func (q *loopbackQueue) Publish(ctx context.Context, subject string, data []byte) error {
	switch subject {
	case event.SubjectGraphTasks:
		return q.projector.Handle(ctx, data)
	case event.SubjectLLMTasks:
		task, err := event.DecodeTask(data)
		if err != nil {
			return err
		}
		q.tasks = append(q.tasks, task)
		return nil
	}
	return nil
}

type fixture struct {
	server  *httptest.Server
	store   *graphstore.Memory
	queue   *loopbackQueue
	results *resultstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := graphstore.NewMemory()
	queue := &loopbackQueue{projector: projector.New(store, nil, nil, logger)}
	results := resultstore.New(0)

	srv := New(
		command.NewHandler(store, queue, nil, logger),
		store,
		llmtask.NewDispatcher(queue, logger),
		results,
		metric.NewRegistry(),
		rate.NewLimiter(rate.Inf, 0),
		logger,
	)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &fixture{server: ts, store: store, queue: queue, results: results}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestCreateProjectRead(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "POST", "/api/locations", `{"name": "  Tavern  ", "description": "smoky"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "accepted", body["status"])

	accepted := body["payload"].(map[string]any)
	id := accepted["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "Tavern", accepted["name"])

	// The loopback queue projected the event synchronously.
	resp, body = f.do(t, "GET", "/api/locations/"+id, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Tavern", body["name"])
	assert.Equal(t, "smoky", body["description"])

	resp, body = f.do(t, "GET", "/api/locations", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"], 1)
}

func TestCreateValidationAndConflict(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "POST", "/api/locations", `{"name": "   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	resp, _ = f.do(t, "POST", "/api/locations", `{"name": "Tavern"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body = f.do(t, "POST", "/api/locations", `{"name": " TAVERN "}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, float64(http.StatusConflict), body["status"])

	resp, _ = f.do(t, "POST", "/api/locations", `{broken`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetUnknownEntity(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, "GET", "/api/characters/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateFlow(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, "POST", "/api/concepts", `{"name": "Honor", "description": "ideal"}`)
	id := body["payload"].(map[string]any)["id"].(string)

	resp, _ := f.do(t, "PATCH", "/api/concepts/"+id, `{"description": "guiding ideal"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	_, body = f.do(t, "GET", "/api/concepts/"+id, "")
	assert.Equal(t, "guiding ideal", body["description"])
	assert.Equal(t, "Honor", body["name"])

	resp, _ = f.do(t, "PATCH", "/api/concepts/"+id, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSceneRoutesReconstructRelationships(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, "POST", "/api/locations", `{"name": "Tavern"}`)
	locID := body["payload"].(map[string]any)["id"].(string)
	_, body = f.do(t, "POST", "/api/characters", `{"name": "Mira"}`)
	chID := body["payload"].(map[string]any)["id"].(string)

	resp, body := f.do(t, "POST", "/api/story/scenes",
		`{"title": "Opening Night", "location_id": "`+locID+`", "character_ids": ["`+chID+`"]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sceneID := body["payload"].(map[string]any)["id"].(string)

	_, body = f.do(t, "GET", "/api/story/scenes/"+sceneID, "")
	assert.Equal(t, "Opening Night", body["title"])
	assert.Equal(t, locID, body["location_id"])
	assert.Equal(t, []any{chID}, body["character_ids"])

	// Clearing the cast with an explicit empty list.
	resp, _ = f.do(t, "PATCH", "/api/story/scenes/"+sceneID, `{"character_ids": []}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	_, body = f.do(t, "GET", "/api/story/scenes/"+sceneID, "")
	assert.Equal(t, []any{}, body["character_ids"])
	assert.Equal(t, locID, body["location_id"])
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t)

	_, _ = f.do(t, "POST", "/api/locations", `{"name": "Rusty Tavern", "description": "a smoky dive"}`)

	resp, body := f.do(t, "GET", "/api/search?q=tavern", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["results"], 1)

	resp, body = f.do(t, "GET", "/api/search?q=", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["results"])
}

func TestSearchRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := graphstore.NewMemory()
	queue := &loopbackQueue{projector: projector.New(store, nil, nil, logger)}

	srv := New(
		command.NewHandler(store, queue, nil, logger),
		store,
		llmtask.NewDispatcher(queue, logger),
		resultstore.New(0),
		nil,
		rate.NewLimiter(rate.Limit(1), 1), // one request, then blocked
		logger,
	)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/search?q=x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/search?q=x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestLLMSubmitAndPoll(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "POST", "/api/llm/answer", `{"question": "Who keeps the tavern?"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	requestID := body["request_id"].(string)
	require.NotEmpty(t, requestID)
	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, event.TaskKnowledge, f.queue.tasks[0].Type)

	// Still in flight: pending, not 404.
	resp, body = f.do(t, "GET", "/api/llm/result/"+requestID, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])

	f.results.Set(event.Result{
		RequestID: requestID, Status: event.StatusDone,
		Type: event.TaskKnowledge, Answer: "Mira", Role: "sage",
	})

	_, body = f.do(t, "GET", "/api/llm/result/"+requestID, "")
	assert.Equal(t, "done", body["status"])
	assert.Equal(t, "Mira", body["answer"])

	// Unknown ids also read as pending.
	_, body = f.do(t, "GET", "/api/llm/result/never-seen", "")
	assert.Equal(t, "pending", body["status"])
}

func TestLLMGenerateResultCarriesPayload(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "POST", "/api/llm/generate", `{"entity_type": "location", "prompt": "a grim fortress"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	requestID := body["request_id"].(string)

	f.results.Set(event.Result{
		RequestID: requestID, Status: event.StatusDone, Type: event.TaskGenerate,
		EntityType: "location",
		Payload:    map[string]any{"name": "Ashen Keep", "description": "ruined"},
	})

	_, body = f.do(t, "GET", "/api/llm/result/"+requestID, "")
	assert.Equal(t, "done", body["status"])
	assert.Equal(t, "location", body["entity_type"])
	payload := body["payload"].(map[string]any)
	assert.Equal(t, "Ashen Keep", payload["name"])

	resp, _ = f.do(t, "POST", "/api/llm/generate", `{"entity_type": "weather", "prompt": "x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndRequestID(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest("GET", f.server.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-42")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "trace-42", resp.Header.Get("X-Request-ID"))

	// Generated when absent.
	resp2, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.NotEmpty(t, resp2.Header.Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	_, _ = f.do(t, "GET", "/health", "")

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "winm_http_requests_total")
}
