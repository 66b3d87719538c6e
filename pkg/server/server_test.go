package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestor-home/nestor/pkg/config"
	"github.com/nestor-home/nestor/pkg/observability"
	"github.com/nestor-home/nestor/pkg/planner"
)

type fakeChatter struct {
	response planner.FinalResponse
	inputs   []planner.UserInput
}

func (f *fakeChatter) Run(_ context.Context, input planner.UserInput) planner.FinalResponse {
	f.inputs = append(f.inputs, input)
	return f.response
}

type fakeHealth struct {
	engine bool
	index  bool
}

func (f *fakeHealth) EngineHealthy(context.Context) bool { return f.engine }
func (f *fakeHealth) IndexReady() bool                   { return f.index }

type fakeSyncer struct {
	err   error
	calls int
}

func (f *fakeSyncer) Sync(context.Context) error {
	f.calls++
	return f.err
}

func newTestServer(t *testing.T, chatter *fakeChatter, health *fakeHealth, syncer *fakeSyncer) *httptest.Server {
	t.Helper()
	cfg := &config.ServerConfig{MetricsEnabled: true}
	cfg.SetDefaults()

	srv := New(cfg, chatter, health, syncer, observability.NoopManager())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestChatRejectsBadJSON(t *testing.T) {
	ts := newTestServer(t, &fakeChatter{}, &fakeHealth{}, &fakeSyncer{})

	resp := postJSON(t, ts.URL+"/chat", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	chatter := &fakeChatter{}
	ts := newTestServer(t, chatter, &fakeHealth{}, &fakeSyncer{})

	resp := postJSON(t, ts.URL+"/chat", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, chatter.inputs)
}

func TestChatConversationalResponse(t *testing.T) {
	chatter := &fakeChatter{response: planner.FinalResponse{Message: "You have two lights."}}
	ts := newTestServer(t, chatter, &fakeHealth{}, &fakeSyncer{})

	resp := postJSON(t, ts.URL+"/chat", `{"message":"what lights do I have?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body chatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "You have two lights.", body.Message)
	assert.Nil(t, body.CodeProposal)
}

func TestChatProposalWireShape(t *testing.T) {
	chatter := &fakeChatter{response: planner.FinalResponse{
		Message: "Here is your automation.",
		CodeProposal: &planner.CodeProposal{
			Summary: "Turns the light on at sunset.",
			Files: []planner.FileProposal{
				{Code: "code", Filename: "night_lights.star", Kind: planner.FileKindAutomation},
			},
		},
	}}
	ts := newTestServer(t, chatter, &fakeHealth{}, &fakeSyncer{})

	resp := postJSON(t, ts.URL+"/chat", `{"message":"lights at sunset"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	proposal := body["code_proposal"].(map[string]interface{})
	assert.Equal(t, "Turns the light on at sunset.", proposal["summary"])

	files := proposal["files"].([]interface{})
	require.Len(t, files, 1)
	file := files[0].(map[string]interface{})
	assert.Equal(t, "night_lights.star", file["filename"])
	assert.Equal(t, "automation", file["type"])
	assert.Equal(t, "code", file["code"])
}

func TestChatCarriesHistoryAndAutomationID(t *testing.T) {
	chatter := &fakeChatter{response: planner.FinalResponse{Message: "ok"}}
	ts := newTestServer(t, chatter, &fakeHealth{}, &fakeSyncer{})

	postJSON(t, ts.URL+"/chat", `{
		"message": "make it dimmer",
		"conversation_history": [{"role":"user","content":"lights at sunset"}],
		"existing_automation_id": "night_lights"
	}`)

	require.Len(t, chatter.inputs, 1)
	history := chatter.inputs[0].History
	require.Len(t, history, 2)
	assert.Equal(t, "lights at sunset", history[0].Content)
	assert.Contains(t, history[1].Content, `"night_lights"`)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &fakeChatter{}, &fakeHealth{engine: true, index: false}, &fakeSyncer{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["engine"])
	assert.Equal(t, false, body["embedder"])
}

func TestIndexSync(t *testing.T) {
	syncer := &fakeSyncer{}
	ts := newTestServer(t, &fakeChatter{}, &fakeHealth{}, syncer)

	resp := postJSON(t, ts.URL+"/internal/index/sync", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, syncer.calls)
}

func TestIndexSyncFailure(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("embedder offline")}
	ts := newTestServer(t, &fakeChatter{}, &fakeHealth{}, syncer)

	resp := postJSON(t, ts.URL+"/internal/index/sync", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "embedder offline")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, &fakeChatter{}, &fakeHealth{}, &fakeSyncer{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsDisabled(t *testing.T) {
	cfg := &config.ServerConfig{}
	cfg.SetDefaults()
	srv := New(cfg, &fakeChatter{}, &fakeHealth{}, &fakeSyncer{}, observability.NoopManager())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
