package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agri-rag/server/internal/agent/model"
	"github.com/agri-rag/server/internal/core"
	errx "github.com/agri-rag/server/internal/core/error"
)

type fakeRunner struct {
	mu     sync.Mutex
	inputs []model.TurnInput
	result model.TurnResult
	err    error
}

func (f *fakeRunner) Invoke(_ context.Context, in model.TurnInput) (model.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return model.TurnResult{}, f.err
	}
	r := f.result
	r.ThreadID = in.ThreadID
	return r, nil
}

type fakeThreads struct {
	messages map[string][]*schema.Message
	reset    []string
	err      error
}

func (f *fakeThreads) History(_ context.Context, threadID string) ([]*schema.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.messages[threadID], nil
}

func (f *fakeThreads) Reset(_ context.Context, threadID string) error {
	if f.err != nil {
		return f.err
	}
	f.reset = append(f.reset, threadID)
	return nil
}

func newTestServer(runner *fakeRunner, threads Threads) http.Handler {
	return New(Config{Environment: core.Testing}, runner, threads).Handler()
}

func postChat(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestChat(t *testing.T) {
	runner := &fakeRunner{result: model.TurnResult{
		TurnID:     "turn-1",
		Answer:     "Kedah produced 1.2 million tonnes of paddy.",
		Confidence: 0.8,
		Retrieval:  model.RetrievalFound,
	}}
	h := newTestServer(runner, nil)

	w := postChat(t, h, ChatRequest{ThreadID: "t1", Message: "paddy output in Kedah"})
	require.Equal(t, http.StatusOK, w.Code)

	var got model.TurnResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "t1", got.ThreadID)
	assert.Equal(t, "turn-1", got.TurnID)
	assert.Equal(t, "Kedah produced 1.2 million tonnes of paddy.", got.Answer)
	assert.Equal(t, model.RetrievalFound, got.Retrieval)
	require.Len(t, runner.inputs, 1)
	assert.Equal(t, "paddy output in Kedah", runner.inputs[0].Message)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestChat_NewThread(t *testing.T) {
	runner := &fakeRunner{}
	h := newTestServer(runner, nil)

	w := postChat(t, h, map[string]string{"message": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, runner.inputs, 1)
	_, err := uuid.Parse(runner.inputs[0].ThreadID)
	assert.NoError(t, err)
}

func TestChat_MissingMessage(t *testing.T) {
	runner := &fakeRunner{}
	h := newTestServer(runner, nil)

	w := postChat(t, h, map[string]string{"thread_id": "t1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, runner.inputs)
}

func TestChat_Errors(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "collaborator",
			err:     fmt.Errorf("error evaluating answer: %w", errx.WrapCollaborator("judge", errors.New("quota"))),
			status:  http.StatusBadGateway,
			message: errx.CollaboratorErrorMessage,
		},
		{
			name:    "bad request",
			err:     errx.New(errors.New("empty message"), http.StatusBadRequest, "message is required"),
			status:  http.StatusBadRequest,
			message: "message is required",
		},
		{
			name:    "unclassified",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			message: errx.SystemErrorMessage,
		},
		{
			name:    "timeout",
			err:     fmt.Errorf("draft: %w", context.DeadlineExceeded),
			status:  http.StatusGatewayTimeout,
			message: "turn timed out",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestServer(&fakeRunner{err: tc.err}, nil)
			w := postChat(t, h, ChatRequest{ThreadID: "t1", Message: "hi"})
			assert.Equal(t, tc.status, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.message, body["error"])
			assert.NotContains(t, body["error"], "quota")
		})
	}
}

func TestThreads(t *testing.T) {
	threads := &fakeThreads{messages: map[string][]*schema.Message{
		"t1": {schema.UserMessage("hi"), schema.AssistantMessage("hello", nil)},
	}}
	h := newTestServer(&fakeRunner{}, threads)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/threads/t1/messages", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ThreadID string `json:"thread_id"`
		Count    int    `json:"count"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "t1", body.ThreadID)
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "user", body.Messages[0].Role)
	assert.Equal(t, "hello", body.Messages[1].Content)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/threads/t1", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"t1"}, threads.reset)
}

func TestThreads_StoreFailure(t *testing.T) {
	threads := &fakeThreads{err: errx.WrapRedis(errors.New("connection refused"))}
	h := newTestServer(&fakeRunner{}, threads)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/threads/t1/messages", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), errx.RedisErrorMessage)
}

func TestThreadRoutesDisabled(t *testing.T) {
	h := newTestServer(&fakeRunner{}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/threads/t1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	h := newTestServer(&fakeRunner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))
}
