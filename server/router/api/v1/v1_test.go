package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hrygo/marketsense/plugin/ai"
	"github.com/hrygo/marketsense/plugin/ai/rag"
	"github.com/hrygo/marketsense/server/auth"
	"github.com/hrygo/marketsense/server/internal/observability"
	"github.com/hrygo/marketsense/server/middleware"
	"github.com/hrygo/marketsense/server/service/answer"
	"github.com/hrygo/marketsense/server/service/conversation"
	"github.com/hrygo/marketsense/store"
	"github.com/hrygo/marketsense/store/cache"
	storetest "github.com/hrygo/marketsense/store/test"
)

const testSecret = "api-test-secret"

type testServer struct {
	echo         *echo.Echo
	service      *APIV1Service
	conversation conversation.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	s := storetest.NewTestingStore(ctx, t)
	_, err := s.UpsertCorpusChunk(ctx, &store.CorpusChunk{
		SourceID:   "kw-boho",
		SourceType: string(store.EntityTypeKeyword),
		Label:      "boho wedding decor",
		Chunk:      "boho wedding decor demand is rising",
		OwnerScope: store.OwnerScopeGlobal,
	})
	require.NoError(t, err)

	generator, err := ai.NewGenerationService(&ai.LLMConfig{Provider: "stub"})
	require.NoError(t, err)
	idempotency := cache.NewMemoryIdempotencyStore(100, time.Minute, time.Hour)
	t.Cleanup(func() { idempotency.Close() })

	conversationService := conversation.NewService(s)
	answerService := answer.NewService(answer.Dependencies{
		Conversation: conversationService,
		Retriever:    rag.NewRetriever(ai.NewHashEmbeddingService(0), s, s, rag.RetrieverOptions{}),
		Generator:    generator,
		Idempotency:  idempotency,
	}, answer.Config{})

	registry := prometheus.NewRegistry()
	httpMetrics, err := observability.NewHTTPMetrics(registry)
	require.NoError(t, err)

	service := &APIV1Service{
		Secret:       testSecret,
		Version:      "test",
		Answer:       answerService,
		Conversation: conversationService,
		HTTPMetrics:  httpMetrics,
		Gatherer:     registry,
	}
	e := echo.New()
	service.Register(e)
	return &testServer{echo: e, service: service, conversation: conversationService}
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateAccessToken(userID, time.Now().Add(time.Hour), []byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func (ts *testServer) do(t *testing.T, method, path, userID, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != "" {
		req.Header.Set(echo.HeaderAuthorization, bearer(t, userID))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"test"}`, rec.Body.String())
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/threads", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/threads", "", "", echo.HeaderAuthorization, "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := auth.GenerateAccessToken("user-a", time.Now().Add(time.Hour), []byte("other-secret"))
	require.NoError(t, err)
	rec = ts.do(t, http.MethodGet, "/api/v1/threads", "", "", echo.HeaderAuthorization, "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/threads", "user-a", "", echo.HeaderXRequestID, "req-123")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(echo.HeaderXRequestID))
}

func TestChatAndThreadLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/chat", "user-a", `{"message":"boho wedding decor market","capability":"market_brief"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[answer.Response](t, rec)
	assert.True(t, resp.Flags.UsedRAG)
	assert.Equal(t, "kw-boho", resp.Sources[0].ID)
	assert.Contains(t, resp.Answer, "[1]")

	rec = ts.do(t, http.MethodGet, "/api/v1/threads", "user-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	threads := decode[listThreadsResponse](t, rec).Threads
	require.Len(t, threads, 1)
	assert.Equal(t, resp.ThreadID, threads[0].ID)
	assert.Equal(t, "boho wedding decor market", threads[0].Title)
	assert.EqualValues(t, 2, threads[0].MessageCount)

	rec = ts.do(t, http.MethodGet, "/api/v1/threads/"+resp.ThreadID+"/messages", "user-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	messages := decode[listMessagesResponse](t, rec).Messages
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, resp.MessageID, messages[1].ID)
	assert.Equal(t, []string{"kw-boho"}, messages[1].SourceIDs)

	// Other users see nothing.
	rec = ts.do(t, http.MethodGet, "/api/v1/threads/"+resp.ThreadID+"/messages", "user-b", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/v1/messages/"+messages[0].ID, "user-b", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/messages/"+messages[0].ID, "user-a", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/threads/"+resp.ThreadID+"/messages", "user-a", "")
	assert.Len(t, decode[listMessagesResponse](t, rec).Messages, 1)

	rec = ts.do(t, http.MethodPost, "/api/v1/threads/"+resp.ThreadID+"/archive", "user-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[Thread](t, rec).Archived)

	rec = ts.do(t, http.MethodGet, "/api/v1/threads", "user-a", "")
	assert.Empty(t, decode[listThreadsResponse](t, rec).Threads)
	rec = ts.do(t, http.MethodGet, "/api/v1/threads?includeArchived=true", "user-a", "")
	assert.Len(t, decode[listThreadsResponse](t, rec).Threads, 1)
	rec = ts.do(t, http.MethodGet, "/api/v1/threads?includeArchived=maybe", "user-a", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_Refusal(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/chat", "user-a", `{"message":"zzzz qqqq"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "I don't have enough data to answer that yet.", body["answer"])
	model := body["model"].(map[string]any)
	assert.Nil(t, model["usage"])
	assert.Equal(t, map[string]any{"usedRag": false, "fallbackToGeneric": false, "insufficientContext": true}, body["flags"])
}

func TestChat_InvalidRequests(t *testing.T) {
	ts := newTestServer(t)

	for name, body := range map[string]string{
		"malformed json":     `{"message":`,
		"empty message":      `{"message":"  "}`,
		"unknown capability": `{"message":"hi","capability":"forecast"}`,
		"bad max tokens":     `{"message":"hi","options":{"maxTokens":5}}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/chat", "user-a", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_ARGUMENT", decode[ErrorResponse](t, rec).Code)
		})
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/chat", "user-a", `{"message":"hi","threadId":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChat_IdempotencyHeader(t *testing.T) {
	ts := newTestServer(t)
	body := `{"message":"boho wedding decor market"}`

	first := ts.do(t, http.MethodPost, "/api/v1/chat", "user-a", body, IdempotencyKeyHeader, "key-1")
	require.Equal(t, http.StatusOK, first.Code)
	second := ts.do(t, http.MethodPost, "/api/v1/chat", "user-a", body, IdempotencyKeyHeader, "key-1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, decode[answer.Response](t, first).MessageID, decode[answer.Response](t, second).MessageID)

	rec := ts.do(t, http.MethodGet, "/api/v1/threads", "user-a", "")
	assert.Len(t, decode[listThreadsResponse](t, rec).Threads, 1)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t)
	ts.service.RateLimiter = middleware.NewRateLimiter(rate.Every(time.Hour), 1)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/threads", "user-a", "").Code)
	rec := ts.do(t, http.MethodGet, "/api/v1/threads", "user-a", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decode[ErrorResponse](t, rec).Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Buckets are per user.
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/threads", "user-b", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/v1/threads", "user-a", "")

	rec := ts.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `marketsense_http_requests_total{method="GET",route="/api/v1/threads",status="200"} 1`)
}
