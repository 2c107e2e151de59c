package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/memhub/internal/memhub/biz"
	"github.com/kart-io/memhub/internal/memhub/handler"
	"github.com/kart-io/memhub/internal/memhub/router"
	"github.com/kart-io/memhub/internal/memhub/store"
	"github.com/kart-io/memhub/pkg/llm"
)

type stubVectorStore struct {
	hits []store.SearchHit
}

func (s *stubVectorStore) Insert(_ context.Context, _ string, chunks []store.MemoryChunk, _ [][]float32) (int, error) {
	return len(chunks), nil
}

func (s *stubVectorStore) Search(_ context.Context, _ string, _ []float32, _ int) ([]store.SearchHit, error) {
	return s.hits, nil
}

func (s *stubVectorStore) RowCount(_ context.Context) (int64, error) { return 0, nil }
func (s *stubVectorStore) Ping(_ context.Context) error              { return nil }

type stubEmbedder struct{}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (s *stubEmbedder) EmbedSingle(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (s *stubEmbedder) Name() string { return "stub" }

type noopChat struct{}

func (noopChat) Chat(_ context.Context, _ []llm.Message) (string, error)  { return "", nil }
func (noopChat) Generate(_ context.Context, _, _ string) (string, error)  { return "", nil }
func (noopChat) Name() string                                             { return "noop" }

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	local, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	chunker, err := biz.NewChunker(biz.DefaultChunkSize, biz.DefaultChunkOverlap, biz.DefaultMinChunkSize)
	require.NoError(t, err)

	embedder := &stubEmbedder{}
	chat := noopChat{}
	vectors := &stubVectorStore{hits: []store.SearchHit{
		{ID: 7, Content: "用户在做一个 Go 项目", Score: 0.9, Timestamp: "2026-01-01 10:00:00"},
	}}

	service := biz.NewMemoryService(
		vectors,
		embedder,
		chunker,
		biz.NewRerankChain(nil, embedder, time.Second),
		biz.NewHistoryManager(local, chat, 10, 20),
		biz.NewProfileManager(local, chat),
		nil,
		biz.MemoryServiceConfig{TopK: 10, TopN: 5},
	)

	engine := gin.New()
	router.Register(engine, handler.NewMemoryHandler(service))
	return engine
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

// TestMemoryAPI_Query_Validation 测试查询请求的验证逻辑
func TestMemoryAPI_Query_Validation(t *testing.T) {
	engine := newTestRouter(t)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{
			name:       "缺少 user_id",
			body:       map[string]any{"query": "我的名字"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "缺少 query",
			body:       map[string]any{"user_id": "u1"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "非法时间戳",
			body:       map[string]any{"user_id": "u1", "query": "我的名字", "timestamp": "今天早上"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "合法请求",
			body:       map[string]any{"user_id": "u1", "query": "我的名字"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "带时间戳的合法请求",
			body:       map[string]any{"user_id": "u1", "query": "我的名字", "timestamp": "2026-08-29T10:00:00Z"},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, engine, http.MethodPost, "/v1/memory/query", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestMemoryAPI_Query_返回增强上下文(t *testing.T) {
	engine := newTestRouter(t)

	w := doJSON(t, engine, http.MethodPost, "/v1/memory/query",
		map[string]any{"user_id": "u1", "query": "我最近在做什么"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Code int               `json:"code"`
		Data *biz.QueryResult  `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Code)
	require.NotNil(t, resp.Data)
	assert.NotEmpty(t, resp.Data.AugmentedContext)
	require.Len(t, resp.Data.RetrievedChunks, 1)

	meta := resp.Data.RetrievedChunks[0].Metadata
	require.NotNil(t, meta)
	assert.Equal(t, "2026-01-01 10:00:00", meta["timestamp"])
	assert.Equal(t, "u1", meta["user_id"])
	assert.Equal(t, float64(7), meta["id"])
}

func TestMemoryAPI_Upload(t *testing.T) {
	engine := newTestRouter(t)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{
			name:       "缺少 user_id",
			body:       map[string]any{"messages": []map[string]string{{"role": "user", "content": "你好"}}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "messages 与 files 同时为空",
			body:       map[string]any{"user_id": "u1"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "非法时间戳",
			body:       map[string]any{"user_id": "u1", "timestamp": "昨天", "messages": []map[string]string{{"role": "user", "content": "你好"}}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "合法上传",
			body: map[string]any{
				"user_id":  "u1",
				"messages": []map[string]string{{"role": "user", "content": "帮我记住我在学习分布式系统"}},
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, engine, http.MethodPost, "/v1/memory/upload", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestMemoryAPI_Upload_响应不报告画像更新(t *testing.T) {
	engine := newTestRouter(t)

	w := doJSON(t, engine, http.MethodPost, "/v1/memory/upload", map[string]any{
		"user_id":  "u1",
		"messages": []map[string]string{{"role": "user", "content": "我喜欢爬山和摄影"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data *biz.UploadResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Data)
	assert.False(t, resp.Data.ProfileUpdated)
	assert.Greater(t, resp.Data.ChunksStored, 0)
}

func TestMemoryAPI_StatsAndHealthz(t *testing.T) {
	engine := newTestRouter(t)

	w := doJSON(t, engine, http.MethodGet, "/v1/memory/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, engine, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}
