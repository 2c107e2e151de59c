package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRerank(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "我的名字", req.Query)
		assert.Len(t, req.Texts, 3)

		results := []Result{
			{Index: 2, Score: 0.95},
			{Index: 0, Score: 0.41},
			{Index: 1, Score: 0.12},
		}
		_ = json.NewEncoder(w).Encode(results)
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second)
	results, err := c.Rerank(context.Background(), "我的名字", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 2, results[0].Index)
	assert.InDelta(t, 0.95, results[0].Score, 1e-9)
}

func TestRerank_EmptyTexts(t *testing.T) {
	c := NewClient("http://unused", time.Second)
	results, err := c.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestRerank_DropsOutOfRangeIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		results := []Result{
			{Index: 0, Score: 0.9},
			{Index: 7, Score: 0.8},
			{Index: -1, Score: 0.7},
		}
		_ = json.NewEncoder(w).Encode(results)
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second)
	results, err := c.Rerank(context.Background(), "q", []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Index)
}

func TestRerank_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	_, err := c.Rerank(context.Background(), "q", []string{"a"})
	assert.Error(t, err)
}

func TestRerank_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode([]Result{})
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Rerank(ctx, "q", []string{"a"})
	assert.Error(t, err)
}
