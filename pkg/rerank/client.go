// Package rerank 提供外部重排序服务的 HTTP 客户端。
// 服务接收查询与候选文本列表，返回按相关性打分的索引列表。
package rerank

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kart-io/memhub/pkg/utils/httpclient"
	"github.com/kart-io/memhub/pkg/utils/json"
)

// Result 单条重排序结果，Index 指向请求中 texts 的下标。
type Result struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Client 重排序服务客户端。
type Client struct {
	endpoint string
	client   *httpclient.Client
}

// NewClient 创建重排序客户端。endpoint 为完整的重排序接口地址。
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		client:   httpclient.NewClient(timeout, 0),
	}
}

// Endpoint 返回配置的服务地址。
func (c *Client) Endpoint() string {
	return c.endpoint
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

// Rerank 对候选文本按与查询的相关性重排序。
// 返回的结果按分数降序排列，空文本列表直接返回 nil。
func (c *Client) Rerank(ctx context.Context, query string, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var results []Result
	if err := c.client.DoJSON(req, &results); err != nil {
		return nil, err
	}

	// 丢弃越界下标，服务端行为异常时保持安全
	valid := results[:0]
	for _, r := range results {
		if r.Index >= 0 && r.Index < len(texts) {
			valid = append(valid, r)
		}
	}

	return valid, nil
}
