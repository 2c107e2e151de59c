package biz

import (
	"context"
	"sort"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/memhub/internal/pkg/textutil"
	"github.com/kart-io/memhub/pkg/llm"
	"github.com/kart-io/memhub/pkg/rerank"
)

// DefaultRerankTierTimeout 单层重排策略的超时上限。
// 重排链必须快速降级，缓慢的重排不能拖垮整条流水线。
const DefaultRerankTierTimeout = 3 * time.Second

// RerankerClient 外部重排序服务的最小接口。
type RerankerClient interface {
	Rerank(ctx context.Context, query string, texts []string) ([]rerank.Result, error)
}

// rerankTier 单层重排策略：成功返回重排后的候选，失败返回 error 落入下一层。
type rerankTier struct {
	name string
	run  func(ctx context.Context, query string, candidates []Candidate, topN int) ([]Candidate, error)
}

// RerankChain 三层降级重排链。
//
// 按固定顺序尝试：外部重排服务 → Embedding 余弦相似度 → 原始召回顺序。
// 任何一层的失败都被吞掉落入下一层，整条链保证返回结果，
// 只有输入候选为空时结果才为空。重排从不修改索引中的数据。
type RerankChain struct {
	tiers       []rerankTier
	tierTimeout time.Duration
}

// NewRerankChain 构建重排链。reranker 或 embedder 为 nil 时对应层直接落空。
func NewRerankChain(reranker RerankerClient, embedder llm.EmbeddingProvider, tierTimeout time.Duration) *RerankChain {
	if tierTimeout <= 0 {
		tierTimeout = DefaultRerankTierTimeout
	}

	c := &RerankChain{tierTimeout: tierTimeout}

	if reranker != nil {
		c.tiers = append(c.tiers, rerankTier{name: "reranker", run: c.makeServiceTier(reranker)})
	}
	if embedder != nil {
		c.tiers = append(c.tiers, rerankTier{name: "embedding_cosine", run: c.makeCosineTier(embedder)})
	}

	return c
}

// Rerank 返回按相关性降序的 Top-N 候选，永不失败。
func (c *RerankChain) Rerank(ctx context.Context, query string, candidates []Candidate, topN int) []Candidate {
	if len(candidates) == 0 {
		return []Candidate{}
	}
	if topN <= 0 || topN > len(candidates) {
		topN = len(candidates)
	}

	for _, tier := range c.tiers {
		tierCtx, cancel := context.WithTimeout(ctx, c.tierTimeout)
		ranked, err := tier.run(tierCtx, query, candidates, topN)
		cancel()
		if err == nil {
			logger.Debugw("重排完成", "tier", tier.name, "candidates", len(candidates), "returned", len(ranked))
			return ranked
		}
		logger.Warnw("重排策略失败，降级到下一层", "tier", tier.name, "error", err)
	}

	// 兜底：原始召回顺序
	logger.Warnw("所有重排策略失败，返回原始召回顺序", "candidates", len(candidates))
	out := make([]Candidate, 0, topN)
	for _, cand := range candidates[:topN] {
		cand.Source = SourceRawOrder
		out = append(out, cand)
	}
	return out
}

// makeServiceTier 第一层：外部重排服务。
func (c *RerankChain) makeServiceTier(client RerankerClient) func(context.Context, string, []Candidate, int) ([]Candidate, error) {
	return func(ctx context.Context, query string, candidates []Candidate, topN int) ([]Candidate, error) {
		texts := make([]string, len(candidates))
		for i, cand := range candidates {
			texts[i] = cand.Content
		}

		results, err := client.Rerank(ctx, query, texts)
		if err != nil {
			return nil, err
		}

		sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

		out := make([]Candidate, 0, topN)
		for _, r := range results {
			if len(out) >= topN {
				break
			}
			cand := candidates[r.Index]
			cand.Score = r.Score
			cand.Source = SourceReranker
			out = append(out, cand)
		}
		return out, nil
	}
}

// makeCosineTier 第二层：重新嵌入查询与候选文本，按余弦相似度降序。
func (c *RerankChain) makeCosineTier(embedder llm.EmbeddingProvider) func(context.Context, string, []Candidate, int) ([]Candidate, error) {
	return func(ctx context.Context, query string, candidates []Candidate, topN int) ([]Candidate, error) {
		texts := make([]string, 0, len(candidates)+1)
		texts = append(texts, query)
		for _, cand := range candidates {
			texts = append(texts, cand.Content)
		}

		embeddings, err := embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}

		queryVec := embeddings[0]
		scored := make([]Candidate, len(candidates))
		for i, cand := range candidates {
			cand.Score = textutil.CosineSimilarity(queryVec, embeddings[i+1])
			cand.Source = SourceEmbeddingCosine
			scored[i] = cand
		}

		sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
		return scored[:topN], nil
	}
}
