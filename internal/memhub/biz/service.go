package biz

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/memhub/internal/memhub/store"
	"github.com/kart-io/memhub/pkg/infra/pool"
	"github.com/kart-io/memhub/pkg/llm"
)

// 默认检索参数。
const (
	DefaultTopK = 10
	DefaultTopN = 5

	timestampLayout = "2006-01-02 15:04:05"
)

// VectorStore 编排层可见的向量存储能力。
type VectorStore interface {
	Insert(ctx context.Context, tenant string, chunks []store.MemoryChunk, embeddings [][]float32) (int, error)
	Search(ctx context.Context, tenant string, vector []float32, topK int) ([]store.SearchHit, error)
	RowCount(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// MemoryServiceConfig 编排参数。
type MemoryServiceConfig struct {
	TopK int
	TopN int
}

// MemoryService 组合分块、向量检索、重排、历史与画像，
// 对外提供 Query 与 Upload 两个操作。
type MemoryService struct {
	vectors  VectorStore
	embedder llm.EmbeddingProvider
	chunker  *Chunker
	reranker *RerankChain
	history  *HistoryManager
	profiles *ProfileManager
	cache    *QueryCache

	topK int
	topN int
}

// NewMemoryService 创建编排服务。cache 可为 nil。
func NewMemoryService(
	vectors VectorStore,
	embedder llm.EmbeddingProvider,
	chunker *Chunker,
	reranker *RerankChain,
	history *HistoryManager,
	profiles *ProfileManager,
	cache *QueryCache,
	cfg MemoryServiceConfig,
) *MemoryService {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.TopN <= 0 || cfg.TopN > cfg.TopK {
		cfg.TopN = DefaultTopN
	}
	if cache == nil {
		cache = NewQueryCache(nil, nil)
	}

	return &MemoryService{
		vectors:  vectors,
		embedder: embedder,
		chunker:  chunker,
		reranker: reranker,
		history:  history,
		profiles: profiles,
		cache:    cache,
		topK:     cfg.TopK,
		topN:     cfg.TopN,
	}
}

// Query 检索增强上下文。任何外部子系统失败都降级为空段落，
// 本操作对调用方永远返回结构完整的结果。
// at 是调用方声明的查询时间，只进入审计日志，不参与检索。
func (s *MemoryService) Query(ctx context.Context, tenant, queryText string, at time.Time) (*QueryResult, error) {
	start := time.Now()

	tenant = strings.TrimSpace(tenant)
	queryText = strings.TrimSpace(queryText)
	if tenant == "" || queryText == "" {
		return nil, fmt.Errorf("%w: user_id 和 query 不能为空", ErrInvalidInput)
	}
	if at.IsZero() {
		at = time.Now()
	}

	if cached, err := s.cache.Get(ctx, tenant, queryText); err == nil && cached != nil {
		return cached, nil
	}

	// 1. 生成查询向量；失败则跳过向量检索，空候选继续
	var candidates []Candidate
	queryVec, err := s.embedder.EmbedSingle(ctx, queryText)
	if err != nil {
		logger.Warnw("查询向量生成失败，跳过向量检索", "tenant", tenant, "error", err)
	} else {
		// 2. 租户过滤的向量检索
		hits, err := s.vectors.Search(ctx, tenant, queryVec, s.topK)
		if err != nil {
			logger.Warnw("向量检索失败，使用空候选集", "tenant", tenant, "error", err)
		}
		candidates = make([]Candidate, 0, len(hits))
		for _, hit := range hits {
			candidates = append(candidates, Candidate{
				Content: hit.Content,
				Score:   float64(hit.Score),
				Source:  SourceVectorIndex,
				Metadata: map[string]any{
					"timestamp": hit.Timestamp,
					"user_id":   tenant,
					"id":        hit.ID,
				},
			})
		}
	}

	// 3. 三层降级重排
	ranked := s.reranker.Rerank(ctx, queryText, candidates, s.topN)

	// 4. 读取用户画像，缺失时为空串
	profile, err := s.profiles.Read(tenant)
	if err != nil {
		logger.Warnw("读取用户画像失败", "tenant", tenant, "error", err)
		profile = ""
	}

	result := &QueryResult{
		UserProfile:      profile,
		RetrievedChunks:  ranked,
		AugmentedContext: buildAugmentedContext(profile, ranked),
		QueryTimeMs:      time.Since(start).Milliseconds(),
	}

	_ = s.cache.Set(ctx, tenant, queryText, result)

	// 查询审计写在请求路径之外，提交失败直接放弃
	_ = pool.SubmitToType(pool.BackgroundPool, func() { s.history.AuditQuery(tenant, queryText, at) })

	logger.Infow("记忆查询完成",
		"tenant", tenant,
		"candidates", len(candidates),
		"returned", len(ranked),
		"query_time_ms", result.QueryTimeMs)
	return result, nil
}

// Upload 写入新的对话记忆。
//
// 向量路径失败只降低写入计数，本地历史永不因此丢失。
// 画像提取合并调度为后台任务，不阻塞响应，
// ProfileUpdated 始终反映同步完成情况（通常为 false）。
func (s *MemoryService) Upload(ctx context.Context, tenant string, messages []Message, encodedFiles []string, at time.Time) (*UploadResult, error) {
	start := time.Now()

	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return nil, fmt.Errorf("%w: user_id 不能为空", ErrInvalidInput)
	}
	if len(messages) == 0 && len(encodedFiles) == 0 {
		return nil, fmt.Errorf("%w: messages 和 files 不能同时为空", ErrInvalidInput)
	}
	if at.IsZero() {
		at = time.Now()
	}
	timestamp := at.Format(timestampLayout)

	// 1. 归一化输入为纯文本轮次
	turns := normalizeMessages(messages)
	turns = append(turns, decodeBase64Files(encodedFiles)...)
	if len(turns) == 0 {
		return nil, fmt.Errorf("%w: 无有效的对话内容", ErrInvalidInput)
	}

	// 2. 分块
	chunks := s.chunker.ChunkAll(turns)

	// 3. 向量化并写入；嵌入整批失败或结果不完整都跳过向量写入，
	//    向量路径的任何问题不能阻断后面的历史追加
	stored := 0
	if len(chunks) > 0 {
		embeddings, err := s.embedder.Embed(ctx, chunks)
		switch {
		case err != nil:
			logger.Warnw("分块向量化失败，跳过向量写入", "tenant", tenant, "chunks", len(chunks), "error", err)
		case !completeEmbeddingBatch(embeddings, len(chunks)):
			logger.Warnw("嵌入结果不完整，跳过向量写入", "tenant", tenant, "chunks", len(chunks), "embeddings", len(embeddings))
		default:
			memChunks := make([]store.MemoryChunk, len(chunks))
			for i, content := range chunks {
				memChunks[i] = store.MemoryChunk{Content: content, Timestamp: timestamp}
			}
			stored, err = s.vectors.Insert(ctx, tenant, memChunks, embeddings)
			if err != nil {
				// 维度不匹配是硬性错误，向调用方传播
				return nil, err
			}
		}
	}

	// 4. 逐条追加历史，可能触发压缩
	for _, turn := range turns {
		if err := s.history.Append(ctx, tenant, turn, timestamp); err != nil {
			logger.Errorw("历史追加失败", "tenant", tenant, "error", err)
		}
	}

	// 5. 新记忆写入后旧的查询缓存立即失效
	_ = s.cache.InvalidateTenant(ctx, tenant)

	// 6. 后台调度画像提取合并，不等待完成。
	//    后台任务不继承请求上下文，调用方断开后任务照常收敛。
	s.scheduleProfileMerge(tenant, strings.Join(turns, "\n"))

	result := &UploadResult{
		ChunksStored:   stored,
		ProfileUpdated: false,
		ProcessTimeMs:  time.Since(start).Milliseconds(),
	}

	logger.Infow("记忆上传完成",
		"tenant", tenant,
		"turns", len(turns),
		"chunks_stored", stored,
		"process_time_ms", result.ProcessTimeMs)
	return result, nil
}

// scheduleProfileMerge 将画像更新提交到后台工作池，
// 池不可用时退化为受保护的 goroutine，失败只记录日志。
func (s *MemoryService) scheduleProfileMerge(tenant, conversationText string) {
	task := func() {
		if err := s.profiles.ExtractAndMerge(context.Background(), tenant, conversationText); err != nil {
			logger.Errorw("后台画像更新失败", "tenant", tenant, "error", err)
		}
	}

	if err := pool.SubmitToType(pool.BackgroundPool, task); err != nil {
		logger.Warnw("后台池提交失败，改用独立 goroutine", "tenant", tenant, "error", err)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorw("后台画像任务 panic", "tenant", tenant, "panic", r)
				}
			}()
			task()
		}()
	}
}

// Stats 返回服务统计信息。
func (s *MemoryService) Stats(ctx context.Context) map[string]any {
	stats := map[string]any{
		"embedding_provider": s.embedder.Name(),
		"workers":            pool.StatsGlobal(),
	}

	if count, err := s.vectors.RowCount(ctx); err == nil {
		stats["vector_rows"] = count
	} else {
		stats["vector_rows_error"] = err.Error()
	}

	if cacheStats, err := s.cache.Stats(ctx); err == nil {
		stats["query_cache"] = cacheStats
	}

	return stats
}

// Ping 探测向量索引连通性，供健康检查使用。
func (s *MemoryService) Ping(ctx context.Context) error {
	return s.vectors.Ping(ctx)
}

// buildAugmentedContext 将用户画像与重排结果合并为可直接注入
// 外部 AI 代理 Prompt 的增强上下文。
func buildAugmentedContext(profile string, chunks []Candidate) string {
	var sections []string

	if p := strings.TrimSpace(profile); p != "" {
		sections = append(sections, "## 用户画像\n"+p)
	}

	if len(chunks) > 0 {
		lines := make([]string, 0, len(chunks))
		for _, c := range chunks {
			lines = append(lines, fmt.Sprintf("- [%.3f] %s", c.Score, strings.TrimSpace(c.Content)))
		}
		sections = append(sections, "## 相关历史记忆\n"+strings.Join(lines, "\n"))
	}

	if len(sections) == 0 {
		return "（暂无历史记忆或用户画像）"
	}
	return strings.Join(sections, "\n\n")
}

// completeEmbeddingBatch 校验嵌入批次完整：行数与输入一致且每行非空。
func completeEmbeddingBatch(embeddings [][]float32, want int) bool {
	if len(embeddings) != want {
		return false
	}
	for _, emb := range embeddings {
		if len(emb) == 0 {
			return false
		}
	}
	return true
}

// normalizeMessages 将消息列表归一化为 "[role]: content" 文本轮次。
func normalizeMessages(messages []Message) []string {
	turns := make([]string, 0, len(messages))
	for _, msg := range messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		role := strings.TrimSpace(msg.Role)
		if role == "" {
			role = "user"
		}
		turns = append(turns, fmt.Sprintf("[%s]: %s", role, content))
	}
	return turns
}

// decodeBase64Files 解码 Base64 文件内容，
// 单条解码失败记录警告并跳过，不中断整体流程。
func decodeBase64Files(encodedFiles []string) []string {
	var texts []string
	for i, encoded := range encodedFiles {
		encoded = strings.TrimSpace(encoded)
		if encoded == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			logger.Warnw("文件 Base64 解码失败，跳过", "index", i, "error", err)
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			texts = append(texts, text)
		}
	}
	return texts
}
