package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/kart-io/logger"

	milvuscomp "github.com/kart-io/memhub/pkg/component/milvus"
	milvusopts "github.com/kart-io/memhub/pkg/options/milvus"
)

// connState 连接状态。
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// MilvusStore 懒连接的向量存储。
//
// 状态机：Disconnected → Connecting → Connected。
// 操作失败时惰性回退到 Disconnected，由下一次操作触发重连，
// 不存在后台定时重连。并发的连接尝试由互斥锁串行化，
// 后到的调用者等待进行中的连接完成而不是重复发起连接。
type MilvusStore struct {
	backend VectorBackend
	dim     int

	mu    sync.Mutex
	state connState
}

// NewMilvusStore 创建向量存储。连接在首次操作时建立。
func NewMilvusStore(backend VectorBackend, dim int) *MilvusStore {
	return &MilvusStore{
		backend: backend,
		dim:     dim,
	}
}

// ensureConnected 在每次 insert/search 前调用。
// 已连接时不做任何事，不会盲目断开重连。
func (s *MilvusStore) ensureConnected(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateConnected {
		return nil
	}

	s.state = stateConnecting
	if err := s.backend.Connect(ctx); err != nil {
		s.state = stateDisconnected
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.state = stateConnected
	return nil
}

// markDisconnected 操作失败后回退状态，下一次操作会重连。
func (s *MilvusStore) markDisconnected() {
	s.mu.Lock()
	s.state = stateDisconnected
	s.mu.Unlock()
}

// Insert 写入租户分块。
// 维度不匹配硬性拒绝；存储不可用时返回 0 条写入而非错误，
// 上传流水线不因向量路径失败而中断。
func (s *MilvusStore) Insert(ctx context.Context, tenant string, chunks []MemoryChunk, embeddings [][]float32) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if len(chunks) != len(embeddings) {
		return 0, fmt.Errorf("%w: %d 个分块对应 %d 个向量", ErrDimensionMismatch, len(chunks), len(embeddings))
	}
	for i, emb := range embeddings {
		if len(emb) != s.dim {
			return 0, fmt.Errorf("%w: 第 %d 个向量维度 %d，期望 %d", ErrDimensionMismatch, i, len(emb), s.dim)
		}
	}

	if err := s.ensureConnected(ctx); err != nil {
		logger.Warnw("向量存储连接失败，本次跳过向量写入", "tenant", tenant, "error", err)
		return 0, nil
	}

	contents := make([]string, len(chunks))
	timestamps := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
		timestamps[i] = c.Timestamp
	}

	count, err := s.backend.Insert(ctx, tenant, contents, timestamps, embeddings)
	if err != nil {
		s.markDisconnected()
		logger.Warnw("向量写入失败", "tenant", tenant, "error", err)
		return 0, nil
	}

	return count, nil
}

// Search 按租户过滤的相似度检索。
// 存储不可用时返回空候选列表，查询流程继续降级执行。
func (s *MilvusStore) Search(ctx context.Context, tenant string, vector []float32, topK int) ([]SearchHit, error) {
	if err := s.ensureConnected(ctx); err != nil {
		logger.Warnw("向量存储连接失败，返回空候选集", "tenant", tenant, "error", err)
		return []SearchHit{}, nil
	}

	hits, err := s.backend.Search(ctx, tenant, vector, topK)
	if err != nil {
		s.markDisconnected()
		logger.Warnw("向量检索失败，返回空候选集", "tenant", tenant, "error", err)
		return []SearchHit{}, nil
	}

	return hits, nil
}

// RowCount 返回集合总行数，用于统计接口。
func (s *MilvusStore) RowCount(ctx context.Context) (int64, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return 0, err
	}

	count, err := s.backend.RowCount(ctx)
	if err != nil {
		s.markDisconnected()
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}

// Ping 健康检查探活。
func (s *MilvusStore) Ping(ctx context.Context) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	if err := s.backend.Ping(ctx); err != nil {
		s.markDisconnected()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close 关闭底层连接。
func (s *MilvusStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateDisconnected {
		return nil
	}
	s.state = stateDisconnected
	return s.backend.Close(ctx)
}

// milvusBackend 基于 Milvus SDK 的 VectorBackend 实现。
type milvusBackend struct {
	opts   *milvusopts.Options
	client *milvuscomp.Client
}

var _ VectorBackend = (*milvusBackend)(nil)

// NewMilvusBackend 创建 Milvus 后端，连接延迟到 Connect。
func NewMilvusBackend(opts *milvusopts.Options) VectorBackend {
	return &milvusBackend{opts: opts}
}

func (b *milvusBackend) Connect(ctx context.Context) error {
	if b.client != nil {
		// 旧连接可能已失效，重连前先关闭
		_ = b.client.Close(ctx)
		b.client = nil
	}

	client, err := milvuscomp.Dial(ctx, b.opts)
	if err != nil {
		return err
	}
	if err := client.EnsureCollection(ctx); err != nil {
		_ = client.Close(ctx)
		return err
	}

	b.client = client
	return nil
}

func (b *milvusBackend) Insert(ctx context.Context, tenant string, contents, timestamps []string, embeddings [][]float32) (int, error) {
	if b.client == nil {
		return 0, ErrUnavailable
	}
	return b.client.InsertChunks(ctx, tenant, contents, timestamps, embeddings)
}

func (b *milvusBackend) Search(ctx context.Context, tenant string, vector []float32, topK int) ([]SearchHit, error) {
	if b.client == nil {
		return nil, ErrUnavailable
	}

	raw, err := b.client.SearchByTenant(ctx, tenant, vector, topK)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, len(raw))
	for i, h := range raw {
		hits[i] = SearchHit{
			ID:        h.ID,
			Score:     h.Score,
			Content:   h.Content,
			Timestamp: h.Timestamp,
		}
	}
	return hits, nil
}

func (b *milvusBackend) RowCount(ctx context.Context) (int64, error) {
	if b.client == nil {
		return 0, ErrUnavailable
	}
	return b.client.RowCount(ctx)
}

func (b *milvusBackend) Ping(ctx context.Context) error {
	if b.client == nil {
		return ErrUnavailable
	}
	return b.client.Ping(ctx)
}

func (b *milvusBackend) Close(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	err := b.client.Close(ctx)
	b.client = nil
	return err
}
