// Package store 提供记忆数据的持久化层，包括向量索引与本地租户文件。
package store

import (
	"context"
	"errors"
)

// 持久层错误。
var (
	// ErrUnavailable 外部存储不可达或超时。
	ErrUnavailable = errors.New("存储服务不可用")

	// ErrDimensionMismatch 向量维度与配置不一致，硬性拒绝。
	ErrDimensionMismatch = errors.New("向量维度不匹配")

	// ErrInvalidTenant 租户标识非法（空或包含路径字符）。
	ErrInvalidTenant = errors.New("非法的租户标识")
)

// MemoryChunk 待写入向量索引的记忆分块。
type MemoryChunk struct {
	Content   string
	Timestamp string
}

// SearchHit 向量检索命中结果。
type SearchHit struct {
	ID        int64
	Score     float32
	Content   string
	Timestamp string
}

// HistoryEntry 一条历史记录。
type HistoryEntry struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// VectorBackend 抽象底层向量索引客户端。
// 所有第三方 SDK 的调用细节都限制在该接口的实现内。
type VectorBackend interface {
	// Connect 建立连接并确保集合就绪。
	Connect(ctx context.Context) error

	// Insert 写入分块，返回写入条数。
	Insert(ctx context.Context, tenant string, contents, timestamps []string, embeddings [][]float32) (int, error)

	// Search 按租户过滤的相似度检索。
	Search(ctx context.Context, tenant string, vector []float32, topK int) ([]SearchHit, error)

	// RowCount 返回集合总行数。
	RowCount(ctx context.Context) (int64, error)

	// Ping 探活。
	Ping(ctx context.Context) error

	// Close 关闭连接。
	Close(ctx context.Context) error
}
