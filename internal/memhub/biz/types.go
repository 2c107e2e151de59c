// Package biz 实现对话记忆服务的业务逻辑：分块、重排、历史压缩、
// 画像维护与 Query/Upload 编排。
package biz

import "errors"

// ErrInvalidInput 必填字段为空或格式非法，请求快速失败。
var ErrInvalidInput = errors.New("非法的请求参数")

// 候选来源标签，标记最终分数产生的方式。
const (
	SourceVectorIndex     = "vector_index"
	SourceReranker        = "reranker"
	SourceEmbeddingCosine = "embedding_cosine"
	SourceRawOrder        = "raw_order"
)

// Candidate 向量检索产出、重排链消费的候选记忆。
// Metadata 携带命中的 timestamp、user_id 和主键 id。
type Candidate struct {
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Message 一轮对话消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QueryResult Query 操作的完整返回。
type QueryResult struct {
	UserProfile      string      `json:"user_profile"`
	RetrievedChunks  []Candidate `json:"retrieved_chunks"`
	AugmentedContext string      `json:"augmented_context"`
	QueryTimeMs      int64       `json:"query_time_ms"`
}

// UploadResult Upload 操作的完整返回。
type UploadResult struct {
	ChunksStored   int   `json:"chunks_stored"`
	ProfileUpdated bool  `json:"profile_updated"`
	ProcessTimeMs  int64 `json:"process_time_ms"`
}
