package biz

import (
	"fmt"
	"strings"

	"github.com/kart-io/memhub/internal/pkg/textutil"
)

// 默认分块参数。
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 64
	DefaultMinChunkSize = 10
)

// Chunker 滑动窗口文本分块器，优先在句子边界对齐。
//
// 短于 minChunkSize 的切片会合并进相邻切片而不是丢弃，
// 短消息必须保留在记忆中。
type Chunker struct {
	chunkSize    int
	overlap      int
	minChunkSize int
}

// NewChunker 创建分块器，overlap 必须小于 chunkSize。
func NewChunker(chunkSize, overlap, minChunkSize int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk_size 必须为正数，got %d", chunkSize)
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("chunk_overlap (%d) 必须小于 chunk_size (%d)", overlap, chunkSize)
	}
	if minChunkSize < 0 {
		minChunkSize = 0
	}

	return &Chunker{
		chunkSize:    chunkSize,
		overlap:      overlap,
		minChunkSize: minChunkSize,
	}, nil
}

// Chunk 将文本切割为按原文顺序排列的切片。空输入返回零个切片。
func (c *Chunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sentences := textutil.SplitSentences(text)

	var chunks []string
	var current []rune

	for _, sentence := range sentences {
		runes := []rune(sentence)

		if len(current)+len(runes) > c.chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.TrimSpace(string(current)))

			// 从末尾回溯 overlap 字符作为下一个切片的开头
			if c.overlap > 0 && len(current) > c.overlap {
				current = append([]rune{}, current[len(current)-c.overlap:]...)
			} else {
				current = nil
			}
		}

		current = append(current, runes...)
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.TrimSpace(string(current)))
	}

	return c.mergeShort(chunks)
}

// ChunkAll 对多段文本批量分块并合并结果。
func (c *Chunker) ChunkAll(texts []string) []string {
	var all []string
	for _, text := range texts {
		all = append(all, c.Chunk(text)...)
	}
	return all
}

// mergeShort 将过短的切片并入相邻切片。
// 唯一的切片即使过短也保留，短消息不能从记忆中消失。
func (c *Chunker) mergeShort(chunks []string) []string {
	if c.minChunkSize <= 0 || len(chunks) <= 1 {
		return chunks
	}

	var merged []string
	for _, chunk := range chunks {
		if textutil.RuneLen(chunk) < c.minChunkSize && len(merged) > 0 {
			merged[len(merged)-1] = merged[len(merged)-1] + chunk
			continue
		}
		merged = append(merged, chunk)
	}

	// 首切片过短且未被吸收时并入后一个
	if len(merged) > 1 && textutil.RuneLen(merged[0]) < c.minChunkSize {
		merged[1] = merged[0] + merged[1]
		merged = merged[1:]
	}

	return merged
}
