package biz

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunker_空输入返回零切片(t *testing.T) {
	c, err := NewChunker(DefaultChunkSize, DefaultChunkOverlap, DefaultMinChunkSize)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	if got := c.Chunk(""); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
	if got := c.Chunk("   \n  "); got != nil {
		t.Errorf("expected nil for whitespace, got %v", got)
	}
}

func TestChunker_短消息不丢失(t *testing.T) {
	// 长度为 3 的消息在 min_chunk_size=10 下仍必须保留
	c, err := NewChunker(DefaultChunkSize, DefaultChunkOverlap, 10)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	chunks := c.Chunk("你好呀")
	if len(chunks) == 0 {
		t.Fatal("short message must appear in at least one chunk")
	}
	found := false
	for _, chunk := range chunks {
		if strings.Contains(chunk, "你好呀") {
			found = true
		}
	}
	if !found {
		t.Errorf("message not found in chunks: %v", chunks)
	}
}

func TestChunker_短切片并入邻居(t *testing.T) {
	c, err := NewChunker(20, 0, 10)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	// 最后一个句子很短，应并入前一个切片而不是单独成块
	text := strings.Repeat("这是一个完整的长句子内容。", 3) + "好。"
	chunks := c.Chunk(text)

	for _, chunk := range chunks {
		if utf8.RuneCountInString(chunk) < 10 {
			t.Errorf("chunk shorter than min size survived: %q", chunk)
		}
	}
	joined := strings.Join(chunks, "")
	if !strings.Contains(joined, "好。") {
		t.Error("short tail sentence was dropped")
	}
}

func TestChunker_长文本滑动窗口(t *testing.T) {
	c, err := NewChunker(50, 10, 10)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString("这里是第若干个句子，包含一些有意义的内容。")
	}
	chunks := c.Chunk(sb.String())

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		n := utf8.RuneCountInString(chunk)
		if n > 50+25 { // 句子对齐允许适度超出
			t.Errorf("chunk %d too large: %d runes", i, n)
		}
	}
}

func TestChunker_批量分块(t *testing.T) {
	c, err := NewChunker(DefaultChunkSize, DefaultChunkOverlap, DefaultMinChunkSize)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	chunks := c.ChunkAll([]string{"[user]: 我叫李雷，在做一个 Go 项目。", "[assistant]: 好的，记住了。", ""})
	if len(chunks) == 0 {
		t.Fatal("expected chunks from batch input")
	}
}

func TestNewChunker_参数校验(t *testing.T) {
	if _, err := NewChunker(0, 0, 0); err == nil {
		t.Error("expected error for zero chunk size")
	}
	if _, err := NewChunker(10, 10, 0); err == nil {
		t.Error("expected error for overlap >= chunk size")
	}
}
