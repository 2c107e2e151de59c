package textutil

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"相同向量", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"正交向量", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"相反向量", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"长度不一致", []float32{1, 2}, []float32{1}, 0.0},
		{"空向量", nil, nil, 0.0},
		{"零向量", []float32{0, 0}, []float32{1, 1}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHashString(t *testing.T) {
	h1 := HashString("hello")
	h2 := HashString("hello")
	h3 := HashString("world")

	if h1 != h2 {
		t.Error("相同输入应产生相同哈希")
	}
	if h1 == h3 {
		t.Error("不同输入应产生不同哈希")
	}
	if len(h1) != 32 {
		t.Errorf("MD5 十六进制长度应为 32，got %d", len(h1))
	}
}

func TestTruncateString(t *testing.T) {
	if got := TruncateString("你好世界", 2); got != "你好" {
		t.Errorf("TruncateString() = %q, want 你好", got)
	}
	if got := TruncateString("abc", 10); got != "abc" {
		t.Errorf("短字符串不应被截断, got %q", got)
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "中文标点",
			text: "今天天气很好。我们去公园吧！好啊？",
			want: []string{"今天天气很好。", "我们去公园吧！", "好啊？"},
		},
		{
			name: "英文标点",
			text: "Hello world. How are you?",
			want: []string{"Hello world.", "How are you?"},
		},
		{
			name: "无结尾标点",
			text: "第一句。没有结尾的内容",
			want: []string{"第一句。", "没有结尾的内容"},
		},
		{
			name: "换行分隔",
			text: "第一行\n第二行",
			want: []string{"第一行", "第二行"},
		},
		{
			name: "空文本",
			text: "   ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitSentences() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sentence[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
