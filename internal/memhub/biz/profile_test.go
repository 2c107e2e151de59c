package biz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/kart-io/memhub/internal/memhub/store"
	"github.com/kart-io/memhub/pkg/llm"
)

// scriptedChat 按调用顺序返回预设回复。
type scriptedChat struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (s *scriptedChat) Chat(_ context.Context, _ []llm.Message) (string, error) {
	return "", nil
}

func (s *scriptedChat) Generate(_ context.Context, _ string, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	resp := ""
	if s.calls < len(s.responses) {
		resp = s.responses[s.calls]
	} else if len(s.responses) > 0 {
		resp = s.responses[len(s.responses)-1]
	}
	s.calls++
	return resp, nil
}

func (s *scriptedChat) Name() string { return "scripted" }

func newTestProfileManager(t *testing.T, chat llm.ChatProvider) *ProfileManager {
	t.Helper()
	local, err := store.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return NewProfileManager(local, chat)
}

func TestProfileManager_首次提取直接写入(t *testing.T) {
	chat := &scriptedChat{responses: []string{"## 基本信息\n- 姓名：李雷"}}
	m := newTestProfileManager(t, chat)

	err := m.ExtractAndMerge(context.Background(), "u1", "[user]: 我叫李雷")
	if err != nil {
		t.Fatalf("ExtractAndMerge: %v", err)
	}

	profile, _ := m.Read("u1")
	if !strings.Contains(profile, "李雷") {
		t.Errorf("unexpected profile: %q", profile)
	}
	// 无既有画像时不应触发第二次合并调用
	if chat.calls != 1 {
		t.Errorf("expected 1 LLM call, got %d", chat.calls)
	}
}

func TestProfileManager_已有画像走合并(t *testing.T) {
	chat := &scriptedChat{responses: []string{
		"## 职业\n- Go 工程师",
		"## 基本信息\n- 姓名：李雷\n\n## 职业\n- Go 工程师",
	}}
	m := newTestProfileManager(t, chat)
	_ = m.store.WriteProfile("u1", "## 基本信息\n- 姓名：李雷")

	err := m.ExtractAndMerge(context.Background(), "u1", "[user]: 我是一名 Go 工程师")
	if err != nil {
		t.Fatalf("ExtractAndMerge: %v", err)
	}

	profile, _ := m.Read("u1")
	if !strings.Contains(profile, "李雷") || !strings.Contains(profile, "Go 工程师") {
		t.Errorf("merge lost information: %q", profile)
	}
	if chat.calls != 2 {
		t.Errorf("expected extract+merge 2 calls, got %d", chat.calls)
	}
}

func TestProfileManager_无新增信息跳过合并(t *testing.T) {
	chat := &scriptedChat{responses: []string{"（本次对话无新增用户信息）"}}
	m := newTestProfileManager(t, chat)
	_ = m.store.WriteProfile("u1", "既有画像")

	err := m.ExtractAndMerge(context.Background(), "u1", "[user]: 今天天气不错")
	if err != nil {
		t.Fatalf("ExtractAndMerge: %v", err)
	}

	profile, _ := m.Read("u1")
	if profile != "既有画像" {
		t.Errorf("profile should be untouched, got %q", profile)
	}
	if chat.calls != 1 {
		t.Errorf("merge should be skipped, calls=%d", chat.calls)
	}
}

func TestProfileManager_提取失败保留原画像(t *testing.T) {
	chat := &scriptedChat{err: errors.New("llm down")}
	m := newTestProfileManager(t, chat)
	_ = m.store.WriteProfile("u1", "既有画像")

	err := m.ExtractAndMerge(context.Background(), "u1", "[user]: 一些内容")
	if err == nil {
		t.Fatal("expected error for observability")
	}

	profile, _ := m.Read("u1")
	if profile != "既有画像" {
		t.Errorf("profile must be untouched on failure, got %q", profile)
	}
}

func TestProfileManager_空对话不触发LLM(t *testing.T) {
	chat := &scriptedChat{responses: []string{"不应被调用"}}
	m := newTestProfileManager(t, chat)

	if err := m.ExtractAndMerge(context.Background(), "u1", "   "); err != nil {
		t.Fatalf("ExtractAndMerge: %v", err)
	}
	if chat.calls != 0 {
		t.Errorf("expected no LLM call, got %d", chat.calls)
	}
}

func TestProfileManager_缺失画像读取为空(t *testing.T) {
	m := newTestProfileManager(t, &scriptedChat{})

	profile, err := m.Read("ghost")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if profile != "" {
		t.Errorf("expected empty profile, got %q", profile)
	}
}

func TestProfileManager_并发合并串行化(t *testing.T) {
	chat := &scriptedChat{responses: []string{"## 信息\n- 条目"}}
	m := newTestProfileManager(t, chat)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = m.ExtractAndMerge(context.Background(), "u1", fmt.Sprintf("[user]: 内容 %d", n))
		}(i)
	}
	wg.Wait()

	profile, err := m.Read("u1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if profile == "" {
		t.Error("expected profile written by serialized merges")
	}
}
