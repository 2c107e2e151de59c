package biz

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/memhub/internal/memhub/store"
	"github.com/kart-io/memhub/pkg/llm"
)

// ProfileManager 维护每个租户的自由文本用户画像。
//
// 同一租户的提取合并操作由租户级互斥锁串行化，
// 两次并发合并不会互相覆盖丢失更新。
type ProfileManager struct {
	store *store.LocalStore
	chat  llm.ChatProvider

	locks *keyedMutex
}

// NewProfileManager 创建画像管理器。
func NewProfileManager(local *store.LocalStore, chat llm.ChatProvider) *ProfileManager {
	return &ProfileManager{
		store: local,
		chat:  chat,
		locks: newKeyedMutex(),
	}
}

// Read 读取租户画像，缺失时返回空串而非错误。
func (m *ProfileManager) Read(tenant string) (string, error) {
	return m.store.ReadProfile(tenant)
}

// ExtractAndMerge 从最近对话中提取用户信息并增量合并进画像。
//
// LLM 明确表示无新增信息时直接跳过合并。调用方通常在后台
// 任务中执行本方法，错误只用于记录，不回传给上传请求。
func (m *ProfileManager) ExtractAndMerge(ctx context.Context, tenant, conversationText string) error {
	if strings.TrimSpace(conversationText) == "" {
		return nil
	}
	if m.chat == nil {
		return fmt.Errorf("未配置 Chat 供应商")
	}

	m.locks.Lock(tenant)
	defer m.locks.Unlock(tenant)

	existing, err := m.store.ReadProfile(tenant)
	if err != nil {
		return fmt.Errorf("读取既有画像失败: %w", err)
	}

	extracted, err := m.chat.Generate(ctx, extractionUserPrompt(conversationText, existing), extractionSystemPrompt)
	if err != nil {
		return fmt.Errorf("画像信息提取失败: %w", err)
	}

	extracted = strings.TrimSpace(extracted)
	if extracted == "" || strings.Contains(extracted, noNewInfoMarker) {
		logger.Debugw("本次对话无新增用户信息，跳过画像合并", "tenant", tenant)
		return nil
	}

	merged := extracted
	if existing != "" {
		merged, err = m.chat.Generate(ctx, mergeUserPrompt(existing, extracted), mergeSystemPrompt)
		if err != nil {
			return fmt.Errorf("画像合并失败: %w", err)
		}
		merged = strings.TrimSpace(merged)
		if merged == "" {
			logger.Warnw("画像合并结果为空，保留原画像", "tenant", tenant)
			return nil
		}
	}

	if err := m.store.WriteProfile(tenant, merged); err != nil {
		return fmt.Errorf("写入画像失败: %w", err)
	}

	logger.Infow("用户画像已更新", "tenant", tenant, "profile_len", len(merged))
	return nil
}
