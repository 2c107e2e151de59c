package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/memhub/internal/memhub/store"
	"github.com/kart-io/memhub/pkg/llm"
)

// 默认历史窗口参数。
const (
	DefaultWindowSize        = 10
	DefaultCompressThreshold = 20
)

// HistoryManager 维护每个租户的有界历史窗口与压缩摘要。
//
// 同一租户的 append+compress 序列由租户级互斥锁串行化，
// 并发上传不会乱序或互相覆盖；不同租户之间互不阻塞。
type HistoryManager struct {
	store             *store.LocalStore
	chat              llm.ChatProvider
	windowSize        int
	compressThreshold int

	locks *keyedMutex
}

// NewHistoryManager 创建历史管理器。chat 为 nil 时压缩被跳过。
func NewHistoryManager(local *store.LocalStore, chat llm.ChatProvider, windowSize, compressThreshold int) *HistoryManager {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if compressThreshold <= windowSize {
		compressThreshold = windowSize + DefaultCompressThreshold - DefaultWindowSize
	}

	return &HistoryManager{
		store:             local,
		chat:              chat,
		windowSize:        windowSize,
		compressThreshold: compressThreshold,
		locks:             newKeyedMutex(),
	}
}

// Append 追加一条历史记录，存量超过压缩阈值时触发压缩。
// 压缩失败被吞掉并记录日志，原有历史与摘要保持不变，
// 追加本身的失败才会向上返回。
func (m *HistoryManager) Append(ctx context.Context, tenant, text, timestamp string) error {
	m.locks.Lock(tenant)
	defer m.locks.Unlock(tenant)

	entry := store.HistoryEntry{Text: text, Timestamp: timestamp}
	if err := m.store.AppendHistory(tenant, entry); err != nil {
		return fmt.Errorf("追加历史失败: %w", err)
	}

	// 审计日志独立于历史窗口，自带轮转，永不影响主路径
	seq, err := m.store.NextSeq(tenant)
	if err == nil {
		line := fmt.Sprintf("[%d] %s %s", seq, timestamp, text)
		if err := m.store.AppendConversationLog(tenant, line); err != nil {
			logger.Warnw("写入审计日志失败", "tenant", tenant, "error", err)
		}
	}

	entries, err := m.store.ReadHistory(tenant)
	if err != nil {
		logger.Warnw("读取历史窗口失败，跳过压缩检查", "tenant", tenant, "error", err)
		return nil
	}

	if len(entries) > m.compressThreshold {
		m.compressLocked(ctx, tenant, entries)
	}

	return nil
}

// AuditQuery 将一次查询写入审计日志。审计独立于历史窗口，
// 失败只记录日志。
func (m *HistoryManager) AuditQuery(tenant, query string, at time.Time) {
	m.locks.Lock(tenant)
	defer m.locks.Unlock(tenant)

	seq, err := m.store.NextSeq(tenant)
	if err != nil {
		logger.Warnw("分配审计序号失败", "tenant", tenant, "error", err)
		return
	}
	line := fmt.Sprintf("[%d] %s [query] %s", seq, at.Format(timestampLayout), query)
	if err := m.store.AppendConversationLog(tenant, line); err != nil {
		logger.Warnw("写入审计日志失败", "tenant", tenant, "error", err)
	}
}

// Read 返回租户的历史窗口与压缩摘要。摘要缺失是合法状态。
func (m *HistoryManager) Read(tenant string) ([]store.HistoryEntry, string, error) {
	entries, err := m.store.ReadHistory(tenant)
	if err != nil {
		return nil, "", err
	}

	summary, err := m.store.ReadSummary(tenant)
	if err != nil {
		return nil, "", err
	}

	if len(entries) > m.windowSize {
		entries = entries[len(entries)-m.windowSize:]
	}
	return entries, summary, nil
}

// compressLocked 在持有租户锁的前提下执行压缩：
// 取出待淘汰的旧记录，与既有摘要增量合并后原子替换摘要，
// 再把窗口裁剪到 windowSize。任何失败都不改变既有状态。
func (m *HistoryManager) compressLocked(ctx context.Context, tenant string, entries []store.HistoryEntry) {
	if m.chat == nil {
		logger.Warnw("未配置 Chat 供应商，跳过历史压缩", "tenant", tenant)
		return
	}

	evicted := entries[:len(entries)-m.windowSize]
	kept := entries[len(entries)-m.windowSize:]

	var sb strings.Builder
	for _, e := range evicted {
		sb.WriteString(e.Text)
		sb.WriteByte('\n')
	}

	existing, err := m.store.ReadSummary(tenant)
	if err != nil {
		logger.Warnw("读取既有摘要失败，跳过压缩", "tenant", tenant, "error", err)
		return
	}

	var summary string
	if existing == "" {
		summary, err = m.chat.Generate(ctx, summarizationUserPrompt(sb.String()), summarizationSystemPrompt)
	} else {
		summary, err = m.chat.Generate(ctx, incrementalSummarizationUserPrompt(existing, sb.String()), incrementalSummarizationSystemPrompt)
	}
	if err != nil {
		logger.Errorw("历史压缩失败，保留原状态", "tenant", tenant, "error", err)
		return
	}
	if strings.TrimSpace(summary) == "" {
		logger.Warnw("压缩摘要为空，保留原状态", "tenant", tenant)
		return
	}

	if err := m.store.WriteSummary(tenant, summary); err != nil {
		logger.Errorw("写入压缩摘要失败", "tenant", tenant, "error", err)
		return
	}
	if err := m.store.RewriteHistory(tenant, kept); err != nil {
		logger.Errorw("裁剪历史窗口失败", "tenant", tenant, "error", err)
		return
	}

	logger.Infow("历史压缩完成",
		"tenant", tenant,
		"evicted", len(evicted),
		"window", len(kept))
}
