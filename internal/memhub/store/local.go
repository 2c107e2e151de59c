package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/kart-io/memhub/pkg/utils/json"
)

const (
	historyFile    = "history.jsonl"
	summaryFile    = "compressed.md"
	profileFile    = "profile.md"
	convLogFile    = "conversation.log"
	seqFile        = ".seq"
	summaryHeader  = "# 历史对话摘要\n\n"
	convLogMaxSize = 4 << 20 // 4 MiB，超过后轮转一个旧段
)

// LocalStore 按租户组织的本地文件存储。
//
// 目录布局：<base>/<tenant>/{history.jsonl, compressed.md, profile.md, conversation.log, .seq}。
// 每个租户的文件只由其串行化的逻辑段落修改，跨租户访问
// 通过租户键在结构上隔离，而不是事后过滤。
type LocalStore struct {
	baseDir string

	mu sync.Mutex // 保护目录创建
}

// NewLocalStore 创建本地存储，baseDir 不存在时自动创建。
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// tenantDir 返回租户目录，非法租户标识硬性拒绝。
func (s *LocalStore) tenantDir(tenant string) (string, error) {
	if tenant == "" {
		return "", ErrInvalidTenant
	}
	if strings.ContainsAny(tenant, `/\`) || tenant == "." || tenant == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenant, tenant)
	}

	dir := filepath.Join(s.baseDir, tenant)
	s.mu.Lock()
	err := os.MkdirAll(dir, 0o755)
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("创建租户目录失败: %w", err)
	}
	return dir, nil
}

// AppendHistory 以 JSON Lines 追加一条历史记录。
func (s *LocalStore) AppendHistory(tenant string, entry HistoryEntry) error {
	dir, err := s.tenantDir(tenant)
	if err != nil {
		return err
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化历史记录失败: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, historyFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("打开历史文件失败: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("写入历史记录失败: %w", err)
	}
	return nil
}

// ReadHistory 读取租户的全部历史记录，文件不存在时返回空。
func (s *LocalStore) ReadHistory(tenant string) ([]HistoryEntry, error) {
	dir, err := s.tenantDir(tenant)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(dir, historyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("打开历史文件失败: %w", err)
	}
	defer f.Close()

	var entries []HistoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry HistoryEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			// 损坏的行跳过，不让单行故障毁掉整个窗口
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取历史文件失败: %w", err)
	}

	return entries, nil
}

// RewriteHistory 原子重写整个历史窗口，压缩裁剪后使用。
func (s *LocalStore) RewriteHistory(tenant string, entries []HistoryEntry) error {
	dir, err := s.tenantDir(tenant)
	if err != nil {
		return err
	}

	var sb strings.Builder
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("序列化历史记录失败: %w", err)
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}

	return atomicWrite(filepath.Join(dir, historyFile), []byte(sb.String()))
}

// ReadSummary 读取压缩摘要正文，缺失时返回空串。
func (s *LocalStore) ReadSummary(tenant string) (string, error) {
	dir, err := s.tenantDir(tenant)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(dir, summaryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("读取摘要文件失败: %w", err)
	}

	text := strings.TrimPrefix(string(data), summaryHeader)
	return strings.TrimSpace(text), nil
}

// WriteSummary 原子覆盖压缩摘要，旧版本直接被取代。
func (s *LocalStore) WriteSummary(tenant, summary string) error {
	dir, err := s.tenantDir(tenant)
	if err != nil {
		return err
	}
	content := summaryHeader + strings.TrimSpace(summary) + "\n"
	return atomicWrite(filepath.Join(dir, summaryFile), []byte(content))
}

// ReadProfile 读取用户画像，缺失是合法状态，返回空串。
func (s *LocalStore) ReadProfile(tenant string) (string, error) {
	dir, err := s.tenantDir(tenant)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(dir, profileFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("读取画像文件失败: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteProfile 原子覆盖用户画像。
func (s *LocalStore) WriteProfile(tenant, profile string) error {
	dir, err := s.tenantDir(tenant)
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(dir, profileFile), []byte(strings.TrimSpace(profile)+"\n"))
}

// NextSeq 返回租户下一个严格递增的序号，序号持久化，
// 进程重启后继续递增而不会重新编号。
func (s *LocalStore) NextSeq(tenant string) (int64, error) {
	dir, err := s.tenantDir(tenant)
	if err != nil {
		return 0, err
	}

	path := filepath.Join(dir, seqFile)
	var current int64
	if data, err := os.ReadFile(path); err == nil {
		current, _ = strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	}

	next := current + 1
	if err := atomicWrite(path, []byte(strconv.FormatInt(next, 10))); err != nil {
		return 0, err
	}
	return next, nil
}

// AppendConversationLog 追加一行审计日志，超过大小上限时轮转，
// 只保留一个旧段。
func (s *LocalStore) AppendConversationLog(tenant, line string) error {
	dir, err := s.tenantDir(tenant)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, convLogFile)
	if info, err := os.Stat(path); err == nil && info.Size() >= convLogMaxSize {
		if err := os.Rename(path, path+".1"); err != nil {
			return fmt.Errorf("轮转审计日志失败: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("打开审计日志失败: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("写入审计日志失败: %w", err)
	}
	return nil
}

// atomicWrite 先写临时文件再改名，避免读到半截内容。
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("替换文件失败: %w", err)
	}
	return nil
}
