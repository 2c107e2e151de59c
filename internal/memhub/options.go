// Package app provides the memory service application.
package app

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	httpopts "github.com/kart-io/memhub/pkg/options/http"
	logopts "github.com/kart-io/memhub/pkg/options/logger"
	milvusopts "github.com/kart-io/memhub/pkg/options/milvus"
)

// Options contains all memory service options.
type Options struct {
	// HTTP contains HTTP server configuration.
	HTTP *httpopts.Options `json:"http" mapstructure:"http"`

	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// Milvus contains Milvus database configuration.
	Milvus *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// Embedding contains embedding provider configuration.
	Embedding *LLMProviderOptions `json:"embedding" mapstructure:"embedding"`

	// Chat contains chat provider configuration.
	Chat *LLMProviderOptions `json:"chat" mapstructure:"chat"`

	// Memory contains memory pipeline configuration.
	Memory *MemoryOptions `json:"memory" mapstructure:"memory"`

	// Rerank contains external reranker configuration.
	Rerank *RerankOptions `json:"rerank" mapstructure:"rerank"`

	// Cache contains query cache configuration.
	Cache *CacheOptions `json:"cache" mapstructure:"cache"`
}

// LLMProviderOptions 定义 LLM 供应商配置。
type LLMProviderOptions struct {
	// Provider 供应商名称（openai 等）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥。
	APIKey string `json:"api-key" mapstructure:"api-key"`

	// Model 使用的模型名称。
	Model string `json:"model" mapstructure:"model"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// Organization 组织 ID（OpenAI 可选）。
	Organization string `json:"organization" mapstructure:"organization"`
}

// NewLLMProviderOptions 创建默认 LLM 供应商配置。
func NewLLMProviderOptions() *LLMProviderOptions {
	return &LLMProviderOptions{
		Provider:   "openai",
		BaseURL:    "https://api.openai.com/v1",
		Timeout:    120 * time.Second,
		MaxRetries: 3,
	}
}

// ToConfigMap 转换为配置 map，用于供应商工厂。
func (o *LLMProviderOptions) ToConfigMap() map[string]any {
	return map[string]any{
		"base_url":     o.BaseURL,
		"api_key":      o.APIKey,
		"embed_model":  o.Model,
		"chat_model":   o.Model,
		"timeout":      o.Timeout,
		"max_retries":  o.MaxRetries,
		"organization": o.Organization,
	}
}

// MemoryOptions contains memory pipeline configuration.
type MemoryOptions struct {
	// DataDir is the directory for per-tenant local state.
	DataDir string `json:"data-dir" mapstructure:"data-dir"`

	// ChunkSize is the size of text chunks in runes.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap is the overlap between chunks.
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// MinChunkSize 低于该长度的切片合并进相邻切片。
	MinChunkSize int `json:"min-chunk-size" mapstructure:"min-chunk-size"`

	// TopK is the number of candidates from vector search.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// TopN is the number of chunks kept after reranking.
	TopN int `json:"top-n" mapstructure:"top-n"`

	// WindowSize 历史滑动窗口大小。
	WindowSize int `json:"window-size" mapstructure:"window-size"`

	// CompressThreshold 超过该条数触发历史压缩。
	CompressThreshold int `json:"compress-threshold" mapstructure:"compress-threshold"`
}

// NewMemoryOptions creates new MemoryOptions with defaults.
func NewMemoryOptions() *MemoryOptions {
	return &MemoryOptions{
		DataDir:           "_output/memhub-data",
		ChunkSize:         512,
		ChunkOverlap:      64,
		MinChunkSize:      10,
		TopK:              10,
		TopN:              5,
		WindowSize:        10,
		CompressThreshold: 20,
	}
}

// RerankOptions contains external reranker service configuration.
type RerankOptions struct {
	// Endpoint 重排服务地址，为空时跳过该层降级到余弦重排。
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`

	// Timeout 单次重排请求超时。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// TierTimeout 重排链单层超时。
	TierTimeout time.Duration `json:"tier-timeout" mapstructure:"tier-timeout"`
}

// NewRerankOptions creates new RerankOptions with defaults.
func NewRerankOptions() *RerankOptions {
	return &RerankOptions{
		Endpoint:    "",
		Timeout:     10 * time.Second,
		TierTimeout: 3 * time.Second,
	}
}

// CacheOptions 查询缓存配置。
type CacheOptions struct {
	// Enabled 是否启用缓存。
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// TTL 缓存过期时间。
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`

	// KeyPrefix 缓存键前缀。
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`

	// Redis Redis 连接配置。
	Redis *RedisOptions `json:"redis" mapstructure:"redis"`
}

// RedisOptions Redis 配置。
type RedisOptions struct {
	// Host Redis 主机地址。
	Host string `json:"host" mapstructure:"host"`

	// Port Redis 端口。
	Port int `json:"port" mapstructure:"port"`

	// Password Redis 密码。
	Password string `json:"password" mapstructure:"password"`

	// Database Redis 数据库编号。
	Database int `json:"database" mapstructure:"database"`

	// MaxRetries 最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// PoolSize 连接池大小。
	PoolSize int `json:"pool-size" mapstructure:"pool-size"`

	// MinIdleConns 最小空闲连接数。
	MinIdleConns int `json:"min-idle-conns" mapstructure:"min-idle-conns"`
}

// NewCacheOptions 创建默认缓存配置。
func NewCacheOptions() *CacheOptions {
	return &CacheOptions{
		Enabled:   false,
		TTL:       10 * time.Minute,
		KeyPrefix: "memhub:query:",
		Redis:     NewRedisOptions(),
	}
}

// NewRedisOptions 创建默认 Redis 配置。
func NewRedisOptions() *RedisOptions {
	return &RedisOptions{
		Host:         "localhost",
		Port:         6379,
		Password:     "",
		Database:     0,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 5,
	}
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	// 默认 embedding 配置
	embeddingOpts := NewLLMProviderOptions()
	embeddingOpts.Model = "text-embedding-3-small"

	// 默认 chat 配置
	chatOpts := NewLLMProviderOptions()
	chatOpts.Model = "gpt-4o-mini"

	return &Options{
		HTTP:      httpopts.NewOptions(),
		Log:       logopts.NewOptions(),
		Milvus:    milvusopts.NewOptions(),
		Embedding: embeddingOpts,
		Chat:      chatOpts,
		Memory:    NewMemoryOptions(),
		Rerank:    NewRerankOptions(),
		Cache:     NewCacheOptions(),
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.HTTP.AddFlags(fs)
	o.Log.AddFlags(fs)
	o.Milvus.AddFlags(fs)
	o.addLLMFlags(fs, "embedding", o.Embedding)
	o.addLLMFlags(fs, "chat", o.Chat)
	o.addMemoryFlags(fs)
	o.addRerankFlags(fs)
	o.addCacheFlags(fs)
}

func (o *Options) addLLMFlags(fs *pflag.FlagSet, prefix string, opts *LLMProviderOptions) {
	fs.StringVar(&opts.Provider, prefix+".provider", opts.Provider, "LLM provider name")
	fs.StringVar(&opts.BaseURL, prefix+".base-url", opts.BaseURL, "LLM API base URL")
	fs.StringVar(&opts.APIKey, prefix+".api-key", opts.APIKey, "LLM API key")
	fs.StringVar(&opts.Model, prefix+".model", opts.Model, "Model name")
	fs.DurationVar(&opts.Timeout, prefix+".timeout", opts.Timeout, "Request timeout")
	fs.IntVar(&opts.MaxRetries, prefix+".max-retries", opts.MaxRetries, "Max retries")
}

func (o *Options) addMemoryFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Memory.DataDir, "memory.data-dir", o.Memory.DataDir, "Directory for per-tenant local state")
	fs.IntVar(&o.Memory.ChunkSize, "memory.chunk-size", o.Memory.ChunkSize, "Size of text chunks")
	fs.IntVar(&o.Memory.ChunkOverlap, "memory.chunk-overlap", o.Memory.ChunkOverlap, "Overlap between chunks")
	fs.IntVar(&o.Memory.MinChunkSize, "memory.min-chunk-size", o.Memory.MinChunkSize, "Minimum chunk size before merging")
	fs.IntVar(&o.Memory.TopK, "memory.top-k", o.Memory.TopK, "Number of candidates from vector search")
	fs.IntVar(&o.Memory.TopN, "memory.top-n", o.Memory.TopN, "Number of chunks kept after reranking")
	fs.IntVar(&o.Memory.WindowSize, "memory.window-size", o.Memory.WindowSize, "History sliding window size")
	fs.IntVar(&o.Memory.CompressThreshold, "memory.compress-threshold", o.Memory.CompressThreshold, "History compression threshold")
}

func (o *Options) addRerankFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Rerank.Endpoint, "rerank.endpoint", o.Rerank.Endpoint, "External reranker endpoint (empty disables the tier)")
	fs.DurationVar(&o.Rerank.Timeout, "rerank.timeout", o.Rerank.Timeout, "Reranker request timeout")
	fs.DurationVar(&o.Rerank.TierTimeout, "rerank.tier-timeout", o.Rerank.TierTimeout, "Per-tier rerank timeout")
}

func (o *Options) addCacheFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Cache.Enabled, "cache.enabled", o.Cache.Enabled, "Enable query result cache")
	fs.DurationVar(&o.Cache.TTL, "cache.ttl", o.Cache.TTL, "Cache TTL duration")
	fs.StringVar(&o.Cache.KeyPrefix, "cache.key-prefix", o.Cache.KeyPrefix, "Cache key prefix")
	fs.StringVar(&o.Cache.Redis.Host, "cache.redis.host", o.Cache.Redis.Host, "Redis host")
	fs.IntVar(&o.Cache.Redis.Port, "cache.redis.port", o.Cache.Redis.Port, "Redis port")
	fs.StringVar(&o.Cache.Redis.Password, "cache.redis.password", o.Cache.Redis.Password, "Redis password")
	fs.IntVar(&o.Cache.Redis.Database, "cache.redis.database", o.Cache.Redis.Database, "Redis database number")
	fs.IntVar(&o.Cache.Redis.MaxRetries, "cache.redis.max-retries", o.Cache.Redis.MaxRetries, "Redis max retries")
	fs.IntVar(&o.Cache.Redis.PoolSize, "cache.redis.pool-size", o.Cache.Redis.PoolSize, "Redis connection pool size")
	fs.IntVar(&o.Cache.Redis.MinIdleConns, "cache.redis.min-idle-conns", o.Cache.Redis.MinIdleConns, "Redis minimum idle connections")
}

// Validate validates the options.
func (o *Options) Validate() error {
	if err := o.Log.Validate(); err != nil {
		return err
	}
	if err := o.HTTP.Validate(); err != nil {
		return err
	}
	if errs := o.Milvus.Validate(); len(errs) > 0 {
		return errs[0]
	}
	if err := o.validateLLMProvider(o.Embedding, "embedding"); err != nil {
		return err
	}
	if err := o.validateLLMProvider(o.Chat, "chat"); err != nil {
		return err
	}
	if o.Memory.ChunkSize <= 0 {
		return fmt.Errorf("memory.chunk-size must be positive")
	}
	if o.Memory.ChunkOverlap >= o.Memory.ChunkSize {
		return fmt.Errorf("memory.chunk-overlap must be smaller than memory.chunk-size")
	}
	if o.Memory.TopK <= 0 || o.Memory.TopN <= 0 {
		return fmt.Errorf("memory.top-k and memory.top-n must be positive")
	}
	if o.Memory.WindowSize <= 0 {
		return fmt.Errorf("memory.window-size must be positive")
	}
	if o.Memory.CompressThreshold <= o.Memory.WindowSize {
		return fmt.Errorf("memory.compress-threshold must be greater than memory.window-size")
	}
	if o.Memory.DataDir == "" {
		return fmt.Errorf("memory.data-dir cannot be empty")
	}
	return nil
}

func (o *Options) validateLLMProvider(opts *LLMProviderOptions, prefix string) error {
	if opts.Provider == "" {
		return fmt.Errorf("%s.provider is required", prefix)
	}
	if opts.BaseURL == "" {
		return fmt.Errorf("%s.base-url is required", prefix)
	}
	if opts.Model == "" {
		return fmt.Errorf("%s.model is required", prefix)
	}
	// OpenAI 供应商需要 API key
	if opts.Provider == "openai" && opts.APIKey == "" {
		return fmt.Errorf("%s.api-key is required for openai provider", prefix)
	}
	if opts.Timeout <= 0 {
		return fmt.Errorf("%s.timeout must be positive", prefix)
	}
	return nil
}

// Complete completes the options.
func (o *Options) Complete() error {
	if err := o.HTTP.Complete(); err != nil {
		return err
	}
	return o.Log.Complete()
}
