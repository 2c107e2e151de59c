package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/memhub/internal/memhub/biz"
	"github.com/kart-io/memhub/internal/memhub/handler"
	"github.com/kart-io/memhub/internal/memhub/router"
	"github.com/kart-io/memhub/internal/memhub/store"
	"github.com/kart-io/memhub/pkg/infra/app"
	"github.com/kart-io/memhub/pkg/infra/pool"
	"github.com/kart-io/memhub/pkg/llm"
	"github.com/kart-io/memhub/pkg/rerank"
	"github.com/kart-io/memhub/pkg/server"
)

const (
	appName        = "memhub"
	appDescription = `MemHub Memory Service

Multi-tenant conversational memory service for AI agents.

This server provides:
  - Memory upload with chunking and vector embeddings
  - Semantic memory retrieval with tiered reranking
  - Conversation history with automatic compression
  - User profile extraction and incremental merging`
)

// NewApp creates a new application instance.
func NewApp() *app.App {
	opts := NewOptions()

	return app.NewApp(
		app.WithName(appName),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithRunFunc(func() error {
			return Run(opts)
		}),
	)
}

// Run runs the memory service with the given options.
func Run(opts *Options) error {
	printBanner(opts)

	// 1. 初始化日志
	if err := opts.Log.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting memory service...")

	// 2. 初始化后台工作池
	if err := pool.InitGlobal(); err != nil {
		return fmt.Errorf("failed to initialize worker pools: %w", err)
	}
	defer func() { _ = pool.CloseGlobal() }()
	logger.Info("Worker pools initialized")

	// 3. 初始化本地存储
	localStore, err := store.NewLocalStore(opts.Memory.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize local store: %w", err)
	}
	logger.Infow("Local store initialized", "data_dir", opts.Memory.DataDir)

	// 4. 初始化向量存储。连接失败不阻止启动，
	//    存储会在后续请求时自动重连。
	vectorStore := store.NewMilvusStore(store.NewMilvusBackend(opts.Milvus), opts.Milvus.Dim)
	defer func() { _ = vectorStore.Close(context.Background()) }()
	if err := vectorStore.Ping(context.Background()); err != nil {
		logger.Warnw("Vector index unavailable at startup, will reconnect lazily", "error", err)
	} else {
		logger.Info("Vector store initialized")
	}

	// 5. 初始化 Redis 客户端（用于查询缓存）
	var queryCache *biz.QueryCache
	var redisClose func()
	if opts.Cache.Enabled {
		redisOpts := opts.Cache.Redis
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:         fmt.Sprintf("%s:%d", redisOpts.Host, redisOpts.Port),
			Password:     redisOpts.Password,
			DB:           redisOpts.Database,
			MaxRetries:   redisOpts.MaxRetries,
			PoolSize:     redisOpts.PoolSize,
			MinIdleConns: redisOpts.MinIdleConns,
		})

		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warnw("failed to connect to redis, cache will be disabled", "error", err.Error())
			_ = redisClient.Close()
		} else {
			queryCache = biz.NewQueryCache(redisClient, &biz.QueryCacheConfig{
				Enabled:   true,
				TTL:       opts.Cache.TTL,
				KeyPrefix: opts.Cache.KeyPrefix,
			})
			redisClose = func() { _ = redisClient.Close() }
			logger.Infow("Redis cache initialized",
				"host", redisOpts.Host,
				"port", redisOpts.Port,
				"ttl", opts.Cache.TTL,
			)
		}
	} else {
		logger.Info("Cache is disabled")
	}
	if redisClose != nil {
		defer redisClose()
	}

	// 6. 初始化 LLM 供应商
	embedProvider, err := llm.NewEmbeddingProvider(opts.Embedding.Provider, opts.Embedding.ToConfigMap())
	if err != nil {
		return fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	logger.Infow("Embedding provider initialized",
		"provider", opts.Embedding.Provider,
		"model", opts.Embedding.Model,
	)

	chatProvider, err := llm.NewChatProvider(opts.Chat.Provider, opts.Chat.ToConfigMap())
	if err != nil {
		return fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	logger.Infow("Chat provider initialized",
		"provider", opts.Chat.Provider,
		"model", opts.Chat.Model,
	)

	// 7. 初始化重排链。未配置外部重排服务时该层落空。
	var rerankerClient biz.RerankerClient
	if opts.Rerank.Endpoint != "" {
		rerankerClient = rerank.NewClient(opts.Rerank.Endpoint, opts.Rerank.Timeout)
		logger.Infow("External reranker enabled", "endpoint", opts.Rerank.Endpoint)
	}
	rerankChain := biz.NewRerankChain(rerankerClient, embedProvider, opts.Rerank.TierTimeout)

	// 8. 初始化 Biz 层
	chunker, err := biz.NewChunker(opts.Memory.ChunkSize, opts.Memory.ChunkOverlap, opts.Memory.MinChunkSize)
	if err != nil {
		return fmt.Errorf("failed to initialize chunker: %w", err)
	}
	historyManager := biz.NewHistoryManager(localStore, chatProvider, opts.Memory.WindowSize, opts.Memory.CompressThreshold)
	profileManager := biz.NewProfileManager(localStore, chatProvider)
	memoryService := biz.NewMemoryService(
		vectorStore,
		embedProvider,
		chunker,
		rerankChain,
		historyManager,
		profileManager,
		queryCache,
		biz.MemoryServiceConfig{TopK: opts.Memory.TopK, TopN: opts.Memory.TopN},
	)
	logger.Infow("Memory service initialized",
		"window_size", opts.Memory.WindowSize,
		"compress_threshold", opts.Memory.CompressThreshold,
		"top_k", opts.Memory.TopK,
		"top_n", opts.Memory.TopN,
	)

	// 9. 初始化 HTTP 服务器并注册路由
	srv := server.New(opts.HTTP)
	router.Register(srv.Engine(), handler.NewMemoryHandler(memoryService))

	// 10. 启动服务器，监听终止信号
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Memory service is ready")
	return srv.Start(ctx)
}

func printBanner(_ *Options) {
	fmt.Printf("Starting %s...\n", appName)
}
