package service

import (
	"context"
	"database/sql"
	"fmt"

	"bloodcore/internal/cache"
	"bloodcore/internal/clock"
	"bloodcore/internal/config"
	"bloodcore/internal/idgen"
	"bloodcore/internal/notification"
	"bloodcore/internal/repository"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// App 血库核心服务（整合各层）
type App struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	UnitsRepo    repository.UnitsRepository
	RequestsRepo repository.RequestsRepository
	SummaryCache *cache.SummaryCache
	Notifier     notification.Notifier
	Inventory    *InventoryService
	Matcher      *AllocationMatcher
	Requests     *RequestService
	Summaries    *SummaryService
}

// NewApp 创建服务（连接 PostgreSQL 与 Redis 并组装各层）
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// 1. 连接数据库
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxConns)
	}
	if cfg.Database.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdle)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 组装各层
	clk := clock.System()
	unitsRepo := repository.NewPostgresUnitsRepository(db)
	requestsRepo := repository.NewPostgresRequestsRepository(db)

	kv := cache.NewRedisKVStore(redisClient)
	summaryCache := cache.NewSummaryCache(kv, cfg.Inventory.CacheKeyPrefix, cfg.Inventory.SummaryCacheTTL, logger)

	notifier := notification.NewGateway(redisClient, cfg.Notify.Stream, cfg.Notify.WebhookURL, logger)

	inventory := NewInventoryService(unitsRepo, summaryCache, clk, cfg.Reservation.TTL, logger)
	matcher := NewAllocationMatcher(unitsRepo, inventory, logger)
	requests := NewRequestService(requestsRepo, inventory, matcher, notifier, idgen.NewUUIDGenerator(), clk, logger)
	summaries := NewSummaryService(unitsRepo, summaryCache, clk,
		cfg.Inventory.LowStockThreshold, cfg.Inventory.ExpiryWarningDays, logger)

	return &App{
		config:       cfg,
		db:           db,
		redisClient:  redisClient,
		logger:       logger,
		UnitsRepo:    unitsRepo,
		RequestsRepo: requestsRepo,
		SummaryCache: summaryCache,
		Notifier:     notifier,
		Inventory:    inventory,
		Matcher:      matcher,
		Requests:     requests,
		Summaries:    summaries,
	}, nil
}

// Stop 停止服务（关闭连接）
func (a *App) Stop() error {
	a.logger.Info("Stopping bloodcore service")

	if err := a.db.Close(); err != nil {
		a.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}
	if err := a.redisClient.Close(); err != nil {
		a.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}
	return nil
}
