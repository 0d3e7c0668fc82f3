package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dtu-telemetry/internal/cache"
	"dtu-telemetry/internal/config"
	"dtu-telemetry/internal/consumer"
	"dtu-telemetry/internal/engine"
	"dtu-telemetry/internal/gate"
	"dtu-telemetry/internal/ingest"
	"dtu-telemetry/internal/mqtt"
	"dtu-telemetry/internal/publisher"
	"dtu-telemetry/internal/repository"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// TelemetryService 遥测接入与报警评估服务（整合各层）
type TelemetryService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	stateCache  *cache.StateCache
	ruleCache   *engine.RuleCache
	ruleRepo    *repository.AlarmRuleRepository
	alarmRepo   *repository.AlarmRepository
	engine      *engine.Engine
	ruleService *engine.RuleService
	ingestor    *ingest.Ingestor
	consumer    *consumer.TelemetryConsumer
	mqttClient  *mqtt.Client
	httpServer  *http.Server

	refreshCancel context.CancelFunc
	startedAt     time.Time
}

// NewTelemetryService 创建遥测服务
func NewTelemetryService(cfg *config.Config, logger *zap.Logger) (*TelemetryService, error) {
	// 1. 连接数据库
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试数据库连接
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

	// 3. 创建 Repository 层
	ruleRepo := repository.NewAlarmRuleRepository(db, logger)
	alarmRepo := repository.NewAlarmRepository(db, logger)

	// 4. 创建状态缓存与规则缓存
	stateCache := cache.NewStateCache(cache.Options{
		MaxSize:          cfg.Cache.MaxSize,
		OnlineVariantTTL: cfg.Cache.OnlineVariantTTL,
		OfflineHotTTL:    cfg.Cache.OfflineHotTTL,
		OfflineColdTTL:   cfg.Cache.OfflineColdTTL,
	}, logger)
	ruleCache := engine.NewRuleCache()

	// 5. 报警投递出口：Redis Streams 固定启用，Webhook 按配置追加
	outlets := []publisher.AlarmPublisher{
		publisher.NewStreamPublisher(redisClient, cfg.Engine.AlarmStream, logger),
	}
	if cfg.Engine.WebhookURL != "" {
		outlets = append(outlets, publisher.NewWebhookNotifier(cfg.Engine.WebhookURL, logger))
	}

	// 6. 创建引擎与规则服务
	eng := engine.NewEngine(ruleCache, alarmRepo, ruleRepo, publisher.NewMulti(outlets...), logger)
	ruleService := engine.NewRuleService(ruleRepo, ruleCache, logger)

	// 7. 创建接入前门
	ingestGate := gate.NewGate(cfg.Ingest.Quarantine, logger)
	ingestor := ingest.NewIngestor(ingestGate, stateCache, eng, cfg.Ingest.VariantProtocols, logger)

	// 8. 连接 MQTT 并创建消费者
	mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create mqtt client: %w", err)
	}
	telemetryConsumer := consumer.NewTelemetryConsumer(cfg, mqttClient, ingestor, logger)

	return &TelemetryService{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		logger:      logger,
		stateCache:  stateCache,
		ruleCache:   ruleCache,
		ruleRepo:    ruleRepo,
		alarmRepo:   alarmRepo,
		engine:      eng,
		ruleService: ruleService,
		ingestor:    ingestor,
		consumer:    telemetryConsumer,
		mqttClient:  mqttClient,
	}, nil
}

// Start 启动服务
func (s *TelemetryService) Start(ctx context.Context) error {
	s.logger.Info("Starting telemetry service")

	// 启动前全量加载启用规则
	if err := s.ruleService.RefreshRuleCache(ctx); err != nil {
		return fmt.Errorf("failed to load rule cache: %w", err)
	}

	// 周期性全量刷新，兜底外部直改数据库的场景
	refreshCtx, cancel := context.WithCancel(context.Background())
	s.refreshCancel = cancel
	go s.refreshLoop(refreshCtx)

	// 启动消费者
	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start telemetry consumer: %w", err)
	}

	// 启动 HTTP 服务（健康检查/缓存统计/指标）
	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Addr:         s.config.HTTP.Addr,
		Handler:      s.buildMux(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server exited", zap.Error(err))
		}
	}()

	s.logger.Info("Telemetry service started",
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.String("mqtt_topic", s.config.MQTT.Topic),
	)
	return nil
}

// Stop 停止服务
func (s *TelemetryService) Stop() error {
	s.logger.Info("Stopping telemetry service")

	if s.refreshCancel != nil {
		s.refreshCancel()
	}

	s.consumer.Stop()
	s.mqttClient.Disconnect()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server", zap.Error(err))
		}
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}

// RuleService 规则运维入口
func (s *TelemetryService) RuleService() *engine.RuleService {
	return s.ruleService
}

// refreshLoop 按配置间隔刷新规则缓存
func (s *TelemetryService) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Engine.RuleRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ruleService.RefreshRuleCache(ctx); err != nil {
				s.logger.Error("Failed to refresh rule cache", zap.Error(err))
			}
		}
	}
}

// buildMux 组装 HTTP 路由
func (s *TelemetryService) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":         "ok",
			"mqtt":           s.mqttClient.IsConnected(),
			"inflight_keys":  s.ingestor.InflightCount(),
			"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})

	mux.HandleFunc("/cache/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.stateCache.Stats())
	})

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}
