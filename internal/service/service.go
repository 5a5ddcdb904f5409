package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/pwava/databaseattendacetracker/internal/config"
	"github.com/pwava/databaseattendacetracker/internal/database"
	"github.com/pwava/databaseattendacetracker/internal/intake"
	redisx "github.com/pwava/databaseattendacetracker/internal/redis"
	"github.com/pwava/databaseattendacetracker/internal/rowstore"
	"github.com/pwava/databaseattendacetracker/internal/store"
)

// formsFetcher 表单提交拉取方（生产实现为 intake.FormsClient）
type formsFetcher interface {
	FetchSubmissions(formID string, since time.Time) ([]intake.Submission, error)
}

// AttendanceService 考勤服务
// 核心是单线程批处理：定时全量重算 + 按需提交；两个外部触发并发到来时
// 依靠纯重算的幂等性与基于键的去重保证结果一致
type AttendanceService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *goredis.Client
	store       rowstore.Store
	cache       *CacheManager
	consumer    *intake.Consumer
	formsClient formsFetcher

	// 测试注入的时钟；为 nil 时使用 time.Now
	nowFn func() time.Time
}

// NewAttendanceService 创建考勤服务（连接数据库与 Redis）
func NewAttendanceService(cfg *config.Config, logger *zap.Logger) (*AttendanceService, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := redisx.NewRedisClient(&cfg.Redis)
	if err := redisx.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	svc := &AttendanceService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		store:       rowstore.NewPostgresStore(db, logger),
	}

	kv := store.NewRedisKV(redisClient)
	svc.cache = NewCacheManager(
		kv,
		cfg.Attendance.CacheKeyPrefix,
		time.Duration(cfg.Attendance.CacheTTL)*time.Second,
		logger,
	)

	if cfg.Attendance.TriggerMode == "stream" {
		svc.consumer = intake.NewConsumer(
			redisClient,
			svc,
			logger,
			cfg.Attendance.Intake.Stream,
			cfg.Attendance.Intake.ConsumerGroup,
			cfg.Attendance.Intake.ConsumerName,
			int64(cfg.Attendance.Intake.BatchSize),
		)
	}

	if cfg.Attendance.Intake.FormsBaseURL != "" {
		svc.formsClient = intake.NewFormsClient(
			cfg.Attendance.Intake.FormsBaseURL,
			cfg.Attendance.Intake.FormsAppID,
			cfg.Attendance.Intake.FormsSecret,
			logger,
		)
	}

	return svc, nil
}

// NewWithStore 基于现成的记录存储与缓存构建服务（单元测试及本地演示）
func NewWithStore(cfg *config.Config, logger *zap.Logger, rs rowstore.Store, kv store.KV) *AttendanceService {
	svc := &AttendanceService{
		config: cfg,
		logger: logger,
		store:  rs,
	}
	if kv != nil {
		svc.cache = NewCacheManager(
			kv,
			cfg.Attendance.CacheKeyPrefix,
			time.Duration(cfg.Attendance.CacheTTL)*time.Second,
			logger,
		)
	}
	return svc
}

func (s *AttendanceService) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}

// Cache 聚合缓存（HTTP 层读取快照用）
func (s *AttendanceService) Cache() *CacheManager {
	return s.cache
}

// Store 记录存储（HTTP 层工作表导入用）
func (s *AttendanceService) Store() rowstore.Store {
	return s.store
}

// Start 启动服务
// polling 模式：固定间隔跑完整周期（表单同步 -> id 回填 -> 转入总账 -> 全量重算）
// stream 模式：消费提交事件流，同时保留定时全量重算兜底
func (s *AttendanceService) Start(ctx context.Context) error {
	s.logger.Info("Starting attendance service",
		zap.String("trigger_mode", s.config.Attendance.TriggerMode),
		zap.Int("poll_interval_seconds", s.config.Attendance.PollInterval),
	)

	if s.config.Attendance.TriggerMode == "stream" && s.consumer != nil {
		go func() {
			if err := s.consumer.Start(ctx); err != nil {
				s.logger.Error("Submission consumer stopped", zap.Error(err))
			}
		}()
	}

	interval := time.Duration(s.config.Attendance.PollInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// 启动即跑一轮，不等首个周期
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Attendance service stopping")
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle 一个完整的批处理周期
// 每步失败只记录并继续：下个周期的全量重算会把一切拉回一致
func (s *AttendanceService) runCycle(ctx context.Context) {
	if s.formsClient != nil {
		if n, err := s.SyncFormSubmissions(ctx); err != nil {
			s.logger.Error("Form submission sync failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("Synced form submissions", zap.Int("count", n))
		}
	}

	if _, err := s.BackfillIntakeIDs(ctx); err != nil {
		s.logger.Error("Intake id backfill failed", zap.Error(err))
	}

	if result, err := s.TransferFormIntake(ctx); err != nil {
		s.logger.Error("Form intake transfer failed", zap.Error(err))
	} else if result.Total > 0 {
		s.logger.Info("Transferred form intake",
			zap.Int("inserted", result.Inserted),
			zap.Int("skipped", result.Skipped),
		)
	}

	if _, err := s.RecomputeAggregates(ctx); err != nil {
		s.logger.Error("Aggregate recompute failed", zap.Error(err))
	}
}

// SyncFormSubmissions 从外部表单服务拉取新提交并落入原始数据表
// 时间窗拉取会反复返回同一批提交，先对表内已有行去重再追加，
// 同一条提交多轮同步只落表一次
func (s *AttendanceService) SyncFormSubmissions(ctx context.Context) (int, error) {
	since := s.now().Add(-24 * time.Hour)
	submissions, err := s.formsClient.FetchSubmissions("attendance", since)
	if err != nil {
		return 0, err
	}
	if len(submissions) == 0 {
		return 0, nil
	}

	seen, err := s.loadIntakeKeys(ctx)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, sub := range submissions {
		key := intakeDedupKey(sub.FullName, sub.EventDate, sub.EventName)
		if _, ok := seen[key]; ok {
			continue
		}
		if err := s.SubmitSubmission(ctx, sub); err != nil {
			s.logger.Warn("Failed to store form submission",
				zap.String("full_name", sub.FullName),
				zap.Error(err),
			)
			continue
		}
		seen[key] = struct{}{}
		synced++
	}
	return synced, nil
}

// PublishSubmission 接收 webhook 送来的表单提交
// stream 模式发布到提交事件流，由消费者落表；否则直接写入原始数据表
func (s *AttendanceService) PublishSubmission(ctx context.Context, sub intake.Submission) error {
	if s.config.Attendance.TriggerMode == "stream" && s.redisClient != nil {
		if _, err := redisx.PublishJSONToStream(ctx, s.redisClient, s.config.Attendance.Intake.Stream, sub); err != nil {
			return fmt.Errorf("publish submission to stream: %w", err)
		}
		return nil
	}
	return s.SubmitSubmission(ctx, sub)
}

// Stop 停止服务并释放连接
func (s *AttendanceService) Stop(ctx context.Context) error {
	if s.redisClient != nil {
		if err := redisx.Close(s.redisClient); err != nil {
			s.logger.Error("Error closing redis", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}
