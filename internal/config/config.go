package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TablesConfig 记录存储中的逻辑表名配置
// Directory 是最高优先级的身份来源，缺失时任何需要花名册的操作都必须直接报错
type TablesConfig struct {
	Directory     string   // 花名册（权威身份来源）
	ServiceLedger string   // 主日聚会签到总账
	EventLedger   string   // 活动签到总账
	Worksheets    []string // 进行中的报名/签到工作表（可有多张）
	FormIntake    string   // 表单提交原始数据表
}

// ThresholdsConfig 活跃度与跟进阈值配置
type ThresholdsConfig struct {
	CoreMin              int    // 滚动窗口内达到该次数归为 Core
	ActiveMin            int    // 滚动窗口内达到该次数归为 Active
	TrailingWindowMonths int    // 滚动统计窗口长度（月）
	ArchiveMonths        int    // 超过该月数未出席归为 Archive
	FollowUpDays         int    // 超过该天数未出席标记需要跟进
	VolunteerMarker      string // 角色/备注字段中的志愿者标记（大小写不敏感）
}

// TransferConfig 表单数据转入总账时的有界轮询配置
// 外部表单先写入一行，随后由异步流程补填 person id；转入步骤等待 id 出现
type TransferConfig struct {
	RetryCount   int // 轮询次数上限（硬上限，耗尽后跳过该行）
	RetryDelayMS int // 每次轮询之间的固定延迟（毫秒）
}

// IntakeConfig 表单提交接入配置（Redis Streams + 外部表单 API）
type IntakeConfig struct {
	Stream        string // 提交事件流名称，如 "attendance:submissions"
	ConsumerGroup string // 消费者组名称
	ConsumerName  string // 消费者名称
	BatchSize     int    // 批量读取大小

	// 外部表单服务 API（定时拉取表单提交）
	FormsBaseURL string
	FormsAppID   string
	FormsSecret  string
}

// Config 考勤服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	Attendance struct {
		Tables     TablesConfig
		Priority   []string // 身份来源优先级（表名，从高到低）
		Thresholds ThresholdsConfig
		Transfer   TransferConfig
		Intake     IntakeConfig

		// 触发模式：polling（定时全量重算）或 stream（事件驱动）
		TriggerMode string
		// 轮询模式下的全量重算间隔（秒）
		PollInterval int

		// 聚合结果缓存
		CacheKeyPrefix string
		CacheTTL       int // 秒
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量覆盖默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "attendance")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Attendance.Tables.Directory = getEnv("ATTEND_DIRECTORY_TABLE", "directory")
	cfg.Attendance.Tables.ServiceLedger = getEnv("ATTEND_SERVICE_LEDGER_TABLE", "service_ledger")
	cfg.Attendance.Tables.EventLedger = getEnv("ATTEND_EVENT_LEDGER_TABLE", "event_ledger")
	cfg.Attendance.Tables.FormIntake = getEnv("ATTEND_FORM_INTAKE_TABLE", "form_intake")
	cfg.Attendance.Tables.Worksheets = splitList(getEnv("ATTEND_WORKSHEET_TABLES", "registration"))

	// 身份来源优先级：花名册 > 主日总账 > 活动总账 > 工作表 > 表单原始数据
	priority := getEnv("ATTEND_SOURCE_PRIORITY", "")
	if priority != "" {
		cfg.Attendance.Priority = splitList(priority)
	} else {
		cfg.Attendance.Priority = append(
			[]string{
				cfg.Attendance.Tables.Directory,
				cfg.Attendance.Tables.ServiceLedger,
				cfg.Attendance.Tables.EventLedger,
			},
			append(append([]string{}, cfg.Attendance.Tables.Worksheets...), cfg.Attendance.Tables.FormIntake)...,
		)
	}

	cfg.Attendance.Thresholds.CoreMin = getEnvInt("ATTEND_CORE_MIN", 12)
	cfg.Attendance.Thresholds.ActiveMin = getEnvInt("ATTEND_ACTIVE_MIN", 3)
	cfg.Attendance.Thresholds.TrailingWindowMonths = getEnvInt("ATTEND_TRAILING_MONTHS", 3)
	cfg.Attendance.Thresholds.ArchiveMonths = getEnvInt("ATTEND_ARCHIVE_MONTHS", 12)
	cfg.Attendance.Thresholds.FollowUpDays = getEnvInt("ATTEND_FOLLOWUP_DAYS", 30)
	cfg.Attendance.Thresholds.VolunteerMarker = getEnv("ATTEND_VOLUNTEER_MARKER", "volunteer")

	cfg.Attendance.Transfer.RetryCount = getEnvInt("ATTEND_TRANSFER_RETRIES", 5)
	cfg.Attendance.Transfer.RetryDelayMS = getEnvInt("ATTEND_TRANSFER_DELAY_MS", 2000)

	cfg.Attendance.Intake.Stream = getEnv("ATTEND_INTAKE_STREAM", "attendance:submissions")
	cfg.Attendance.Intake.ConsumerGroup = getEnv("ATTEND_INTAKE_GROUP", "attendance-core-group")
	cfg.Attendance.Intake.ConsumerName = getEnv("ATTEND_INTAKE_CONSUMER", "attendance-core-1")
	cfg.Attendance.Intake.BatchSize = getEnvInt("ATTEND_INTAKE_BATCH_SIZE", 10)
	cfg.Attendance.Intake.FormsBaseURL = getEnv("FORMS_API_BASE_URL", "")
	cfg.Attendance.Intake.FormsAppID = getEnv("FORMS_API_APP_ID", "")
	cfg.Attendance.Intake.FormsSecret = getEnv("FORMS_API_SECRET", "")

	cfg.Attendance.TriggerMode = getEnv("ATTEND_TRIGGER_MODE", "polling")
	cfg.Attendance.PollInterval = getEnvInt("ATTEND_POLL_INTERVAL", 300)

	cfg.Attendance.CacheKeyPrefix = getEnv("ATTEND_CACHE_KEY_PREFIX", "attendance:person:")
	cfg.Attendance.CacheTTL = getEnvInt("ATTEND_CACHE_TTL", 600)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8086")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// getEnv 读取环境变量，不存在时返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt 读取整型环境变量，解析失败时返回默认值
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

// splitList 解析逗号分隔的表名列表，忽略空项
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
