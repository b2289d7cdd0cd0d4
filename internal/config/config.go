package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"ehrsync/internal/domain/central"
	"ehrsync/internal/domain/sync"
)

const (
	defaultEnvPath = ".env"
	EnvLocal       = "local"
	EnvDev         = "dev"
	EnvProd        = "prod"
)

type Config struct {
	Env     string
	DB      DB
	Server  Server
	Logger  Logger
	Sync    Sync
	Central Central
}

type DB struct {
	URI        string
	Migrations string
}

type Server struct {
	RunAddress   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Logger struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Sync настройки синхронизации учреждения
type Sync struct {
	Enabled  bool
	ReadOnly bool
	Interval time.Duration
	// AssertIfPulledRecordsUpdatedAfterPushSnapshot см. sync.Config
	AssertIfPulledRecordsUpdatedAfterPushSnapshot bool
	// PendingEditsTimeout 0 означает ожидание без ограничения
	PendingEditsTimeout time.Duration
	DynamicLimiter      DynamicLimiter
}

type DynamicLimiter struct {
	InitialLimit          int
	MinLimit              int
	MaxLimit              int
	OptimalTimePerPage    time.Duration
	MaxLimitChangePerPage float64
}

// Central адрес центрального сервера для учреждения и настройки самого сервера
type Central struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	SessionTimeout time.Duration
	LapsedAfter    time.Duration
	PurgeInterval  time.Duration
	MaxPageSize    int
	// Migrations схема центральной базы, db.migrations относится к учреждению
	Migrations string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", EnvLocal)

	v.SetDefault("db.migrations", "migrations/facility")

	v.SetDefault("server.run_address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)

	v.SetDefault("logger.level", "")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)

	limiter := sync.DefaultLimiterConfig()
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.read_only", false)
	v.SetDefault("sync.interval", time.Minute)
	v.SetDefault("sync.assert_if_pulled_records_updated_after_push_snapshot", true)
	v.SetDefault("sync.pending_edits_timeout", time.Duration(0))
	v.SetDefault("sync.dynamic_limiter.initial_limit", limiter.InitialLimit)
	v.SetDefault("sync.dynamic_limiter.min_limit", limiter.MinLimit)
	v.SetDefault("sync.dynamic_limiter.max_limit", limiter.MaxLimit)
	v.SetDefault("sync.dynamic_limiter.optimal_time_per_page", limiter.OptimalTimePerPage)
	v.SetDefault("sync.dynamic_limiter.max_limit_change_per_page", limiter.MaxLimitChangePerPage)

	centralDefaults := central.DefaultConfig()
	v.SetDefault("central.url", "http://localhost:8080")
	v.SetDefault("central.timeout", 30*time.Second)
	v.SetDefault("central.max_retries", 4)
	v.SetDefault("central.backoff_initial", 500*time.Millisecond)
	v.SetDefault("central.backoff_max", 10*time.Second)
	v.SetDefault("central.session_timeout", centralDefaults.SessionTimeout)
	v.SetDefault("central.lapsed_after", centralDefaults.LapsedAfter)
	v.SetDefault("central.purge_interval", time.Minute)
	v.SetDefault("central.max_page_size", centralDefaults.MaxPageSize)
	v.SetDefault("central.migrations", "migrations/central")
}

// Load читает .env (если есть), необязательный файл конфигурации и переменные окружения.
// Ключ sync.dynamic_limiter.min_limit переопределяется переменной SYNC_DYNAMIC_LIMITER_MIN_LIMIT.
func Load(envPath, configFile string) (*Config, error) {
	if envPath == "" {
		envPath = defaultEnvPath
	}
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// исторические имена переменных
	_ = v.BindEnv("db.uri", "DB_URI", "DATABASE_URI")
	_ = v.BindEnv("db.migrations", "DB_MIGRATIONS", "MIGRATIONS_PATH")
	_ = v.BindEnv("server.run_address", "SERVER_RUN_ADDRESS", "RUN_ADDRESS")
	_ = v.BindEnv("logger.level", "LOGGER_LEVEL", "LOG_LEVEL")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Env: v.GetString("app_env"),
		DB: DB{
			URI:        v.GetString("db.uri"),
			Migrations: v.GetString("db.migrations"),
		},
		Server: Server{
			RunAddress:   v.GetString("server.run_address"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
		},
		Logger: Logger{
			Level:      v.GetString("logger.level"),
			File:       v.GetString("logger.file"),
			MaxSizeMB:  v.GetInt("logger.max_size_mb"),
			MaxBackups: v.GetInt("logger.max_backups"),
		},
		Sync: Sync{
			Enabled:  v.GetBool("sync.enabled"),
			ReadOnly: v.GetBool("sync.read_only"),
			Interval: v.GetDuration("sync.interval"),
			AssertIfPulledRecordsUpdatedAfterPushSnapshot: v.GetBool("sync.assert_if_pulled_records_updated_after_push_snapshot"),
			PendingEditsTimeout: v.GetDuration("sync.pending_edits_timeout"),
			DynamicLimiter: DynamicLimiter{
				InitialLimit:          v.GetInt("sync.dynamic_limiter.initial_limit"),
				MinLimit:              v.GetInt("sync.dynamic_limiter.min_limit"),
				MaxLimit:              v.GetInt("sync.dynamic_limiter.max_limit"),
				OptimalTimePerPage:    v.GetDuration("sync.dynamic_limiter.optimal_time_per_page"),
				MaxLimitChangePerPage: v.GetFloat64("sync.dynamic_limiter.max_limit_change_per_page"),
			},
		},
		Central: Central{
			URL:            v.GetString("central.url"),
			Timeout:        v.GetDuration("central.timeout"),
			MaxRetries:     v.GetInt("central.max_retries"),
			BackoffInitial: v.GetDuration("central.backoff_initial"),
			BackoffMax:     v.GetDuration("central.backoff_max"),
			SessionTimeout: v.GetDuration("central.session_timeout"),
			LapsedAfter:    v.GetDuration("central.lapsed_after"),
			PurgeInterval:  v.GetDuration("central.purge_interval"),
			MaxPageSize:    v.GetInt("central.max_page_size"),
			Migrations:     v.GetString("central.migrations"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad загружает конфигурацию и паникует при ошибке
func MustLoad() *Config {
	cfg, err := Load(os.Getenv("ENV_PATH"), os.Getenv("CONFIG_FILE"))
	if err != nil {
		panic(fmt.Sprintf("config error: %v", err))
	}
	return cfg
}

func (c *Config) validate() error {
	if err := c.LimiterConfig().Validate(); err != nil {
		return err
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Central.MaxRetries < 0 {
		return fmt.Errorf("central.max_retries must not be negative")
	}
	return nil
}

func (c *Config) LimiterConfig() sync.LimiterConfig {
	l := c.Sync.DynamicLimiter
	return sync.LimiterConfig{
		InitialLimit:          l.InitialLimit,
		MinLimit:              l.MinLimit,
		MaxLimit:              l.MaxLimit,
		OptimalTimePerPage:    l.OptimalTimePerPage,
		MaxLimitChangePerPage: l.MaxLimitChangePerPage,
	}
}

// SyncManagerConfig настройки менеджера синхронизации учреждения
func (c *Config) SyncManagerConfig() sync.Config {
	return sync.Config{
		Enabled:  c.Sync.Enabled,
		ReadOnly: c.Sync.ReadOnly,
		AssertIfPulledRecordsUpdatedAfterPushSnapshot: c.Sync.AssertIfPulledRecordsUpdatedAfterPushSnapshot,
		Limiter:    c.LimiterConfig(),
		WaitPolicy: sync.WaitPolicy{Timeout: c.Sync.PendingEditsTimeout},
	}
}

// CentralConfig настройки сервиса центрального сервера
func (c *Config) CentralConfig() central.Config {
	return central.Config{
		SessionTimeout: c.Central.SessionTimeout,
		LapsedAfter:    c.Central.LapsedAfter,
		MaxPageSize:    c.Central.MaxPageSize,
	}
}

func (c *Config) IsProd() bool {
	return c.Env == EnvProd
}

func (c *Config) IsLocal() bool {
	return c.Env == EnvLocal || c.Env == ""
}

// CentralDB подключение центрального сервера: та же база, своя схема миграций
func (c *Config) CentralDB() DB {
	return DB{URI: c.DB.URI, Migrations: c.Central.Migrations}
}
