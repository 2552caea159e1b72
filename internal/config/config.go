// Package config загружает конфигурацию процессов Conduit.
//
// Источники по возрастанию приоритета: значения по умолчанию,
// файл conduit.yaml (текущий каталог, $HOME/.conduit, /etc/conduit
// или явный путь), переменные окружения с префиксом CONDUIT_
// (CONDUIT_STORE_DRIVER, CONDUIT_ENGINE_REMOTE_STEPS, ...).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/steps"
)

const (
	// AppName — имя файла конфигурации без расширения.
	AppName = "conduit"

	// EnvPrefix — префикс переменных окружения.
	EnvPrefix = "CONDUIT"
)

// Драйверы хранилища.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config — конфигурация процесса.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Store  StoreConfig  `mapstructure:"store"`
	MQ     MQConfig     `mapstructure:"mq"`
	Engine EngineConfig `mapstructure:"engine"`
	Retry  RetryConfig  `mapstructure:"retry"`
	Step   StepConfig   `mapstructure:"step"`
	HTTP   HTTPConfig   `mapstructure:"http"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	PostgresURL string `mapstructure:"postgres_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

type MQConfig struct {
	// URL — адрес RabbitMQ. Пустой — процесс работает без брокера
	// (только polling хранилища).
	URL string `mapstructure:"url"`
}

type EngineConfig struct {
	TaskQueue      string        `mapstructure:"task_queue"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxSteps       int           `mapstructure:"max_steps"`
	MaxActiveRuns  int           `mapstructure:"max_active_runs"`
	RemoteSteps    bool          `mapstructure:"remote_steps"`
	RequireTrigger bool          `mapstructure:"require_trigger"`
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type StepConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type HTTPConfig struct {
	APIPort          int `mapstructure:"api_port"`
	OrchestratorPort int `mapstructure:"orchestrator_port"`
	WorkerPort       int `mapstructure:"worker_port"`
	SchedulerPort    int `mapstructure:"scheduler_port"`
}

// Load читает конфигурацию. path — явный путь к файлу; пустой путь
// включает поиск conduit.yaml, и его отсутствие ошибкой не считается.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.conduit")
		v.AddConfigPath("/etc/conduit")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.postgres_url", "")
	v.SetDefault("store.sqlite_path", "conduit.db")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_prefix", "conduit:")

	v.SetDefault("mq.url", "")

	v.SetDefault("engine.task_queue", "conduit-workflow-queue")
	v.SetDefault("engine.poll_interval", 10*time.Second)
	v.SetDefault("engine.max_steps", 1000)
	v.SetDefault("engine.max_active_runs", 100)
	v.SetDefault("engine.remote_steps", false)
	v.SetDefault("engine.require_trigger", false)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", time.Second)
	v.SetDefault("retry.max_backoff", 10*time.Second)

	v.SetDefault("step.timeout", 120*time.Second)

	v.SetDefault("http.api_port", 8080)
	v.SetDefault("http.scheduler_port", 8081)
	v.SetDefault("http.worker_port", 8082)
	v.SetDefault("http.orchestrator_port", 8083)
}

// Validate проверяет значения, которые нельзя исправить молча.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite, DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < 0 || c.Step.Timeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.Engine.RemoteSteps && c.MQ.URL == "" {
		return fmt.Errorf("engine.remote_steps requires mq.url")
	}
	return nil
}

// StepDefaults — политика шагов по умолчанию: retry.* и step.timeout.
func (c *Config) StepDefaults() steps.Policy {
	return steps.Policy{
		Timeout: c.Step.Timeout,
		Retry: domain.RetryPolicy{
			MaxAttempts:    c.Retry.MaxAttempts,
			Backoff:        "exponential",
			InitialDelayMs: int(c.Retry.InitialBackoff / time.Millisecond),
			MaxDelayMs:     int(c.Retry.MaxBackoff / time.Millisecond),
		},
	}
}

// Addr возвращает адрес HTTP-сервера для порта.
func Addr(port int) string {
	return fmt.Sprintf(":%d", port)
}
