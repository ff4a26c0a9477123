// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig               `mapstructure:"app"`
	Engine       EngineConfig            `mapstructure:"engine"`
	Conversation ConversationConfig      `mapstructure:"conversation"`
	Camunda      CamundaConfig           `mapstructure:"camunda"`
	Database     DatabaseConfig          `mapstructure:"database"`
	Workers      map[string]WorkerConfig `mapstructure:"workers"`
	Audit        AuditConfig             `mapstructure:"audit"`
	Logging      LoggingConfig           `mapstructure:"logging"`
	Metrics      MetricsConfig           `mapstructure:"metrics"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// Model sources.
const (
	ModelSourceFile     = "file"
	ModelSourceHTTP     = "http"
	ModelSourcePostgres = "postgres"
)

// EngineConfig drives intent matching.
type EngineConfig struct {
	StepBudget    int    `mapstructure:"step_budget"`
	Workers       int    `mapstructure:"workers"`
	OrderTieBreak bool   `mapstructure:"order_tie_break"`
	ModelSource   string `mapstructure:"model_source"` // file | http | postgres
	ModelPath     string `mapstructure:"model_path"`
	ModelURL      string `mapstructure:"model_url"`
	ModelToken    string `mapstructure:"model_token"`
	ModelID       string `mapstructure:"model_id"`
}

// Conversation stores.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type ConversationConfig struct {
	Depth       int    `mapstructure:"depth"`
	Timeout     int    `mapstructure:"timeout"` // milliseconds, 0 disables
	DialogLimit int    `mapstructure:"dialog_limit"`
	Store       string `mapstructure:"store"` // memory | redis
	KeyPrefix   string `mapstructure:"key_prefix"`
	TTL         int    `mapstructure:"ttl"`      // milliseconds
	LockTTL     int    `mapstructure:"lock_ttl"` // milliseconds, redis only
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
}

// GetURL returns the URL field or the first address
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// AuditConfig selects where resolution events are published.
type AuditConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	ElasticsearchIndex string `mapstructure:"elasticsearch_index"`
	SNSTopicARN        string `mapstructure:"sns_topic_arn"`
	Region             string `mapstructure:"region"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// ConversationTimeout is the idle timeout as a duration.
func (c ConversationConfig) ConversationTimeout() time.Duration {
	return GetDuration(c.Timeout)
}

// SessionLockTTL bounds how long a crashed process can hold a Redis session lock.
func (c ConversationConfig) SessionLockTTL() time.Duration {
	return GetDuration(c.LockTTL)
}

// KeyTTL is the Redis key TTL as a duration.
func (c ConversationConfig) KeyTTL() time.Duration {
	return GetDuration(c.TTL)
}
