// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct. The upper-case keys
// (MPID, URI, BATCHSIZE, DEBUGITERATOR) keep the names of the flat run file;
// viper matches keys case-insensitively.
type Config struct {
	App AppConfig `mapstructure:"app"`

	MPID             int    `mapstructure:"mpid"`
	URI              string `mapstructure:"uri"`
	BatchSize        int    `mapstructure:"batchsize"`
	MaxBatches       int    `mapstructure:"debugiterator"` // < 0 means unlimited
	InfilePath       string `mapstructure:"infile_path"`
	OutfilePath      string `mapstructure:"outfile_path"`
	StatsOutfilePath string `mapstructure:"stats_outfile_path"`

	Fields     FieldsConfig     `mapstructure:"fields"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Residual   ResidualConfig   `mapstructure:"residual"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Publish    PublishConfig    `mapstructure:"publish"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// FieldsConfig holds the zero-based column of each message field in the input rows.
type FieldsConfig struct {
	ReceivedAt       int `mapstructure:"received_at"`
	Sender           int `mapstructure:"sender"`
	RecipientAddress int `mapstructure:"recipient_address"`
	Body             int `mapstructure:"body"`
}

type ClassifierConfig struct {
	Timeout         int  `mapstructure:"timeout"` // milliseconds
	StrictAlignment bool `mapstructure:"strict_alignment"`
}

// TimeoutDuration returns the per-request timeout.
func (c ClassifierConfig) TimeoutDuration() time.Duration {
	return GetDuration(c.Timeout)
}

type PipelineConfig struct {
	Workers       int `mapstructure:"workers"`
	ProgressEvery int `mapstructure:"progress_every"`
}

type ResidualConfig struct {
	Layout string `mapstructure:"layout"` // "full" or "minimal"
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// --- Run-end publishers ---

type PublishConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
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

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	TTL       int    `mapstructure:"ttl"` // seconds, 0 keeps keys forever
}

type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type NotifyConfig struct {
	SNS   SNSConfig   `mapstructure:"sns"`
	Email EmailConfig `mapstructure:"email"`
}

type SNSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Region   string `mapstructure:"region"`
	TopicARN string `mapstructure:"topic_arn"`
}

// EmailConfig mails a plain-text run report through SES.
type EmailConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Region  string   `mapstructure:"region"`
	From    string   `mapstructure:"from"`
	To      []string `mapstructure:"to"`
}
