// internal/common/config/loader.go
package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	apperrors "matching-client/internal/common/errors"
)

// EnvPrefix prefixes every environment override, e.g. MATCHING_BATCHSIZE.
const EnvPrefix = "MATCHING"

// requiredKeys must be present in the file or the environment.
var requiredKeys = []string{
	"mpid",
	"uri",
	"batchsize",
	"infile_path",
	"outfile_path",
	"stats_outfile_path",
}

// integerKeys are checked for integer shape before unmarshalling so the
// failing key can be named.
var integerKeys = []string{
	"mpid",
	"batchsize",
	"debugiterator",
	"fields.received_at",
	"fields.sender",
	"fields.recipient_address",
	"fields.body",
	"classifier.timeout",
	"pipeline.workers",
	"pipeline.progress_every",
}

// Load searches ./configs and . for a file named "config" (any viper-supported
// extension) and overlays MATCHING_* environment variables. A missing file is
// fine as long as the environment supplies the required keys.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, apperrors.NewConfigUnreadableError("config", err)
		}
	}

	return load(v)
}

// LoadFromFile loads configuration from a specific file path. The format is
// taken from the extension; files without one are read as TOML.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("toml")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, apperrors.NewConfigUnreadableError(path, err)
	}

	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	for _, key := range requiredKeys {
		_ = v.BindEnv(key)
	}
	return v
}

func load(v *viper.Viper) (*Config, error) {
	// Registered after reading so a file-level maxbatches moves onto debugiterator.
	v.RegisterAlias("maxbatches", "debugiterator")
	expandEnvVars(v)

	for _, key := range requiredKeys {
		if !v.IsSet(key) {
			return nil, apperrors.NewConfigMissingKeyError(key)
		}
	}
	for _, key := range integerKeys {
		if _, err := toInt(v.Get(key)); err != nil {
			return nil, apperrors.NewConfigWrongTypeError(key, "integer", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.NewConfigWrongTypeError("config", "decodable values", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// toInt converts like cast.ToIntE but rejects values that would lose a
// fractional part, so 2.5 is an error rather than 2.
func toInt(val interface{}) (int, error) {
	switch f := val.(type) {
	case float64:
		if f != math.Trunc(f) || f > math.MaxInt || f < math.MinInt {
			return 0, fmt.Errorf("%v is not an integer", f)
		}
	case float32:
		if float64(f) != math.Trunc(float64(f)) {
			return 0, fmt.Errorf("%v is not an integer", f)
		}
	}
	return cast.ToIntE(val)
}

// loadEnvFile loads the first .env found walking up to the module root.
func loadEnvFile() string {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values, mainly for
// publisher credentials.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "matching-client")
	v.SetDefault("app.environment", "development")

	v.SetDefault("debugiterator", -1)

	v.SetDefault("fields.received_at", 1)
	v.SetDefault("fields.sender", 2)
	v.SetDefault("fields.recipient_address", 3)
	v.SetDefault("fields.body", 8)

	v.SetDefault("classifier.timeout", 30000)
	v.SetDefault("classifier.strict_alignment", false)

	v.SetDefault("pipeline.workers", 1)
	v.SetDefault("pipeline.progress_every", 10)

	v.SetDefault("residual.layout", "full")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("publish.postgres.port", 5432)
	v.SetDefault("publish.redis.key_prefix", "matching")
	v.SetDefault("publish.elasticsearch.index", "unmatched-messages")
}

// applyDefaults fills values that may have been set explicitly to zero.
func applyDefaults(cfg *Config) {
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 1
	}
	if cfg.Pipeline.ProgressEvery == 0 {
		cfg.Pipeline.ProgressEvery = 10
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 30000
	}

	if cfg.Publish.Postgres.MaxConnections == 0 {
		cfg.Publish.Postgres.MaxConnections = 5
	}
	if cfg.Publish.Postgres.MaxIdle == 0 {
		cfg.Publish.Postgres.MaxIdle = 2
	}
	if cfg.Publish.Postgres.SSLMode == "" {
		cfg.Publish.Postgres.SSLMode = "disable"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.MPID < 0 || cfg.MPID > 65535 {
		return apperrors.NewConfigWrongTypeError("mpid", "integer in [0, 65535]", nil)
	}

	u, err := url.ParseRequestURI(cfg.URI)
	if err != nil {
		return apperrors.NewConfigWrongTypeError("uri", "absolute http(s) URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperrors.NewConfigWrongTypeError("uri", "absolute http(s) URL", fmt.Errorf("scheme %q", u.Scheme))
	}

	if cfg.BatchSize <= 0 {
		return apperrors.NewConfigWrongTypeError("batchsize", "positive integer", nil)
	}
	if cfg.InfilePath == "" {
		return apperrors.NewConfigMissingKeyError("infile_path")
	}
	if cfg.OutfilePath == "" {
		return apperrors.NewConfigMissingKeyError("outfile_path")
	}
	if cfg.StatsOutfilePath == "" {
		return apperrors.NewConfigMissingKeyError("stats_outfile_path")
	}

	if cfg.Pipeline.Workers < 1 {
		return apperrors.NewConfigWrongTypeError("pipeline.workers", "positive integer", nil)
	}
	if cfg.Pipeline.ProgressEvery < 0 {
		return apperrors.NewConfigWrongTypeError("pipeline.progress_every", "non-negative integer", nil)
	}
	if cfg.Classifier.Timeout < 0 {
		return apperrors.NewConfigWrongTypeError("classifier.timeout", "non-negative milliseconds", nil)
	}

	switch cfg.Residual.Layout {
	case "full", "minimal":
	default:
		return apperrors.NewConfigWrongTypeError("residual.layout", `"full" or "minimal"`, nil)
	}

	if pg := cfg.Publish.Postgres; pg.Enabled {
		if pg.Host == "" {
			return apperrors.NewConfigMissingKeyError("publish.postgres.host")
		}
		if pg.Database == "" {
			return apperrors.NewConfigMissingKeyError("publish.postgres.database")
		}
		if pg.User == "" {
			return apperrors.NewConfigMissingKeyError("publish.postgres.user")
		}
	}
	if cfg.Publish.Redis.Enabled && cfg.Publish.Redis.Address == "" {
		return apperrors.NewConfigMissingKeyError("publish.redis.address")
	}
	if cfg.Publish.Elasticsearch.Enabled && len(cfg.Publish.Elasticsearch.Addresses) == 0 {
		return apperrors.NewConfigMissingKeyError("publish.elasticsearch.addresses")
	}
	if sns := cfg.Notify.SNS; sns.Enabled {
		if sns.TopicARN == "" {
			return apperrors.NewConfigMissingKeyError("notify.sns.topic_arn")
		}
		if sns.Region == "" {
			return apperrors.NewConfigMissingKeyError("notify.sns.region")
		}
	}

	if email := cfg.Notify.Email; email.Enabled {
		if email.From == "" {
			return apperrors.NewConfigMissingKeyError("notify.email.from")
		}
		if len(email.To) == 0 {
			return apperrors.NewConfigMissingKeyError("notify.email.to")
		}
		if email.Region == "" {
			return apperrors.NewConfigMissingKeyError("notify.email.region")
		}
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
