package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full service configuration. Keys are the mapstructure tags
// joined with dots, e.g. sync.packet_size or BCSYNC_SYNC_PACKET_SIZE.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Source    SourceConfig    `mapstructure:"source"`
	Target    TargetConfig    `mapstructure:"target"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	Output string `mapstructure:"output"` // stdout, stderr or a file path
}

// HTTPConfig holds API server limits.
type HTTPConfig struct {
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes" validate:"gte=0"`
	MaxBodySize    int64         `mapstructure:"max_body_size" validate:"gte=0"`
	TrustedProxies []string      `mapstructure:"trusted_proxies"`
	// RunRateLimit caps POST /runs per client and window. 0 disables it.
	RunRateLimit  int           `mapstructure:"run_rate_limit" validate:"gte=0"`
	RunRateWindow time.Duration `mapstructure:"run_rate_window" validate:"gt=0"`
}

// DatabaseConfig is the ledger database. Lifetimes are in minutes.
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// RedisConfig backs the run guard. Disabled means an in-process guard.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// StorageConfig is the S3 compatible bucket batch results are archived to.
type StorageConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

type SyncConfig struct {
	PacketSize     int           `mapstructure:"packet_size" validate:"gte=0"`
	DataType       string        `mapstructure:"data_type"`
	ContinueOnFail bool          `mapstructure:"continue_on_fail"`
	RunLockTTL     time.Duration `mapstructure:"run_lock_ttl" validate:"gt=0"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
	LedgerEnabled  bool          `mapstructure:"ledger_enabled"`
	ArchiveEnabled bool          `mapstructure:"archive_enabled"`
	// ScheduleInterval of 0 disables scheduled runs.
	ScheduleInterval time.Duration `mapstructure:"schedule_interval" validate:"omitempty,min=1m"`
	ScheduleItems    int           `mapstructure:"schedule_items" validate:"gte=0"`
}

// SourceConfig is the i95Dev connection.
type SourceConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	RefreshToken    string `mapstructure:"refresh_token"`
	ClientID        string `mapstructure:"client_id"`
	SubscriptionKey string `mapstructure:"subscription_key"`
	InstanceType    string `mapstructure:"instance_type"` // Staging or Production
	EndpointCode    string `mapstructure:"endpoint_code"`
	EndpointCodeBC  string `mapstructure:"endpoint_code_bc"`
}

// TargetConfig is the Business Central connection.
type TargetConfig struct {
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Environment  string `mapstructure:"environment"`
	LoginBaseURL string `mapstructure:"login_base_url"`
	APIBaseURL   string `mapstructure:"api_base_url"`
}

// TelemetryConfig covers traces, metrics, logs and profiles.
type TelemetryConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"` // OTLP gRPC, e.g. localhost:4317
	SamplingRatio     float64 `mapstructure:"sampling_ratio" validate:"gte=0,lte=1"`
	ServiceName       string  `mapstructure:"service_name"`
	Insecure          bool    `mapstructure:"insecure"`

	MetricsEnabled        bool          `mapstructure:"metrics_enabled"`
	MetricsExportInterval time.Duration `mapstructure:"metrics_export_interval"`
	LogsEnabled           bool          `mapstructure:"logs_enabled"`

	ProfilingEnabled bool   `mapstructure:"profiling_enabled"`
	PyroscopeAddress string `mapstructure:"pyroscope_address"`

	DBTraceEnabled    bool          `mapstructure:"db_trace_enabled"`
	DBLogFullSQL      bool          `mapstructure:"db_log_full_sql"`
	DBSlowQueryThresh time.Duration `mapstructure:"db_slow_query_threshold"`
}

// defaults registers every key so environment variables can override it.
var defaults = map[string]any{
	"app.name": "bcsync",
	"app.env":  "development",
	"app.port": "8080",

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	"http.read_timeout": 15 * time.Second,
	// Batch runs are synchronous and may span several items.
	"http.write_timeout":    5 * time.Minute,
	"http.idle_timeout":     60 * time.Second,
	"http.max_header_bytes": 1 << 20,
	"http.max_body_size":    1 << 20,
	"http.trusted_proxies":  []string{},
	"http.run_rate_limit":   0,
	"http.run_rate_window":  time.Minute,

	"database.host":               "localhost",
	"database.port":               5432,
	"database.user":               "postgres",
	"database.password":           "",
	"database.dbname":             "bcsync",
	"database.sslmode":            "disable",
	"database.max_open_conns":     10,
	"database.max_idle_conns":     2,
	"database.conn_max_lifetime":  60,
	"database.conn_max_idle_time": 30,
	"database.auto_migrate":       false,

	"redis.enabled":  false,
	"redis.host":     "localhost",
	"redis.port":     6379,
	"redis.password": "",
	"redis.db":       0,

	"storage.endpoint":           "",
	"storage.region":             "us-east-1",
	"storage.bucket":             "bcsync-results",
	"storage.access_key":         "",
	"storage.secret_key":         "",
	"storage.use_ssl":            true,
	"storage.use_path_style":     false,

	"sync.packet_size":       5,
	"sync.data_type":         "",
	"sync.continue_on_fail":  false,
	"sync.run_lock_ttl":      10 * time.Minute,
	"sync.http_timeout":      30 * time.Second,
	"sync.ledger_enabled":    false,
	"sync.archive_enabled":   false,
	"sync.schedule_interval": time.Duration(0),
	"sync.schedule_items":    1,

	"source.base_url":         "",
	"source.refresh_token":    "",
	"source.client_id":        "",
	"source.subscription_key": "",
	"source.instance_type":    "Staging",
	"source.endpoint_code":    "",
	"source.endpoint_code_bc": "",

	"target.tenant_id":      "",
	"target.client_id":      "",
	"target.client_secret":  "",
	"target.environment":    "",
	"target.login_base_url": "",
	"target.api_base_url":   "",

	"telemetry.enabled":                 false,
	"telemetry.collector_endpoint":      "localhost:4317",
	"telemetry.sampling_ratio":          1.0,
	"telemetry.service_name":            "bcsync",
	"telemetry.insecure":                false,
	"telemetry.metrics_enabled":         false,
	"telemetry.metrics_export_interval": time.Minute,
	"telemetry.logs_enabled":            false,
	"telemetry.profiling_enabled":       false,
	"telemetry.pyroscope_address":       "http://localhost:4040",
	"telemetry.db_trace_enabled":        false,
	"telemetry.db_log_full_sql":         false,
	"telemetry.db_slow_query_threshold": 200 * time.Millisecond,
}

// Load reads config.toml from . or /app when present, then applies
// BCSYNC_ prefixed environment variables over it and the defaults.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("BCSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("mapstructure")
	})
	return v
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, describeFieldError(fe))
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	if c.App.Env == "production" {
		if c.Sync.LedgerEnabled {
			if c.Database.Password == "" {
				return errors.New("database.password is required in production")
			}
			if c.Database.SSLMode == "disable" {
				return errors.New("database.sslmode cannot be 'disable' in production")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return errors.New("telemetry.db_log_full_sql must be false in production")
		}
	}
	return nil
}

// describeFieldError renders e.g. "sync.packet_size cannot be negative".
func describeFieldError(fe validator.FieldError) string {
	key := fe.Namespace()
	if i := strings.IndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	switch fe.Tag() {
	case "gte", "min":
		if fe.Param() == "0" {
			return key + " cannot be negative"
		}
		return fmt.Sprintf("%s must be at least %s, got %v", key, fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", key, fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s, got %v", key, fe.Param(), fe.Value())
	case "ltefield":
		return fmt.Sprintf("%s (%v) cannot exceed %s", key, fe.Value(), siblingKey(key, fe.Param()))
	default:
		return fmt.Sprintf("%s failed %s validation", key, fe.Tag())
	}
}

// siblingKey maps a Go field name in the same struct to its config key.
func siblingKey(key, field string) string {
	section := key
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		section = key[:i]
	}
	return section + "." + toSnake(field)
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DSN returns the Postgres URL with user info and query escaped.
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     d.DBName,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

// Addr returns host:port.
func (r *RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}
