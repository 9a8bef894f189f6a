package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App          AppSettings          `mapstructure:"app"`
	Postgres     PostgresSettings     `mapstructure:"postgres"`
	Redis        RedisSettings        `mapstructure:"redis"`
	Kafka        KafkaSettings        `mapstructure:"kafka"`
	JWT          JWTSettings          `mapstructure:"jwt"`
	Telemetry    TelemetrySettings    `mapstructure:"telemetry"`
	Argon2       Argon2Settings       `mapstructure:"argon2"`
	Auth         AuthSettings         `mapstructure:"auth"`
	RateLimit    RateLimitSettings    `mapstructure:"rate_limit"`
	Revocation   RevocationSettings   `mapstructure:"revocation"`
	Audit        AuditSettings        `mapstructure:"audit"`
	Housekeeping HousekeepingSettings `mapstructure:"housekeeping"`
}

type AppSettings struct {
	Name               string   `mapstructure:"name"`
	Env                string   `mapstructure:"env"`
	Host               string   `mapstructure:"host"`
	Port               int      `mapstructure:"port"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DB              int    `mapstructure:"db"`
	Password        string `mapstructure:"password"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	RateLimitPrefix string `mapstructure:"rate_limit_prefix"`
	RevokedPrefix   string `mapstructure:"revoked_prefix"`
}

// KafkaSettings configures the audit event producer
type KafkaSettings struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type JWTSettings struct {
	KeyDirectory string   `mapstructure:"key_directory"`
	KeyID        string   `mapstructure:"key_id"`
	Issuer       string   `mapstructure:"issuer"`
	Audience     []string `mapstructure:"audience"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// AuthSettings holds token lifetimes, session caps and per-type login rules.
type AuthSettings struct {
	AccessTokenTTLMinutes         int           `mapstructure:"access_token_ttl_minutes"`
	RefreshTokenTTLDays           int           `mapstructure:"refresh_token_ttl_days"`
	RememberMeTTLDays             int           `mapstructure:"remember_me_ttl_days"`
	MaxRefreshTokenTTLDays        int           `mapstructure:"max_refresh_token_ttl_days"`
	MaxActiveRefreshTokensPerUser int           `mapstructure:"max_active_refresh_tokens_per_user"`
	RememberMeCountsTowardCap     bool          `mapstructure:"remember_me_counts_toward_cap"`
	RefreshTokenRetentionDays     int           `mapstructure:"refresh_token_retention_days"`
	AdminIdleLockoutDays          int           `mapstructure:"admin_idle_lockout_days"`
	PartnerBusinessHoursStartUTC  int           `mapstructure:"partner_business_hours_start_utc"`
	PartnerBusinessHoursEndUTC    int           `mapstructure:"partner_business_hours_end_utc"`
	PartnershipCheckTimeout       time.Duration `mapstructure:"partnership_check_timeout"`
	DiscloseRuleFailures          bool          `mapstructure:"disclose_rule_failures"`
	FingerprintPolicy             string        `mapstructure:"fingerprint_policy"`
}

// AccessTokenTTL converts the configured minutes into a duration.
func (a AuthSettings) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

// RefreshTokenTTL returns the lifetime of a standard or remembered refresh token, capped at the maximum.
func (a AuthSettings) RefreshTokenTTL(rememberMe bool) time.Duration {
	days := a.RefreshTokenTTLDays
	if rememberMe {
		days = a.RememberMeTTLDays
	}
	if a.MaxRefreshTokenTTLDays > 0 && days > a.MaxRefreshTokenTTLDays {
		days = a.MaxRefreshTokenTTLDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// RefreshTokenRetention is how long expired refresh tokens are kept before cleanup.
func (a AuthSettings) RefreshTokenRetention() time.Duration {
	return time.Duration(a.RefreshTokenRetentionDays) * 24 * time.Hour
}

// AdminIdleLockout converts the configured days into a duration.
func (a AuthSettings) AdminIdleLockout() time.Duration {
	return time.Duration(a.AdminIdleLockoutDays) * 24 * time.Hour
}

// RateLimitSettings configures the failed-login sliding window
type RateLimitSettings struct {
	Backend            string `mapstructure:"backend"`
	LoginMaxAttempts   int    `mapstructure:"login_max_attempts"`
	LoginWindowMinutes int    `mapstructure:"login_window_minutes"`
}

// LoginWindow converts the configured minutes into a duration.
func (r RateLimitSettings) LoginWindow() time.Duration {
	return time.Duration(r.LoginWindowMinutes) * time.Minute
}

type RevocationSettings struct {
	Backend    string `mapstructure:"backend"`
	MaxEntries int    `mapstructure:"max_entries"`
}

type AuditSettings struct {
	BufferSize int           `mapstructure:"buffer_size"`
	Workers    int           `mapstructure:"workers"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type HousekeepingSettings struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Storage backends for the rate limiter and the revocation registry.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Validate rejects settings that would break token or rule semantics.
func (c *AppConfig) Validate() error {
	var errs []error

	auth := c.Auth
	if auth.AccessTokenTTLMinutes <= 0 {
		errs = append(errs, errors.New("auth.access_token_ttl_minutes must be positive"))
	}
	if auth.RefreshTokenTTLDays <= 0 || auth.RememberMeTTLDays <= 0 {
		errs = append(errs, errors.New("auth refresh token ttl days must be positive"))
	}
	if auth.MaxActiveRefreshTokensPerUser <= 0 {
		errs = append(errs, errors.New("auth.max_active_refresh_tokens_per_user must be positive"))
	}
	if auth.AdminIdleLockoutDays <= 0 {
		errs = append(errs, errors.New("auth.admin_idle_lockout_days must be positive"))
	}
	if auth.PartnerBusinessHoursStartUTC < 0 || auth.PartnerBusinessHoursEndUTC > 24 ||
		auth.PartnerBusinessHoursStartUTC >= auth.PartnerBusinessHoursEndUTC {
		errs = append(errs, fmt.Errorf("auth partner business hours [%d, %d) are invalid",
			auth.PartnerBusinessHoursStartUTC, auth.PartnerBusinessHoursEndUTC))
	}
	switch strings.ToLower(strings.TrimSpace(auth.FingerprintPolicy)) {
	case "audit", "enforce":
	default:
		errs = append(errs, fmt.Errorf("auth.fingerprint_policy must be \"audit\" or \"enforce\", got %q", auth.FingerprintPolicy))
	}
	if c.RateLimit.LoginMaxAttempts <= 0 || c.RateLimit.LoginWindowMinutes <= 0 {
		errs = append(errs, errors.New("rate_limit login attempts and window must be positive"))
	}
	for name, backend := range map[string]string{"rate_limit.backend": c.RateLimit.Backend, "revocation.backend": c.Revocation.Backend} {
		if backend != BackendRedis && backend != BackendMemory {
			errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q", name, BackendRedis, BackendMemory, backend))
		}
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" {
		errs = append(errs, errors.New("jwt.issuer is required"))
	}

	return errors.Join(errs...)
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("IAM")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.cors_allowed_origins",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.rate_limit_prefix",
		"redis.revoked_prefix",
		"kafka.enabled",
		"kafka.brokers",
		"kafka.topic_prefix",
		"jwt.key_directory",
		"jwt.key_id",
		"jwt.issuer",
		"jwt.audience",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"auth.access_token_ttl_minutes",
		"auth.refresh_token_ttl_days",
		"auth.remember_me_ttl_days",
		"auth.max_refresh_token_ttl_days",
		"auth.max_active_refresh_tokens_per_user",
		"auth.remember_me_counts_toward_cap",
		"auth.refresh_token_retention_days",
		"auth.admin_idle_lockout_days",
		"auth.partner_business_hours_start_utc",
		"auth.partner_business_hours_end_utc",
		"auth.partnership_check_timeout",
		"auth.disclose_rule_failures",
		"auth.fingerprint_policy",
		"rate_limit.backend",
		"rate_limit.login_max_attempts",
		"rate_limit.login_window_minutes",
		"revocation.backend",
		"revocation.max_entries",
		"audit.buffer_size",
		"audit.workers",
		"audit.timeout",
		"housekeeping.interval",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "auth-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.cors_allowed_origins", []string{})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "iam")
	v.SetDefault("postgres.password", "iam_password")
	v.SetDefault("postgres.database", "iam")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.rate_limit_prefix", "iam:login_failures")
	v.SetDefault("redis.revoked_prefix", "iam:revoked_jti")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "iam")

	v.SetDefault("jwt.key_directory", "")
	v.SetDefault("jwt.key_id", "")
	v.SetDefault("jwt.issuer", "auth-service")
	v.SetDefault("jwt.audience", []string{"api"})

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "auth-service")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("auth.access_token_ttl_minutes", 15)
	v.SetDefault("auth.refresh_token_ttl_days", 7)
	v.SetDefault("auth.remember_me_ttl_days", 30)
	v.SetDefault("auth.max_refresh_token_ttl_days", 90)
	v.SetDefault("auth.max_active_refresh_tokens_per_user", 5)
	v.SetDefault("auth.remember_me_counts_toward_cap", true)
	v.SetDefault("auth.refresh_token_retention_days", 30)
	v.SetDefault("auth.admin_idle_lockout_days", 90)
	v.SetDefault("auth.partner_business_hours_start_utc", 9)
	v.SetDefault("auth.partner_business_hours_end_utc", 18)
	v.SetDefault("auth.partnership_check_timeout", "2s")
	v.SetDefault("auth.disclose_rule_failures", true)
	v.SetDefault("auth.fingerprint_policy", "audit")

	v.SetDefault("rate_limit.backend", "redis")
	v.SetDefault("rate_limit.login_max_attempts", 5)
	v.SetDefault("rate_limit.login_window_minutes", 15)

	v.SetDefault("revocation.backend", "redis")
	v.SetDefault("revocation.max_entries", 100000)

	v.SetDefault("audit.buffer_size", 1024)
	v.SetDefault("audit.workers", 2)
	v.SetDefault("audit.timeout", "2s")

	v.SetDefault("housekeeping.interval", "1h")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "IAM_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
