// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env        string           `yaml:"env" env:"ENV" env-default:"local"`
	HTTP       HTTPConfig       `yaml:"http"`
	GRPC       GRPCConfig       `yaml:"grpc"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Auth       AuthConfig       `yaml:"auth"`
	Session    SessionConfig    `yaml:"session"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	BruteForce BruteForceConfig `yaml:"brute_force"`
	DB         DBConfig         `yaml:"db"`
	Redis      RedisConfig      `yaml:"redis"`
	Sentry     SentryConfig     `yaml:"sentry"`
	Timeouts   TimeoutConfig    `yaml:"timeouts"`
}

// TimeoutConfig — таймауты сервиса.
type TimeoutConfig struct {
	Service        time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"5s"`
	HealthInterval time.Duration `yaml:"health_interval" env:"HEALTH_INTERVAL" env-default:"15s"`
}

// HTTPConfig — публичный REST-сервер.
type HTTPConfig struct {
	Host     string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	BasePath string `yaml:"base_path" env:"HTTP_BASE_PATH"`
}

// GRPCConfig — gRPC-сервер (health + reflection).
type GRPCConfig struct {
	Host string `yaml:"host" env:"GRPC_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"GRPC_PORT" env-default:"50051"`
}

// MetricsConfig — отдельный HTTP для Prometheus и проб.
type MetricsConfig struct {
	Host string `yaml:"host" env:"METRICS_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"METRICS_PORT" env-default:"9090"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string { return net.JoinHostPort(h.Host, h.Port) }

// Addr возвращает адрес в формате host:port.
func (g GRPCConfig) Addr() string { return net.JoinHostPort(g.Host, g.Port) }

// Addr возвращает адрес в формате host:port.
func (m MetricsConfig) Addr() string { return net.JoinHostPort(m.Host, m.Port) }

// AuthConfig содержит параметры выпуска и валидации токенов.
//
// AccessSecret и RefreshSecret необязательны: если они не заданы,
// используется общий JWTSecret. Это явная деградация конфигурации,
// о которой сервис предупреждает при старте (см. UsesSharedSecret).
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	AccessSecret    string        `yaml:"access_secret" env:"JWT_ACCESS_SECRET"`
	RefreshSecret   string        `yaml:"refresh_secret" env:"JWT_REFRESH_SECRET"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"1h"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	ResetTokenTTL   time.Duration `yaml:"reset_token_ttl" env:"RESET_TOKEN_TTL" env-default:"1h"`
	Issuer          string        `yaml:"issuer" env:"ISSUER" env-default:"authguard"`
	Audience        []string      `yaml:"audience" env:"AUDIENCE" env-default:"authguard"`
	Leeway          time.Duration `yaml:"leeway" env:"JWT_LEEWAY" env-default:"0s"`
	CookieName      string        `yaml:"cookie_name" env:"AUTH_COOKIE_NAME" env-default:"access_token"`
	SecureCookie    bool          `yaml:"secure_cookie" env:"AUTH_SECURE_COOKIE" env-default:"false"`
}

// AccessKey возвращает секрет для access- и reset-токенов.
func (a AuthConfig) AccessKey() string {
	if a.AccessSecret != "" {
		return a.AccessSecret
	}

	return a.JWTSecret
}

// RefreshKey возвращает секрет для refresh-токенов.
func (a AuthConfig) RefreshKey() string {
	if a.RefreshSecret != "" {
		return a.RefreshSecret
	}

	return a.JWTSecret
}

// UsesSharedSecret сообщает, подписываются ли оба класса токенов одним ключом.
func (a AuthConfig) UsesSharedSecret() bool {
	return a.AccessKey() == a.RefreshKey()
}

// SessionConfig — параметры хранилища сессий.
// TTL сессии настраивается независимо от срока жизни refresh-токена.
type SessionConfig struct {
	TTL          time.Duration `yaml:"ttl" env:"SESSION_TTL" env-default:"168h"`
	KeyPrefix    string        `yaml:"key_prefix" env:"SESSION_KEY_PREFIX" env-default:"authguard:"`
	StoreTimeout time.Duration `yaml:"store_timeout" env:"SESSION_STORE_TIMEOUT" env-default:"2s"`
}

// PolicyConfig — переопределение политики для одного класса эндпойнтов.
// Нулевые поля означают "оставить значение по умолчанию".
type PolicyConfig struct {
	Window  time.Duration `yaml:"window"`
	Max     int           `yaml:"max"`
	Message string        `yaml:"message"`
}

// RateLimitConfig — параметры ограничения частоты запросов.
type RateLimitConfig struct {
	Enabled      bool                    `yaml:"enabled" env:"RATE_LIMIT_ENABLED" env-default:"true"`
	Backend      string                  `yaml:"backend" env:"RATE_LIMIT_BACKEND" env-default:"memory"`
	Capacity     int                     `yaml:"capacity" env:"RATE_LIMIT_CAPACITY" env-default:"10000"`
	KeyPrefix    string                  `yaml:"key_prefix" env:"RATE_LIMIT_KEY_PREFIX" env-default:"authguard:rl:"`
	TrustedCIDRs []string                `yaml:"trusted_cidrs" env:"RATE_LIMIT_TRUSTED_CIDRS"`
	Policies     map[string]PolicyConfig `yaml:"policies"`
}

// Бэкенды счётчиков rate limit.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// BruteForceConfig — параметры защиты от перебора паролей.
type BruteForceConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" env:"BRUTE_FORCE_MAX_ATTEMPTS" env-default:"5"`
	Window        time.Duration `yaml:"window" env:"BRUTE_FORCE_WINDOW" env-default:"15m"`
	BlockDuration time.Duration `yaml:"block_duration" env:"BRUTE_FORCE_BLOCK_DURATION" env-default:"1h"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"BRUTE_FORCE_SWEEP_INTERVAL" env-default:"5m"`
}

// DBConfig — настройки подключения к базе данных.
type DBConfig struct {
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL" env-required:"true"`
}

// RedisConfig — настройки подключения к Redis.
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL" env-required:"true"`
}

// SentryConfig — отчёты о паниках. Пустой DSN отключает интеграцию.
type SentryConfig struct {
	DSN string `yaml:"dsn" env:"SENTRY_DSN"`
}

// Validate проверяет согласованность значений, которые нельзя выразить тегами.
func (c *Config) Validate() error {
	const op = "config.Validate"

	var errs []error

	if c.Auth.AccessKey() == "" || c.Auth.RefreshKey() == "" {
		errs = append(errs, errors.New("auth: jwt_secret or both access_secret and refresh_secret must be set"))
	}

	positive := map[string]time.Duration{
		"auth.access_token_ttl":      c.Auth.AccessTokenTTL,
		"auth.refresh_token_ttl":     c.Auth.RefreshTokenTTL,
		"auth.reset_token_ttl":       c.Auth.ResetTokenTTL,
		"session.ttl":                c.Session.TTL,
		"session.store_timeout":      c.Session.StoreTimeout,
		"brute_force.window":         c.BruteForce.Window,
		"brute_force.block_duration": c.BruteForce.BlockDuration,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if c.Auth.Leeway < 0 {
		errs = append(errs, errors.New("auth.leeway must not be negative"))
	}

	if c.BruteForce.MaxAttempts <= 0 {
		errs = append(errs, errors.New("brute_force.max_attempts must be positive"))
	}

	switch c.RateLimit.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend %q is not supported", c.RateLimit.Backend))
	}

	if c.RateLimit.Capacity <= 0 {
		errs = append(errs, errors.New("rate_limit.capacity must be positive"))
	}

	for _, cidr := range c.RateLimit.TrustedCIDRs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			errs = append(errs, fmt.Errorf("rate_limit.trusted_cidrs: %w", err))
		}
	}

	for name, p := range c.RateLimit.Policies {
		if p.Window < 0 || p.Max < 0 {
			errs = append(errs, fmt.Errorf("rate_limit.policies.%s: window and max must not be negative", name))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// LoadDotenv подгружает переменные из .env-файла, если он существует.
// Уже выставленные переменные окружения не перезаписываются.
func LoadDotenv(path string) error {
	if path == "" {
		path = ".env"
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("dotenv %q stat failed: %w", path, err)
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load dotenv: %w", err)
	}

	return nil
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла поверх значений из YAML накладываются ENV-переменные,
// затем выполняется Validate.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func read(path string) (*Config, error) {
	var cfg Config

	fromFile := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file does not exist: %s: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	// 1) Явный путь.
	if path != "" {
		return fromFile(path)
	}

	// 2) CONFIG_PATH.
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return fromFile(envPath)
	}

	// 3) ./local.yaml.
	if _, err := os.Stat("local.yaml"); err == nil {
		return fromFile("local.yaml")
	}

	// 4) Только ENV.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return &cfg, nil
}
