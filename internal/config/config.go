package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the token server and the client.
// All values come from env (or from CLI flags bound over the same keys).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	Token  TokenConfig
	Twilio TwilioConfig
	Store  StoreConfig
	Redis  RedisConfig
	DB     DBConfig
	Client ClientConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type TokenConfig struct {
	// TTL is the access token validity window. Defaults to one hour.
	TTL time.Duration

	// VerifyCredentials asks the provider to confirm the account credentials
	// before a token is signed.
	VerifyCredentials bool
}

type TwilioConfig struct {
	APIBaseURL string
}

// Store backends for the client-local credential key.
const (
	StoreBackendFile     = "file"
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

type StoreConfig struct {
	Backend   string
	FilePath  string
	KeyPrefix string
}

type RedisConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type ClientConfig struct {
	// TokenURL is the full URL of the token endpoint.
	TokenURL string
	UIPort   int

	// ResetDelay is how long call-ended and error states are shown before idle.
	ResetDelay time.Duration
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through lookup, which returns "" for unset keys.
func LoadFrom(lookup func(string) string) (Config, error) {
	p := envParser{get: func(key string) string { return strings.TrimSpace(lookup(key)) }}

	c := Config{}

	c.App.Env = p.get("APP_ENV")
	c.App.Port = p.intVal("APP_PORT", 8080)

	c.Token.TTL = p.durationVal("TOKEN_TTL", time.Hour)
	c.Token.VerifyCredentials = p.boolVal("TOKEN_VERIFY_CREDENTIALS", false)
	c.Twilio.APIBaseURL = p.get("TWILIO_API_BASE_URL")

	c.Store.Backend = p.get("STORE_BACKEND")
	c.Store.FilePath = p.get("STORE_FILE_PATH")
	c.Store.KeyPrefix = p.get("STORE_KEY_PREFIX")

	c.Redis.Host = p.get("REDIS_HOST")
	c.Redis.Port = p.intVal("REDIS_PORT", 6379)

	c.DB.Host = p.get("DB_HOST")
	c.DB.Port = p.intVal("DB_PORT", 5432)
	c.DB.User = p.get("DB_USER")
	// Passwords are not trimmed.
	c.DB.Password = lookup("DB_PASSWORD")
	c.DB.Name = p.get("DB_NAME")
	c.DB.SSLMode = p.get("DB_SSLMODE")

	c.Client.TokenURL = p.get("TOKEN_URL")
	c.Client.UIPort = p.intVal("UI_PORT", 3000)
	c.Client.ResetDelay = p.durationVal("CALL_RESET_DELAY", 3*time.Second)

	if err := joinErrors(p.errs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		c.App.Env = "local"
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if !isValidPort(c.App.Port) {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Token.TTL <= 0 {
		c.Token.TTL = time.Hour
	}
	if c.Twilio.APIBaseURL == "" {
		c.Twilio.APIBaseURL = "https://api.twilio.com"
	}

	if c.Store.Backend == "" {
		c.Store.Backend = StoreBackendFile
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "webcall"
	}
	switch c.Store.Backend {
	case StoreBackendFile:
		if c.Store.FilePath == "" {
			c.Store.FilePath = defaultStorePath()
		}
	case StoreBackendRedis:
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required for the redis store"))
		}
		if !isValidPort(c.Redis.Port) {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	case StoreBackendPostgres:
		if c.DB.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required for the postgres store"))
		}
		if !isValidPort(c.DB.Port) {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required for the postgres store"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required for the postgres store"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	case StoreBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of file, redis, postgres, memory, got %q", c.Store.Backend))
	}

	if c.Client.TokenURL == "" {
		c.Client.TokenURL = fmt.Sprintf("http://localhost:%d/api/token", c.App.Port)
	}
	if !isValidPort(c.Client.UIPort) {
		errs = append(errs, fmt.Errorf("UI_PORT must be a valid port, got %d", c.Client.UIPort))
	}
	if c.Client.ResetDelay <= 0 {
		c.Client.ResetDelay = 3 * time.Second
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) UIAddr() string {
	// The UI holds plaintext credentials; bind to loopback only.
	return fmt.Sprintf("127.0.0.1:%d", c.Client.UIPort)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "webcall-storage.json"
	}
	return filepath.Join(dir, "webcall", "storage.json")
}

// envParser collects parse errors so every bad key is reported at once.
type envParser struct {
	get  func(string) string
	errs []error
}

func (p *envParser) intVal(key string, def int) int {
	v := p.get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func (p *envParser) durationVal(key string, def time.Duration) time.Duration {
	v := p.get(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a duration, got %q", key, v))
		return 0
	}
	return d
}

func (p *envParser) boolVal(key string, def bool) bool {
	v := p.get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return false
	}
	return b
}

func isValidPort(p int) bool {
	return p > 0 && p <= 65535
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
