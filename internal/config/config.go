package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	RTC   RTCConfig
	Voice VoiceConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for managed-Postgres posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

// RTCConfig points at the external room provider.
type RTCConfig struct {
	// BaseURL is the provider admin API endpoint.
	BaseURL string
	// WSURL is the client-facing connect URL embedded in join credentials.
	WSURL         string
	APIKey        string
	APISecret     string
	WebhookSecret string
	CredentialTTL time.Duration
}

// VoiceConfig carries the session lifecycle windows and sweep tuning.
// The TTLs feed the room activity policy; they are read here once and
// passed down as explicit constructor parameters.
type VoiceConfig struct {
	InterruptedTTL    time.Duration
	InitialConnectTTL time.Duration
	NoModeratorTTL    time.Duration

	SweepInterval  time.Duration
	SweepBatchSize int

	// StatusCacheTTL bounds staleness of cached community status reads.
	StatusCacheTTL time.Duration
	// JoinCapPerRoom limits concurrent in-flight join requests per
	// community room.
	JoinCapPerRoom int

	// AnalyticsStream is the redis stream call events are appended to.
	// Empty disables analytics.
	AnalyticsStream string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.RTC.BaseURL = strings.TrimSpace(os.Getenv("RTC_BASE_URL"))
	c.RTC.WSURL = strings.TrimSpace(os.Getenv("RTC_WS_URL"))
	c.RTC.APIKey = strings.TrimSpace(os.Getenv("RTC_API_KEY"))
	c.RTC.APISecret = os.Getenv("RTC_API_SECRET")
	c.RTC.WebhookSecret = os.Getenv("RTC_WEBHOOK_SECRET")
	c.RTC.CredentialTTL = mustDuration("RTC_CREDENTIAL_TTL")

	// Duration env vars are optional; defaults applied in Validate().
	c.Voice.InterruptedTTL = mustDuration("VOICE_INTERRUPTED_TTL")
	c.Voice.InitialConnectTTL = mustDuration("VOICE_INITIAL_CONNECT_TTL")
	c.Voice.NoModeratorTTL = mustDuration("VOICE_NO_MODERATOR_TTL")
	c.Voice.SweepInterval = mustDuration("VOICE_SWEEP_INTERVAL")
	c.Voice.StatusCacheTTL = mustDuration("VOICE_STATUS_CACHE_TTL")
	c.Voice.SweepBatchSize = optionalInt("VOICE_SWEEP_BATCH_SIZE")
	c.Voice.JoinCapPerRoom = optionalInt("VOICE_JOIN_CAP_PER_ROOM")
	c.Voice.AnalyticsStream = strings.TrimSpace(os.Getenv("VOICE_ANALYTICS_STREAM"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.RTC.BaseURL == "" {
		errs = append(errs, errors.New("RTC_BASE_URL is required"))
	}
	if c.RTC.WSURL == "" {
		errs = append(errs, errors.New("RTC_WS_URL is required"))
	}
	if c.RTC.APIKey == "" {
		errs = append(errs, errors.New("RTC_API_KEY is required"))
	}
	if c.RTC.APISecret == "" {
		errs = append(errs, errors.New("RTC_API_SECRET is required"))
	}
	if c.RTC.WebhookSecret == "" {
		errs = append(errs, errors.New("RTC_WEBHOOK_SECRET is required"))
	}
	if c.RTC.CredentialTTL <= 0 {
		c.RTC.CredentialTTL = 15 * time.Minute
	}

	if c.Voice.InterruptedTTL <= 0 {
		c.Voice.InterruptedTTL = 30 * time.Second
	}
	if c.Voice.InitialConnectTTL <= 0 {
		c.Voice.InitialConnectTTL = time.Minute
	}
	if c.Voice.NoModeratorTTL <= 0 {
		c.Voice.NoModeratorTTL = 5 * time.Minute
	}
	if c.Voice.SweepInterval <= 0 {
		c.Voice.SweepInterval = 30 * time.Second
	}
	if c.Voice.SweepBatchSize <= 0 {
		c.Voice.SweepBatchSize = 100
	}
	if c.Voice.StatusCacheTTL <= 0 {
		c.Voice.StatusCacheTTL = 5 * time.Second
	}
	if c.Voice.JoinCapPerRoom <= 0 {
		c.Voice.JoinCapPerRoom = 50
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
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

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
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
