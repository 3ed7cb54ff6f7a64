package config

import (
	"testing"
	"time"
)

func validConfig(env string) Config {
	return Config{
		App:   AppConfig{Env: env, Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "voice", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		RTC: RTCConfig{
			BaseURL:       "https://rtc.local",
			WSURL:         "wss://rtc.local",
			APIKey:        "key",
			APISecret:     "secret",
			WebhookSecret: "whsec",
		},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig("production")
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validConfig("local")
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_RequiresRTCCredentials(t *testing.T) {
	c := validConfig("local")
	c.RTC.APISecret = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing RTC_API_SECRET")
	}

	c = validConfig("local")
	c.RTC.WebhookSecret = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing RTC_WEBHOOK_SECRET")
	}
}

func TestValidate_AppliesVoiceDefaults(t *testing.T) {
	c := validConfig("local")
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if c.Voice.InterruptedTTL != 30*time.Second {
		t.Fatalf("interrupted ttl default: %v", c.Voice.InterruptedTTL)
	}
	if c.Voice.InitialConnectTTL != time.Minute {
		t.Fatalf("initial connect ttl default: %v", c.Voice.InitialConnectTTL)
	}
	if c.Voice.NoModeratorTTL != 5*time.Minute {
		t.Fatalf("no moderator ttl default: %v", c.Voice.NoModeratorTTL)
	}
	if c.Voice.SweepInterval != 30*time.Second {
		t.Fatalf("sweep interval default: %v", c.Voice.SweepInterval)
	}
	if c.Voice.SweepBatchSize != 100 {
		t.Fatalf("sweep batch default: %d", c.Voice.SweepBatchSize)
	}
	if c.RTC.CredentialTTL != 15*time.Minute {
		t.Fatalf("credential ttl default: %v", c.RTC.CredentialTTL)
	}
}
