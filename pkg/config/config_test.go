package config

import (
	"os"
	"testing"
	"time"

	"github.com/coachdeck/coachdeck/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{name: "true string", envValue: "true", defaultValue: false, want: true},
		{name: "TRUE string", envValue: "TRUE", defaultValue: false, want: true},
		{name: "one string", envValue: "1", defaultValue: false, want: true},
		{name: "false string", envValue: "false", defaultValue: true, want: false},
		{name: "unset uses default", envValue: "", defaultValue: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
				defer os.Unsetenv(key)
			}

			got := getEnvBool(key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	os.Setenv("TEST_DURATION_VAR", "45s")
	defer os.Unsetenv("TEST_DURATION_VAR")

	if got := getEnvDuration("TEST_DURATION_VAR", time.Minute); got != 45*time.Second {
		t.Errorf("getEnvDuration() = %v, want 45s", got)
	}
	if got := getEnvDuration("TEST_DURATION_UNSET", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() default = %v, want 1m", got)
	}
}

// TestParseLogLevel verifies log level parsing including the fallback
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"error", observability.ErrorLevel},
		{"bogus", observability.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func validConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:       "8080",
			HealthPort: "9090",
		},
		Database: DatabaseConfig{
			URL:          "postgres://localhost/coachdeck",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Stripe: StripeConfig{
			SecretKey:     "sk_test_123",
			WebhookSecret: "whsec_123",
		},
		Billing: BillingConfig{
			TrialDays:        14,
			PaymentGraceDays: 7,
			ArchiveDelayDays: 7,
		},
	}
	return cfg
}

// TestValidate tests configuration validation
func TestValidate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		if err := validConfig().Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("missing postgres URL fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.URL = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing postgres URL")
		}
	})

	t.Run("missing stripe secret fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.Stripe.SecretKey = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing stripe secret key")
		}
	})

	t.Run("missing webhook secret fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.Stripe.WebhookSecret = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing webhook secret")
		}
	})

	t.Run("same server and health port fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.HealthPort = cfg.Server.Port
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for matching ports")
		}
	})

	t.Run("SMTP enabled without host fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.SMTP.Enabled = true
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for SMTP without host")
		}
	})

	t.Run("negative trial days fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.Billing.TrialDays = -1
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for negative trial days")
		}
	})
}
