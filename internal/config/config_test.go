package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"github.com/onesitepls/commerce-service/internal/domain"
)

func TestLoadConfig_UsesPaymentWebhookSecretAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "WEBHOOK_SECRET")
	setEnvWithCleanup(t, "PAYMENT_WEBHOOK_SECRET", "alias-only-secret")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.WebhookSecret != "alias-only-secret" {
		t.Fatalf("expected WebhookSecret from alias env var, got %q", cfg.WebhookSecret)
	}
}

func TestLoadConfig_WebhookSecretTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "WEBHOOK_SECRET", "primary-secret")
	setEnvWithCleanup(t, "PAYMENT_WEBHOOK_SECRET", "alias-secret")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.WebhookSecret != "primary-secret" {
		t.Fatalf("expected WebhookSecret to prioritize WEBHOOK_SECRET, got %q", cfg.WebhookSecret)
	}
}

func TestLoadConfig_DefaultReferralRates(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "REFERRAL_LEVEL1_RATE")
	unsetEnvWithCleanup(t, "REFERRAL_LEVEL2_RATE")
	unsetEnvWithCleanup(t, "REFERRAL_LEVEL3_RATE")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ReferralLevel1Rate != domain.ReferralCommissionRates[1] {
		t.Fatalf("expected the domain default level 1 rate, got %f", cfg.ReferralLevel1Rate)
	}
	if cfg.ReferralLevel2Rate != domain.ReferralCommissionRates[2] || cfg.ReferralLevel3Rate != domain.ReferralCommissionRates[3] {
		t.Fatalf("expected the domain default level 2/3 rates, got %f and %f", cfg.ReferralLevel2Rate, cfg.ReferralLevel3Rate)
	}
}

func TestLoadConfig_OutOfRangeReferralRateFallsBack(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "REFERRAL_LEVEL1_RATE", "1.5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ReferralLevel1Rate != domain.ReferralCommissionRates[1] {
		t.Fatalf("expected out-of-range rate to fall back to the domain default, got %f", cfg.ReferralLevel1Rate)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
