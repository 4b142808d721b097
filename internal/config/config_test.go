package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_SandboxPrefersTestToken(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "MP_SANDBOX", "true")
	setEnvWithCleanup(t, "MP_ACCESS_TOKEN_TEST", "TEST-token")
	setEnvWithCleanup(t, "MP_ACCESS_TOKEN_LIVE", "APP_USR-token")
	unsetEnvWithCleanup(t, "MP_ACCESS_TOKEN")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MPAccessToken != "TEST-token" {
		t.Fatalf("expected sandbox to select the test token, got %q", cfg.MPAccessToken)
	}
}

func TestLoadConfig_ProductionPrefersLiveToken(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "MP_SANDBOX", "false")
	setEnvWithCleanup(t, "MP_ACCESS_TOKEN_TEST", "TEST-token")
	setEnvWithCleanup(t, "MP_ACCESS_TOKEN_LIVE", "APP_USR-token")
	unsetEnvWithCleanup(t, "MP_ACCESS_TOKEN")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MPSandbox {
		t.Fatal("expected MPSandbox to be false")
	}
	if cfg.MPAccessToken != "APP_USR-token" {
		t.Fatalf("expected production to select the live token, got %q", cfg.MPAccessToken)
	}
}

func TestLoadConfig_SharedTokenFallback(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "MP_SANDBOX", "true")
	unsetEnvWithCleanup(t, "MP_ACCESS_TOKEN_TEST")
	unsetEnvWithCleanup(t, "MP_ACCESS_TOKEN_LIVE")
	setEnvWithCleanup(t, "MP_ACCESS_TOKEN", " shared-token ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MPAccessToken != "shared-token" {
		t.Fatalf("expected trimmed shared token fallback, got %q", cfg.MPAccessToken)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "MP_BASE_URL")
	unsetEnvWithCleanup(t, "MP_SANDBOX")
	unsetEnvWithCleanup(t, "INCLUDE_TRANSFER_EMAIL")
	unsetEnvWithCleanup(t, "REDIS_DEDUPE_PREFIX")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.MPBaseURL != "https://api.mercadopago.com" {
		t.Fatalf("unexpected default gateway url %q", cfg.MPBaseURL)
	}
	if !cfg.MPSandbox {
		t.Fatal("expected sandbox to default to true")
	}
	if !cfg.IncludeTransferEmail {
		t.Fatal("expected transfer email inclusion to default to true")
	}
	if cfg.RedisDedupePrefix != "billing:webhook_seen" {
		t.Fatalf("unexpected default dedupe prefix %q", cfg.RedisDedupePrefix)
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
