package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	require.Empty(t, cfg.Commerce.Endpoint)
	require.Equal(t, defaultCommerceTimeout, cfg.Commerce.Timeout)
	require.Equal(t, defaultSessionCookie, cfg.Session.CookieName)
	require.False(t, cfg.Session.Secure)
	require.Equal(t, "token", cfg.Auth.CookieName)
	require.Equal(t, "/login", cfg.Auth.LoginPath)
	require.Equal(t, 24, cfg.Search.PageSize)
	require.Equal(t, 300*time.Millisecond, cfg.Search.Debounce)
	require.Equal(t, []string{"en", "sv"}, cfg.Locale.Supported)
	require.False(t, cfg.Mail.Enabled())
	require.Equal(t, "local", cfg.Security.Environment)
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_PORT":              "9090",
		"STOREFRONT_ENV":               "prod",
		"STOREFRONT_COMMERCE_ENDPOINT": "https://commerce.example.com/storefront.graphql",
		"STOREFRONT_COMMERCE_API_KEY":  "sm://commerce-api-key",
		"STOREFRONT_SESSION_HASH_KEY":  "secret://session-hash",
		"STOREFRONT_SMTP_HOST":         "smtp.example.com",
		"STOREFRONT_SMTP_PORT":         "2525",
		"STOREFRONT_MAIL_FROM":         "orders@example.com",
		"STOREFRONT_LOCALES":           "en, SV ,de",
		"STOREFRONT_SEARCH_DEBOUNCE":   "150ms",
	}
	resolved := map[string]string{
		"secret://commerce-api-key": "api-key",
		"secret://session-hash":     strings.Repeat("h", 32),
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		value, ok := resolved[ref]
		if !ok {
			return "", errors.New("unknown secret")
		}
		return value, nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	require.NoError(t, err)

	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, "api-key", cfg.Commerce.APIKey)
	require.Len(t, cfg.Session.HashKey, 32)
	require.True(t, cfg.Session.Secure, "prod sessions default to secure cookies")
	require.Equal(t, 2525, cfg.Mail.Port)
	require.True(t, cfg.Mail.Enabled())
	require.Equal(t, []string{"en", "sv", "de"}, cfg.Locale.Supported)
	require.Equal(t, 150*time.Millisecond, cfg.Search.Debounce)
}

func TestLoadSecretWithoutResolverFails(t *testing.T) {
	env := map[string]string{"STOREFRONT_SMTP_PASSWORD": "secret://smtp"}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	require.Error(t, err)
	var secretErr *SecretError
	require.ErrorAs(t, err, &secretErr)
	require.Equal(t, "secret://smtp", secretErr.Ref)
	require.ErrorIs(t, err, errSecretResolverNotConfigured)
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_ENV":              "prod",
		"STOREFRONT_SESSION_HASH_KEY": "short",
		"STOREFRONT_LOGIN_PATH":       "login",
		"STOREFRONT_SMTP_HOST":        "smtp.example.com",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.ElementsMatch(t, []string{"Session.HashKey", "Auth.LoginPath", "Mail.From"}, validation.Fields())
}

func TestLoadReadsDotEnvWithLowestPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	contents := "# local overrides\nexport STOREFRONT_PORT=7070\nSTOREFRONT_CONTENT_DIR=\"./docs\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{
		"STOREFRONT_PORT": "6060",
	}))
	require.NoError(t, err)
	require.Equal(t, "6060", cfg.Server.Port)
	require.Equal(t, "./docs", cfg.Content.Dir)
}
