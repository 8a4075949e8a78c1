package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile           = ".env"
	defaultPort              = "8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultRequestTimeout    = 30 * time.Second
	defaultCommerceTimeout   = 8 * time.Second
	defaultSessionCookie     = "STOREFRONT_SESSION"
	defaultAuthCookie        = "token"
	defaultSessionLifetime   = 30 * 24 * time.Hour
	defaultLoginPath         = "/login"
	defaultContentDir        = "content"
	defaultContentCacheTTL   = 5 * time.Minute
	defaultSMTPPort          = 587
	defaultSearchPageSize    = 24
	defaultSearchDebounce    = 300 * time.Millisecond
	defaultLocale            = "en"
	defaultSecurityEnv       = "local"
	defaultSecretsFallback   = ".secrets.local"
	defaultWizardEffectLimit = 16
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server   ServerConfig
	Commerce CommerceConfig
	Session  SessionConfig
	Auth     AuthConfig
	Content  ContentConfig
	Mail     MailConfig
	Search   SearchConfig
	Checkout CheckoutConfig
	Locale   LocaleConfig
	Security SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	PublicDir      string
	TemplatesDir   string
	DevMode        bool
	BaseURL        string
}

// CommerceConfig points at the headless commerce GraphQL endpoint. An empty Endpoint switches the
// storefront to the in-memory backend.
type CommerceConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Channel  string
}

// SessionConfig controls the signed session cookie.
type SessionConfig struct {
	CookieName string
	HashKey    string
	BlockKey   string
	Lifetime   time.Duration
	Secure     bool
}

// AuthConfig controls the authorization gate.
type AuthConfig struct {
	CookieName string
	LoginPath  string
}

// ContentConfig controls where articles and content pages are loaded from.
type ContentConfig struct {
	BaseURL  string
	Dir      string
	CacheTTL time.Duration
}

// MailConfig configures the SMTP relay used for order notices.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether enough settings exist to send mail.
func (m MailConfig) Enabled() bool {
	return strings.TrimSpace(m.Host) != "" && strings.TrimSpace(m.From) != ""
}

// SearchConfig tunes the product listing page.
type SearchConfig struct {
	PageSize int
	Debounce time.Duration
}

// CheckoutConfig tunes the checkout wizard.
type CheckoutConfig struct {
	EffectLimit int
}

// LocaleConfig lists supported languages.
type LocaleConfig struct {
	Default   string
	Supported []string
}

// SecurityConfig groups secret resolution settings.
type SecurityConfig struct {
	Environment     string
	SecretsProject  string
	SecretsFallback string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over the system
// environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the configuration by combining defaults, .env overrides, environment variables,
// and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	env := strings.ToLower(stringWithDefault(lookup, "STOREFRONT_ENV", defaultSecurityEnv))
	port := stringWithDefault(lookup, "STOREFRONT_PORT", "")
	if port == "" {
		port = stringWithDefault(lookup, "PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           port,
			ReadTimeout:    durationWithDefault(lookup, "STOREFRONT_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "STOREFRONT_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "STOREFRONT_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: durationWithDefault(lookup, "STOREFRONT_REQUEST_TIMEOUT", defaultRequestTimeout),
			PublicDir:      stringWithDefault(lookup, "STOREFRONT_PUBLIC_DIR", "public"),
			TemplatesDir:   stringWithDefault(lookup, "STOREFRONT_TEMPLATES_DIR", ""),
			DevMode:        boolWithDefault(lookup, "STOREFRONT_DEV", false),
			BaseURL:        strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_BASE_URL", ""), "/"),
		},
		Commerce: CommerceConfig{
			Endpoint: stringWithDefault(lookup, "STOREFRONT_COMMERCE_ENDPOINT", ""),
			APIKey:   stringWithDefault(lookup, "STOREFRONT_COMMERCE_API_KEY", ""),
			Timeout:  durationWithDefault(lookup, "STOREFRONT_COMMERCE_TIMEOUT", defaultCommerceTimeout),
			Channel:  stringWithDefault(lookup, "STOREFRONT_COMMERCE_CHANNEL", ""),
		},
		Session: SessionConfig{
			CookieName: stringWithDefault(lookup, "STOREFRONT_SESSION_COOKIE", defaultSessionCookie),
			HashKey:    stringWithDefault(lookup, "STOREFRONT_SESSION_HASH_KEY", ""),
			BlockKey:   stringWithDefault(lookup, "STOREFRONT_SESSION_BLOCK_KEY", ""),
			Lifetime:   durationWithDefault(lookup, "STOREFRONT_SESSION_LIFETIME", defaultSessionLifetime),
			Secure:     boolWithDefault(lookup, "STOREFRONT_SESSION_SECURE", env == "prod"),
		},
		Auth: AuthConfig{
			CookieName: stringWithDefault(lookup, "STOREFRONT_AUTH_COOKIE", defaultAuthCookie),
			LoginPath:  stringWithDefault(lookup, "STOREFRONT_LOGIN_PATH", defaultLoginPath),
		},
		Content: ContentConfig{
			BaseURL:  stringWithDefault(lookup, "STOREFRONT_CMS_BASE_URL", ""),
			Dir:      stringWithDefault(lookup, "STOREFRONT_CONTENT_DIR", defaultContentDir),
			CacheTTL: durationWithDefault(lookup, "STOREFRONT_CONTENT_CACHE_TTL", defaultContentCacheTTL),
		},
		Mail: MailConfig{
			Host:     stringWithDefault(lookup, "STOREFRONT_SMTP_HOST", ""),
			Port:     intWithDefault(lookup, "STOREFRONT_SMTP_PORT", defaultSMTPPort),
			Username: stringWithDefault(lookup, "STOREFRONT_SMTP_USERNAME", ""),
			Password: stringWithDefault(lookup, "STOREFRONT_SMTP_PASSWORD", ""),
			From:     stringWithDefault(lookup, "STOREFRONT_MAIL_FROM", ""),
		},
		Search: SearchConfig{
			PageSize: intWithDefault(lookup, "STOREFRONT_SEARCH_PAGE_SIZE", defaultSearchPageSize),
			Debounce: durationWithDefault(lookup, "STOREFRONT_SEARCH_DEBOUNCE", defaultSearchDebounce),
		},
		Checkout: CheckoutConfig{
			EffectLimit: intWithDefault(lookup, "STOREFRONT_CHECKOUT_EFFECT_LIMIT", defaultWizardEffectLimit),
		},
		Locale: LocaleConfig{
			Default:   strings.ToLower(stringWithDefault(lookup, "STOREFRONT_DEFAULT_LOCALE", defaultLocale)),
			Supported: csvWithDefault(lookup, "STOREFRONT_LOCALES"),
		},
		Security: SecurityConfig{
			Environment:     env,
			SecretsProject:  stringWithDefault(lookup, "STOREFRONT_SECRETS_PROJECT", ""),
			SecretsFallback: stringWithDefault(lookup, "STOREFRONT_SECRETS_FALLBACK", defaultSecretsFallback),
		},
	}
	if len(cfg.Locale.Supported) == 0 {
		cfg.Locale.Supported = []string{"en", "sv"}
	}

	secretFields := []*string{
		&cfg.Commerce.APIKey,
		&cfg.Session.HashKey,
		&cfg.Session.BlockKey,
		&cfg.Mail.Password,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	if strings.TrimSpace(cfg.Server.Port) == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Security.Environment == "prod" && len(cfg.Session.HashKey) < 32 {
		missing = append(missing, "Session.HashKey")
	}
	if l := len(cfg.Session.BlockKey); l != 0 && l != 16 && l != 24 && l != 32 {
		missing = append(missing, "Session.BlockKey")
	}
	if !strings.HasPrefix(cfg.Auth.LoginPath, "/") {
		missing = append(missing, "Auth.LoginPath")
	}
	if cfg.Search.PageSize <= 0 {
		missing = append(missing, "Search.PageSize")
	}
	if cfg.Checkout.EffectLimit <= 0 {
		missing = append(missing, "Checkout.EffectLimit")
	}
	if cfg.Mail.Host != "" && cfg.Mail.From == "" {
		missing = append(missing, "Mail.From")
	}
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
