package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultDBMaxConns          = 25
	defaultDBMinConns          = 5
	defaultDBMaxConnLifetime   = time.Hour
	defaultDBMaxConnIdleTime   = 30 * time.Minute
	defaultDBConnectTimeout    = 5 * time.Second
	defaultCartKeyPrefix       = "cart:"
	defaultIdempotencyPrefix   = "idem:"
	defaultOrderEventsTopic    = "order-events"
	defaultNotificationDriver  = NotificationDriverLog
	defaultKafkaTopic          = "admin.order-notifications"
	defaultAMQPExchange        = "fulfillment.notifications"
	defaultAMQPRoutingKey      = "order.created"
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultCurrency            = "USD"
	defaultShippedLocation     = "Fulfillment center"
	defaultDeliveredLocation   = "Customer address"
	defaultTrackingPrefix      = "TRK"
	defaultMetricsNamespace    = "fulfillment"
)

// Notification drivers accepted by NotificationConfig.Driver.
const (
	NotificationDriverLog   = "log"
	NotificationDriverKafka = "kafka"
	NotificationDriverAMQP  = "amqp"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	PubSub        PubSubConfig
	Notifications NotificationConfig
	Security      SecurityConfig
	Idempotency   IdempotencyConfig
	Features      FeatureFlags
	Fulfillment   FulfillmentConfig
	Metrics       MetricsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// DatabaseConfig controls the PostgreSQL connection pool.
type DatabaseConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	AutoMigrate     bool
}

// RedisConfig locates the Redis instance backing carts and idempotency keys.
type RedisConfig struct {
	URL                  string
	CartKeyPrefix        string
	CartTTL              time.Duration
	IdempotencyKeyPrefix string
}

// PubSubConfig configures the order lifecycle event topic.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
	EmulatorHost     string
}

// NotificationConfig selects the admin notification sink.
type NotificationConfig struct {
	Driver         string
	KafkaBrokers   []string
	KafkaTopic     string
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal callers.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	RestockOnCancel bool
	EnableMetrics   bool
}

// FulfillmentConfig holds defaults applied to new orders and timeline events.
type FulfillmentConfig struct {
	DefaultCurrency   string
	ShippedLocation   string
	DeliveredLocation string
	TrackingPrefix    string
}

// MetricsConfig configures Prometheus collectors.
type MetricsConfig struct {
	Namespace string
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

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the config field names whose secrets are missing.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := slices.Clone(e.names)
	sort.Strings(out)
	return out
}

// RedactedNames returns hashed identifiers safe to print in logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks config fields (e.g. "Database.URL") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// source resolves keys with precedence explicit map > process env > dotenv file.
type source struct {
	explicit map[string]string
	system   bool
	dotenv   map[string]string
}

func newSource(options loaderOptions) (source, error) {
	dotenv, err := loadDotEnv(options.envFile)
	if err != nil {
		return source{}, err
	}
	return source{explicit: options.envMap, system: options.useSystemEnv, dotenv: dotenv}, nil
}

func (s source) lookup(key string) (string, bool) {
	if value, ok := s.explicit[key]; ok {
		return value, true
	}
	if s.system {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := s.dotenv[key]
	return value, ok
}

func (s source) str(key, fallback string) string {
	if value, ok := s.lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (s source) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := s.lookup(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func (s source) integer(key string, fallback int) int {
	if value, ok := s.lookup(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func (s source) boolean(key string, fallback bool) bool {
	value, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func (s source) list(key string) []string {
	raw, ok := s.lookup(key)
	if !ok {
		return []string{}
	}
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (s source) dict(key string) map[string]string {
	values := make(map[string]string)
	for _, entry := range s.list(key) {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}

// EnvironmentValues returns the effective environment after applying the same precedence
// rules as Load, so callers can build dependencies (e.g. the secret fetcher) beforehand.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotenv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotenv))
	for key, value := range dotenv {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and Secret Manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	src, err := newSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            src.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     src.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    src.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     src.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: src.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       src.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: src.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Database: DatabaseConfig{
			URL:             src.str("API_DATABASE_URL", ""),
			MaxConns:        int32(src.integer("API_DATABASE_MAX_CONNS", defaultDBMaxConns)),
			MinConns:        int32(src.integer("API_DATABASE_MIN_CONNS", defaultDBMinConns)),
			MaxConnLifetime: src.duration("API_DATABASE_MAX_CONN_LIFETIME", defaultDBMaxConnLifetime),
			MaxConnIdleTime: src.duration("API_DATABASE_MAX_CONN_IDLE_TIME", defaultDBMaxConnIdleTime),
			ConnectTimeout:  src.duration("API_DATABASE_CONNECT_TIMEOUT", defaultDBConnectTimeout),
			AutoMigrate:     src.boolean("API_DATABASE_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:                  src.str("API_REDIS_URL", ""),
			CartKeyPrefix:        src.str("API_REDIS_CART_PREFIX", defaultCartKeyPrefix),
			CartTTL:              src.duration("API_REDIS_CART_TTL", 0),
			IdempotencyKeyPrefix: src.str("API_REDIS_IDEMPOTENCY_PREFIX", defaultIdempotencyPrefix),
		},
		PubSub: PubSubConfig{
			ProjectID:        src.str("API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: src.str("API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
			EmulatorHost:     src.str("API_PUBSUB_EMULATOR_HOST", ""),
		},
		Notifications: NotificationConfig{
			Driver:         strings.ToLower(src.str("API_NOTIFICATIONS_DRIVER", defaultNotificationDriver)),
			KafkaBrokers:   src.list("API_NOTIFICATIONS_KAFKA_BROKERS"),
			KafkaTopic:     src.str("API_NOTIFICATIONS_KAFKA_TOPIC", defaultKafkaTopic),
			AMQPURL:        src.str("API_NOTIFICATIONS_AMQP_URL", ""),
			AMQPExchange:   src.str("API_NOTIFICATIONS_AMQP_EXCHANGE", defaultAMQPExchange),
			AMQPRoutingKey: src.str("API_NOTIFICATIONS_AMQP_ROUTING_KEY", defaultAMQPRoutingKey),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(src.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   src.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  src.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: src.dict("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   src.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header: src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    src.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Features: FeatureFlags{
			RestockOnCancel: src.boolean("API_FEATURE_RESTOCK_ON_CANCEL", true),
			EnableMetrics:   src.boolean("API_FEATURE_METRICS", true),
		},
		Fulfillment: FulfillmentConfig{
			DefaultCurrency:   strings.ToUpper(src.str("API_FULFILLMENT_CURRENCY", defaultCurrency)),
			ShippedLocation:   src.str("API_FULFILLMENT_SHIPPED_LOCATION", defaultShippedLocation),
			DeliveredLocation: src.str("API_FULFILLMENT_DELIVERED_LOCATION", defaultDeliveredLocation),
			TrackingPrefix:    src.str("API_FULFILLMENT_TRACKING_PREFIX", defaultTrackingPrefix),
		},
		Metrics: MetricsConfig{
			Namespace: src.str("API_METRICS_NAMESPACE", defaultMetricsNamespace),
		},
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		if audience, ok := cfg.Security.OIDC.Audiences[cfg.Security.Environment]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}

	resolver := options.secret
	if resolver == nil {
		resolver = SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		})
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Database.URL", &cfg.Database.URL},
		{"Redis.URL", &cfg.Redis.URL},
		{"Notifications.AMQPURL", &cfg.Notifications.AMQPURL},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, resolver)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = value
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		invalid = append(invalid, "Firebase.ProjectID")
	}
	if cfg.Database.URL == "" {
		invalid = append(invalid, "Database.URL")
	}
	if cfg.Database.MaxConns <= 0 || cfg.Database.MinConns < 0 || cfg.Database.MinConns > cfg.Database.MaxConns {
		invalid = append(invalid, "Database.MaxConns")
	}
	switch cfg.Notifications.Driver {
	case NotificationDriverLog:
	case NotificationDriverKafka:
		if len(cfg.Notifications.KafkaBrokers) == 0 {
			invalid = append(invalid, "Notifications.KafkaBrokers")
		}
	case NotificationDriverAMQP:
		if cfg.Notifications.AMQPURL == "" {
			invalid = append(invalid, "Notifications.AMQPURL")
		}
	default:
		invalid = append(invalid, "Notifications.Driver")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if len(cfg.Fulfillment.DefaultCurrency) != 3 {
		invalid = append(invalid, "Fulfillment.DefaultCurrency")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(missing, name) {
			continue
		}
		if strings.TrimSpace(resolved[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
