package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TransportKind selects the message transport the server runs on.
type TransportKind string

const (
	TransportLocal TransportKind = "local"
	TransportRedis TransportKind = "redis"
	TransportKafka TransportKind = "kafka"
)

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns *int
	MaxIdleConns *int
}

// RedisConfig holds Redis connection and stream settings.
type RedisConfig struct {
	URL          string
	DialTimeout  *time.Duration
	ReadTimeout  *time.Duration
	WriteTimeout *time.Duration
	PoolSize     *int
	MinIdleConns *int
	MaxRetries   *int
	StreamMaxLen int64
	TLSConfig    *tls.Config
}

// KafkaConfig holds Kafka broker and consumer group settings.
type KafkaConfig struct {
	Brokers []string
	GroupID string
}

// ResilienceConfig overrides the outbound call policy defaults. Nil fields
// keep the built-in defaults.
type ResilienceConfig struct {
	Timeout            *time.Duration
	RetryMaxAttempts   *int
	RetryBaseDelay     *time.Duration
	BreakerMaxFailures *int
	BreakerResetAfter  *time.Duration
	BulkheadSlots      *int
	BulkheadQueue      *int
}

// OutboxConfig holds dispatcher polling settings.
type OutboxConfig struct {
	PollInterval *time.Duration
	BatchSize    *int
}

// ObservabilityConfig holds the HTTP address for the monitoring endpoints.
type ObservabilityConfig struct {
	Addr string
}

// GatewayConfig holds the storefront gateway address and its backend base
// URLs, keyed by service name. An empty Addr disables the gateway.
type GatewayConfig struct {
	Addr     string
	Backends map[string]string
}

// LoadTransport reads the transport selection from env. Unset means local.
func LoadTransport() (TransportKind, error) {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv("TRANSPORT")))
	switch raw {
	case "", string(TransportLocal):
		return TransportLocal, nil
	case string(TransportRedis):
		return TransportRedis, nil
	case string(TransportKafka):
		return TransportKafka, nil
	default:
		return "", fmt.Errorf("TRANSPORT must be one of local, redis, kafka (got %q)", raw)
	}
}

// LoadDatabase reads Postgres config from env.
func LoadDatabase() (DatabaseConfig, error) {
	cfg := DatabaseConfig{}

	url, err := requiredString("DATABASE_URL")
	if err != nil {
		return cfg, err
	}
	cfg.URL = url

	if cfg.MaxOpenConns, err = optionalInt("DATABASE_MAX_OPEN_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxIdleConns, err = optionalInt("DATABASE_MAX_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadRedis reads Redis config from env.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{}

	url, err := requiredString("REDIS_URL")
	if err != nil {
		return cfg, err
	}
	cfg.URL = url

	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}

	if cfg.StreamMaxLen, err = requiredInt64("REDIS_STREAM_MAXLEN"); err != nil {
		return cfg, err
	}

	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadKafka reads Kafka config from env.
func LoadKafka() (KafkaConfig, error) {
	raw, err := requiredString("KAFKA_BROKERS")
	if err != nil {
		return KafkaConfig{}, err
	}
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return KafkaConfig{}, errors.New("KAFKA_BROKERS contains no brokers")
	}

	groupID := strings.TrimSpace(os.Getenv("KAFKA_GROUP_ID"))
	if groupID == "" {
		groupID = "baton-saga-engine"
	}
	return KafkaConfig{Brokers: brokers, GroupID: groupID}, nil
}

// LoadResilience reads outbound-call policy overrides from env.
func LoadResilience() (ResilienceConfig, error) {
	cfg := ResilienceConfig{}
	var err error

	if cfg.Timeout, err = optionalDuration("RESILIENCE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxAttempts, err = optionalInt("RETRY_MAX_ATTEMPTS"); err != nil {
		return cfg, err
	}
	if cfg.RetryBaseDelay, err = optionalDuration("RETRY_BASE_DELAY"); err != nil {
		return cfg, err
	}
	if cfg.BreakerMaxFailures, err = optionalInt("BREAKER_MAX_FAILURES"); err != nil {
		return cfg, err
	}
	if cfg.BreakerResetAfter, err = optionalDuration("BREAKER_RESET_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.BulkheadSlots, err = optionalInt("BULKHEAD_SLOTS"); err != nil {
		return cfg, err
	}
	if cfg.BulkheadQueue, err = optionalInt("BULKHEAD_QUEUE"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadOutbox reads dispatcher settings from env.
func LoadOutbox() (OutboxConfig, error) {
	cfg := OutboxConfig{}
	var err error

	if cfg.PollInterval, err = optionalDuration("OUTBOX_POLL_INTERVAL"); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = optionalInt("OUTBOX_BATCH_SIZE"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// backendServices maps env variable names to gateway service names.
var backendServices = map[string]string{
	"CATALOG_URL":   "catalog",
	"CART_URL":      "cart",
	"INVENTORY_URL": "inventory",
	"PAYMENT_URL":   "payment",
	"ORDER_URL":     "order",
	"SESSION_URL":   "session",
}

// LoadGateway reads the storefront gateway settings from env. When
// GATEWAY_ADDR is set, at least one backend URL must be set too.
func LoadGateway() (GatewayConfig, error) {
	cfg := GatewayConfig{
		Addr:     strings.TrimSpace(os.Getenv("GATEWAY_ADDR")),
		Backends: make(map[string]string),
	}
	for env, service := range backendServices {
		if url := strings.TrimSpace(os.Getenv(env)); url != "" {
			cfg.Backends[service] = strings.TrimRight(url, "/")
		}
	}
	if cfg.Addr != "" && len(cfg.Backends) == 0 {
		return cfg, errors.New("GATEWAY_ADDR is set but no backend URLs are configured")
	}
	return cfg, nil
}

// LoadObservability reads the monitoring HTTP server address from env.
func LoadObservability() (ObservabilityConfig, error) {
	addr, err := requiredString("OBS_ADDR")
	if err != nil {
		return ObservabilityConfig{}, err
	}
	return ObservabilityConfig{Addr: addr}, nil
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return raw, nil
}

func requiredInt64(name string) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}
