// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	Mongo   MongoConfig
	JWT     JWTConfig
	Server  ServerConfig
	Limits  LimitsConfig
	Logging LoggingConfig
}

// MongoConfig describes the document store.
type MongoConfig struct {
	URI      string
	Database string
	// Transactions wraps multi-document writes in a session transaction.
	// Requires a replica set or sharded cluster.
	Transactions bool
}

// JWTConfig holds token verification keys. Keys is set when JWT_KEYS is
// supplied (kid -> secret) so tokens signed with rotated keys still verify.
type JWTConfig struct {
	Secret    string
	Keys      map[string]string
	ActiveKID string
}

type ServerConfig struct {
	HTTPPort   int
	GRPCPort   int
	TLSCert    string
	TLSKey     string
	RequireTLS bool
}

// LimitsConfig controls the per-user token buckets.
type LimitsConfig struct {
	GRPCRequestsPerMinute int
	WSEventsPerSecond     float64
	WSEventBurst          int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Mongo: MongoConfig{
			URI:      getEnv("MONGODB_URI", ""),
			Database: getEnv("MONGODB_DATABASE", "wayfare"),
		},
		JWT: JWTConfig{
			Secret:    getEnv("JWT_SECRET", ""),
			ActiveKID: getEnv("JWT_ACTIVE_KID", ""),
		},
		Server: ServerConfig{
			TLSCert: getEnv("TLS_CERT", ""),
			TLSKey:  getEnv("TLS_KEY", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.Mongo.URI == "" {
		return nil, errors.New("MONGODB_URI must be set")
	}

	var err error
	if cfg.Mongo.Transactions, err = getBool("MONGODB_TRANSACTIONS", false); err != nil {
		return nil, err
	}
	if cfg.Server.RequireTLS, err = getBool("REQUIRE_TLS", false); err != nil {
		return nil, err
	}
	if cfg.Server.HTTPPort, err = getInt("HTTP_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.Server.GRPCPort, err = getInt("GRPC_PORT", 50051); err != nil {
		return nil, err
	}
	if cfg.Limits.GRPCRequestsPerMinute, err = getInt("RATE_LIMIT_RPM", 10); err != nil {
		return nil, err
	}
	if cfg.Limits.WSEventBurst, err = getInt("WS_EVENT_BURST", 40); err != nil {
		return nil, err
	}
	perSecond := getEnv("WS_EVENTS_PER_SECOND", "20")
	if cfg.Limits.WSEventsPerSecond, err = strconv.ParseFloat(perSecond, 64); err != nil {
		return nil, fmt.Errorf("invalid WS_EVENTS_PER_SECOND: %w", err)
	}

	if raw := getEnv("JWT_KEYS", ""); raw != "" {
		keys, err := parseKeys(raw)
		if err != nil {
			return nil, err
		}
		cfg.JWT.Keys = keys
	}
	if cfg.JWT.Secret == "" && len(cfg.JWT.Keys) == 0 {
		return nil, errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}

	if cfg.Server.RequireTLS && (cfg.Server.TLSCert == "" || cfg.Server.TLSKey == "") {
		return nil, errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}

	return cfg, nil
}

// parseKeys parses "kid:secret,kid2:secret2".
func parseKeys(raw string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(raw, ",") {
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %q", p)
		}
		keys[parts[0]] = parts[1]
	}
	return keys, nil
}

// HTTPAddr is the listen address for the websocket/metrics server.
func (s ServerConfig) HTTPAddr() string { return fmt.Sprintf(":%d", s.HTTPPort) }

// GRPCAddr is the listen address for the gRPC server.
func (s ServerConfig) GRPCAddr() string { return fmt.Sprintf(":%d", s.GRPCPort) }

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
