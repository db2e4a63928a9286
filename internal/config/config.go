package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	SQLitePath            string
	SchemaVariant         string
	RunMigrations         bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	IdempotencyTTLSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
	AdminUsername         string
	AdminPassword         string
	ClerkUsername         string
	ClerkPassword         string
	StrictProducts        bool
	LogLevel              string
	LogFormat             string
}

// source resolves a key from the environment first, then the optional YAML
// overlay. Overlay keys are the lower-cased variable names.
type source struct {
	file map[string]string
}

func (s source) get(key string, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val, ok := s.file[strings.ToLower(key)]; ok && val != "" {
		return val
	}
	return fallback
}

func (s source) getInt(key string, fallback int, min int) int {
	n, err := strconv.Atoi(s.get(key, strconv.Itoa(fallback)))
	if err != nil || n < min {
		return fallback
	}
	return n
}

func (s source) getBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(s.get(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return b
}

// Load reads configuration from the environment, overlaid on the YAML file
// named by CONFIG_FILE when set.
func Load() (Config, error) {
	src := source{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &src.file); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg := Config{
		Port:                  src.get("PORT", "8080"),
		AllowedOrigin:         src.get("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           src.get("DATABASE_URL", ""),
		SQLitePath:            src.get("SQLITE_PATH", ""),
		SchemaVariant:         strings.ToLower(src.get("SCHEMA_VARIANT", "normalized")),
		RunMigrations:         src.getBool("RUN_MIGRATIONS", false),
		RedisAddr:             src.get("REDIS_ADDR", ""),
		RedisPassword:         src.get("REDIS_PASSWORD", ""),
		RedisDB:               src.getInt("REDIS_DB", 0, 0),
		IdempotencyTTLSeconds: src.getInt("IDEMPOTENCY_TTL_SECONDS", 86400, 1),
		AuthSecret:            strings.TrimSpace(src.get("AUTH_SECRET", "")),
		AccessTokenTTLMinutes: src.getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		AdminUsername:         src.get("ADMIN_USERNAME", "admin"),
		AdminPassword:         strings.TrimSpace(src.get("ADMIN_PASSWORD", "")),
		ClerkUsername:         src.get("CLERK_USERNAME", "clerk"),
		ClerkPassword:         strings.TrimSpace(src.get("CLERK_PASSWORD", "")),
		StrictProducts:        src.getBool("STRICT_PRODUCTS", false),
		LogLevel:              src.get("LOG_LEVEL", "info"),
		LogFormat:             src.get("LOG_FORMAT", "text"),
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
