// Package config loads server settings from the environment.
//
// LOOKUP ORDER:
// A real environment variable always wins. Values from a .env file fill
// in whatever the environment leaves unset, so a checked-in .env never
// overrides what the deployment sets.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minSecretLength = 16

type Config struct {
	Port      int
	DBPath    string
	LogLevel  string
	LogFormat string

	JWTSecret string
	TokenTTL  time.Duration

	UploadDir   string
	MaxUploadMB int64
	S3          S3

	Redis Redis

	GitHub GitHub

	// WSOriginPatterns are host patterns allowed to open a cross-origin
	// WebSocket. Empty means same-origin only.
	WSOriginPatterns []string
}

type S3 struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Enabled reports whether uploads go to a bucket instead of UploadDir.
func (s S3) Enabled() bool { return s.Endpoint != "" && s.Bucket != "" }

type Redis struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

func (r Redis) Enabled() bool { return r.Addr != "" }

type GitHub struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

func (g GitHub) Enabled() bool { return g.ClientID != "" && g.ClientSecret != "" }

// MaxUploadBytes is MaxUploadMB in bytes.
func (c Config) MaxUploadBytes() int64 { return c.MaxUploadMB << 20 }

// Load reads the given .env files (".env" when none is given; a missing
// file is fine) and then the environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	fileVals := map[string]string{}
	for _, f := range envFiles {
		vals, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("config: reading %s: %w", f, err)
		}
		for k, v := range vals {
			if _, seen := fileVals[k]; !seen {
				fileVals[k] = v
			}
		}
	}

	e := env{file: fileVals}
	cfg := Config{
		Port:      e.int("PORT", 8080),
		DBPath:    e.str("DB_PATH", "data/linkin.db"),
		LogLevel:  e.str("LOG_LEVEL", "info"),
		LogFormat: e.str("LOG_FORMAT", "text"),

		JWTSecret: e.str("JWT_SECRET", ""),
		TokenTTL:  e.duration("TOKEN_TTL", 7*24*time.Hour),

		UploadDir:   e.str("UPLOAD_DIR", "data/files"),
		MaxUploadMB: int64(e.int("MAX_UPLOAD_MB", 20)),
		S3: S3{
			Endpoint:  e.str("S3_ENDPOINT", ""),
			Bucket:    e.str("S3_BUCKET", ""),
			AccessKey: e.str("S3_ACCESS_KEY", ""),
			SecretKey: e.str("S3_SECRET_KEY", ""),
			Region:    e.str("S3_REGION", ""),
			UseSSL:    e.bool("S3_USE_SSL", true),
		},

		Redis: Redis{
			Addr:     e.str("REDIS_ADDR", ""),
			Password: e.str("REDIS_PASSWORD", ""),
			DB:       e.int("REDIS_DB", 0),
			Channel:  e.str("REDIS_CHANNEL", "linkin:push"),
		},

		GitHub: GitHub{
			ClientID:     e.str("GITHUB_CLIENT_ID", ""),
			ClientSecret: e.str("GITHUB_CLIENT_SECRET", ""),
			CallbackURL:  e.str("GITHUB_CALLBACK_URL", ""),
		},

		WSOriginPatterns: e.list("WS_ORIGIN_PATTERNS"),
	}
	if cfg.GitHub.CallbackURL == "" {
		cfg.GitHub.CallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Port)
	}

	if err := errors.Join(append(e.errs, cfg.validate()...)...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() []error {
	var errs []error
	if len(c.JWTSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters", minSecretLength))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_MB must be positive"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q: want text or json", c.LogFormat))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q: want debug, info, warn or error", c.LogLevel))
	}
	return errs
}

// env collects parse errors instead of stopping at the first one, so a
// bad deployment reports every broken variable at once.
type env struct {
	file map[string]string
	errs []error
}

func (e *env) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v), true
	}
	v, ok := e.file[key]
	return strings.TrimSpace(v), ok
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (e *env) bool(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (e *env) list(key string) []string {
	v, _ := e.lookup(key)
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
