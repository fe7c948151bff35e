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

	"github.com/randalmurphal/flowgen/pkg/flowgen"
	"github.com/randalmurphal/flowgen/pkg/flowgen/cache"
)

// Settings is the typed deployment configuration.
type Settings struct {
	// Strategy selects the generator: "compiler" (default) or "delegate".
	Strategy string

	LLM    LLMSettings
	Cache  CacheSettings
	Server ServerSettings
	Log    LogSettings

	// Telemetry enables OpenTelemetry metrics and tracing.
	Telemetry bool
}

// LLMSettings configures the text generator used by the delegate strategy.
type LLMSettings struct {
	// Path is the claude binary.
	Path        string
	Model       string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	MaxTokens   int
}

// CacheSettings selects the program cache.
type CacheSettings struct {
	// Backend is none, memory, sqlite, redis, or postgres.
	Backend string
	// DSN is a file path, redis:// URL, or postgres connection string.
	DSN string
	TTL time.Duration
}

// ServerSettings configures the HTTP transport.
type ServerSettings struct {
	Addr      string
	BodyLimit int
}

// LogSettings configures the process logger.
type LogSettings struct {
	// Level is debug, info, warn, or error.
	Level string
	// Format is text or json.
	Format string
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		Strategy: flowgen.StrategyCompiler,
		LLM: LLMSettings{
			Path:        "claude",
			Timeout:     flowgen.DefaultGenerationTimeout,
			MaxAttempts: 3,
			MaxTokens:   flowgen.DefaultMaxTokens,
		},
		Cache: CacheSettings{
			Backend: cache.BackendNone,
		},
		Server: ServerSettings{
			Addr:      ":8080",
			BodyLimit: flowgen.MaxRawBytes,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

// FromConfig reads settings from a loaded file, falling back to defaults.
//
// Layout:
//
//	strategy: delegate
//	telemetry: true
//	llm:   {path, model, api_key, timeout, max_attempts, max_tokens}
//	cache: {backend, dsn, ttl}
//	server: {addr, body_limit}
//	log:   {level, format}
func FromConfig(c Config) Settings {
	s := Default()
	s.Strategy = c.String("strategy", s.Strategy)
	s.Telemetry = c.Bool("telemetry", s.Telemetry)

	llm := c.Sub("llm")
	s.LLM.Path = llm.String("path", s.LLM.Path)
	s.LLM.Model = llm.String("model", s.LLM.Model)
	s.LLM.APIKey = llm.String("api_key", s.LLM.APIKey)
	s.LLM.Timeout = llm.Duration("timeout", s.LLM.Timeout)
	s.LLM.MaxAttempts = llm.Int("max_attempts", s.LLM.MaxAttempts)
	s.LLM.MaxTokens = llm.Int("max_tokens", s.LLM.MaxTokens)

	cc := c.Sub("cache")
	s.Cache.Backend = cc.String("backend", s.Cache.Backend)
	s.Cache.DSN = cc.String("dsn", s.Cache.DSN)
	s.Cache.TTL = cc.Duration("ttl", s.Cache.TTL)

	srv := c.Sub("server")
	s.Server.Addr = srv.String("addr", s.Server.Addr)
	s.Server.BodyLimit = srv.Int("body_limit", s.Server.BodyLimit)

	lg := c.Sub("log")
	s.Log.Level = lg.String("level", s.Log.Level)
	s.Log.Format = lg.String("format", s.Log.Format)
	return s
}

// LoadSettings builds settings from, in increasing precedence: defaults, the
// file at path (skipped when empty), and environment variables. A .env file
// in the working directory is loaded first when present; it never overrides
// variables already set.
func LoadSettings(path string) (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("load .env: %w", err)
	}

	s := Default()
	if path != "" {
		c, err := FromFile(path)
		if err != nil {
			return Settings{}, err
		}
		s = FromConfig(c)
	}

	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ApplyEnv overlays FLOWGEN_* variables. The credential falls back to
// ANTHROPIC_API_KEY when FLOWGEN_LLM_API_KEY is unset.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	str("FLOWGEN_STRATEGY", &s.Strategy)
	flag("FLOWGEN_TELEMETRY", &s.Telemetry)

	str("FLOWGEN_LLM_PATH", &s.LLM.Path)
	str("FLOWGEN_LLM_MODEL", &s.LLM.Model)
	str("ANTHROPIC_API_KEY", &s.LLM.APIKey)
	str("FLOWGEN_LLM_API_KEY", &s.LLM.APIKey)
	dur("FLOWGEN_LLM_TIMEOUT", &s.LLM.Timeout)
	num("FLOWGEN_LLM_MAX_ATTEMPTS", &s.LLM.MaxAttempts)
	num("FLOWGEN_LLM_MAX_TOKENS", &s.LLM.MaxTokens)

	str("FLOWGEN_CACHE_BACKEND", &s.Cache.Backend)
	str("FLOWGEN_CACHE_DSN", &s.Cache.DSN)
	dur("FLOWGEN_CACHE_TTL", &s.Cache.TTL)

	str("FLOWGEN_ADDR", &s.Server.Addr)
	num("FLOWGEN_BODY_LIMIT", &s.Server.BodyLimit)

	str("FLOWGEN_LOG_LEVEL", &s.Log.Level)
	str("FLOWGEN_LOG_FORMAT", &s.Log.Format)

	return errors.Join(errs...)
}

// Validate reports every problem at once. Each is a
// *flowgen.ConfigurationError, so errors.Is(err, flowgen.ErrConfiguration)
// holds for the joined result.
func (s Settings) Validate() error {
	return s.validate(true)
}

// ValidateWithClient is Validate for a deployment that supplies its own
// text generation client: the delegate strategy then needs neither a
// credential nor a claude binary.
func (s Settings) ValidateWithClient() error {
	return s.validate(false)
}

func (s Settings) validate(needCLI bool) error {
	var errs []error
	bad := func(setting, format string, args ...any) {
		errs = append(errs, &flowgen.ConfigurationError{Setting: setting, Msg: fmt.Sprintf(format, args...)})
	}

	switch s.Strategy {
	case flowgen.StrategyCompiler:
	case flowgen.StrategyDelegate:
		if !needCLI {
			break
		}
		if strings.TrimSpace(s.LLM.APIKey) == "" {
			bad("FLOWGEN_LLM_API_KEY", "delegate strategy requires a credential")
		}
		if s.LLM.Path == "" {
			bad("llm.path", "delegate strategy requires the claude binary path")
		}
	default:
		bad("strategy", "unknown strategy %q", s.Strategy)
	}

	if s.LLM.Timeout < 0 {
		bad("llm.timeout", "must not be negative")
	}
	if s.LLM.MaxAttempts < 1 {
		bad("llm.max_attempts", "must be at least 1, got %d", s.LLM.MaxAttempts)
	}

	switch s.Cache.Backend {
	case "", cache.BackendNone, cache.BackendMemory, cache.BackendSQLite:
	case cache.BackendRedis, cache.BackendPostgres:
		if s.Cache.DSN == "" {
			bad("cache.dsn", "%s cache requires a dsn", s.Cache.Backend)
		}
	default:
		bad("cache.backend", "unknown backend %q", s.Cache.Backend)
	}
	if s.Cache.TTL < 0 {
		bad("cache.ttl", "must not be negative")
	}

	if s.Server.BodyLimit <= 0 {
		bad("server.body_limit", "must be positive")
	}

	switch strings.ToLower(s.Log.Format) {
	case "", "text", "json":
	default:
		bad("log.format", "unknown format %q", s.Log.Format)
	}

	return errors.Join(errs...)
}
