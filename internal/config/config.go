package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is read once at startup and never mutated afterwards.
type Config struct {
	Server    ServerConfig
	Speech    SynthesisConfig
	Synthesis SynthesisOptions
	RateLimit RateLimitConfig
	CORS      CORSConfig
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`

	// TrustProxy honours X-Forwarded-For and X-Real-IP. Enable only behind
	// a proxy that overwrites them.
	TrustProxy bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
}

// SynthesisConfig identifies the custom voice deployment and the credential
// used to reach it. It is shared by every request and is read-only.
type SynthesisConfig struct {
	Key        string `env:"SPEECH_KEY,required,notEmpty"`
	Region     string `env:"SPEECH_REGION,required,notEmpty"`
	VoiceName  string `env:"CUSTOM_VOICE_NAME,required,notEmpty"`
	EndpointID string `env:"CUSTOM_VOICE_ENDPOINT_ID,required,notEmpty"`
}

type SynthesisOptions struct {
	Timeout      time.Duration `env:"SYNTHESIS_TIMEOUT" envDefault:"10s"`
	OutputFormat string        `env:"SPEECH_OUTPUT_FORMAT" envDefault:"riff-24khz-16bit-mono-pcm"`
}

type RateLimitConfig struct {
	RPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	Burst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

var requiredKeys = []string{"SPEECH_KEY", "SPEECH_REGION", "CUSTOM_VOICE_NAME", "CUSTOM_VOICE_ENDPOINT_ID"}

// Load parses the process environment. A non-nil error means the service
// must not start.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		if missing := missingKeys(err); len(missing) > 0 {
			return nil, fmt.Errorf("missing required env vars: %s", strings.Join(ordered(missing), ", "))
		}
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Speech.trim()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	for key, v := range map[string]string{
		"SPEECH_KEY":               c.Speech.Key,
		"SPEECH_REGION":            c.Speech.Region,
		"CUSTOM_VOICE_NAME":        c.Speech.VoiceName,
		"CUSTOM_VOICE_ENDPOINT_ID": c.Speech.EndpointID,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(ordered(missing), ", "))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT: %d", c.Server.Port)
	}
	if c.Synthesis.Timeout <= 0 {
		return fmt.Errorf("invalid SYNTHESIS_TIMEOUT: %s", c.Synthesis.Timeout)
	}
	if !strings.HasPrefix(c.Synthesis.OutputFormat, "riff-") {
		return fmt.Errorf("invalid SPEECH_OUTPUT_FORMAT %q: only riff (wav) formats are served", c.Synthesis.OutputFormat)
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("invalid rate limit: rps=%v burst=%d", c.RateLimit.RPS, c.RateLimit.Burst)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level maps LOG_LEVEL onto a slog level.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	return lvl, nil
}

// trim drops surrounding whitespace, such as the trailing newline of a
// key read from a mounted secret file.
func (s *SynthesisConfig) trim() {
	s.Key = strings.TrimSpace(s.Key)
	s.Region = strings.TrimSpace(s.Region)
	s.VoiceName = strings.TrimSpace(s.VoiceName)
	s.EndpointID = strings.TrimSpace(s.EndpointID)
}

// String omits the key.
func (s SynthesisConfig) String() string {
	return fmt.Sprintf("region=%s voice=%s endpoint=%s", s.Region, s.VoiceName, s.EndpointID)
}

// LogValue keeps the key out of structured logs.
func (s SynthesisConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("region", s.Region),
		slog.String("voice", s.VoiceName),
		slog.String("endpoint_id", s.EndpointID),
		slog.String("key", "[REDACTED]"),
	)
}

// missingKeys extracts the names of required variables env reported as
// unset or empty.
func missingKeys(err error) []string {
	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return nil
	}
	var missing []string
	for _, e := range agg.Errors {
		var notSet env.EnvVarIsNotSetError
		var empty env.EmptyEnvVarError
		switch {
		case errors.As(e, &notSet):
			missing = append(missing, notSet.Key)
		case errors.As(e, &empty):
			missing = append(missing, empty.Key)
		}
	}
	return missing
}

func ordered(keys []string) []string {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	out := make([]string, 0, len(keys))
	for _, k := range requiredKeys {
		if set[k] {
			out = append(out, k)
		}
	}
	return out
}
