// Package config resolves server settings from defaults, an optional TOML
// file, a .env file and the process environment, in that order.
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
	"github.com/pelletier/go-toml/v2"
)

var ErrMissingAPIKey = errors.New("OPENAI_API_KEY not found in environment variables")

// EnvConfigPath names the environment variable holding the TOML file path.
const EnvConfigPath = "PROMPTGATE_CONFIG"

type Config struct {
	Port           string   `toml:"port"`
	OpenAIKey      string   `toml:"openai_api_key"`
	OpenAIBaseURL  string   `toml:"openai_base_url"`
	DefaultModel   string   `toml:"default_model"`
	RequestTimeout int      `toml:"request_timeout"` // seconds
	UploadDir      string   `toml:"upload_dir"`
	MaxUploadMB    int      `toml:"max_upload_mb"`
	CORSOrigins    []string `toml:"cors_origins"`
	LogLevel       string   `toml:"log_level"`
	LogFormat      string   `toml:"log_format"` // auto, console, json
}

func Default() Config {
	return Config{
		Port:           "8080",
		DefaultModel:   "gpt-4",
		RequestTimeout: 60,
		UploadDir:      "uploads",
		MaxUploadMB:    32,
		CORSOrigins:    []string{"*"},
		LogLevel:       "info",
		LogFormat:      "auto",
	}
}

// Load builds a Config. path may be empty, in which case PROMPTGATE_CONFIG
// is consulted; a missing .env file is not an error.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return c, fmt.Errorf("load .env: %w", err)
	}
	if err := c.applyEnv(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	c.Port = getenv("PORT", c.Port)
	c.OpenAIKey = getenv("OPENAI_API_KEY", c.OpenAIKey)
	c.OpenAIBaseURL = getenv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.DefaultModel = getenv("DEFAULT_MODEL", c.DefaultModel)
	c.UploadDir = getenv("UPLOAD_DIR", c.UploadDir)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenv("LOG_FORMAT", c.LogFormat)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	var err error
	if c.RequestTimeout, err = getenvInt("REQUEST_TIMEOUT", c.RequestTimeout); err != nil {
		return err
	}
	if c.MaxUploadMB, err = getenvInt("MAX_UPLOAD_MB", c.MaxUploadMB); err != nil {
		return err
	}
	return nil
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.OpenAIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.Port == "" {
		return errors.New("port must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %d", c.RequestTimeout)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	if c.UploadDir == "" {
		return errors.New("upload_dir must not be empty")
	}
	switch c.LogFormat {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("log_format must be auto, console or json, got %q", c.LogFormat)
	}
	return nil
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
