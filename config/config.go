package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config is the proxy server configuration.
type Config struct {
	ServerAddr      string        `env:"SERVER_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	AllowedOrigin   string        `env:"CORS_ALLOW_ORIGIN" envDefault:"*"`

	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"60s"`

	ChatModel       string  `env:"CHAT_DEFAULT_MODEL" envDefault:"gpt-3.5-turbo"`
	ChatTemperature float32 `env:"CHAT_DEFAULT_TEMPERATURE" envDefault:"0.7"`
	ChatMaxTokens   int     `env:"CHAT_DEFAULT_MAX_TOKENS" envDefault:"1000"`
	TTSModel        string  `env:"TTS_MODEL" envDefault:"tts-1"`
	TTSVoice        string  `env:"TTS_DEFAULT_VOICE" envDefault:"alloy"`
	ImageModel      string  `env:"IMAGE_MODEL" envDefault:"dall-e-3"`
	ImageSize       string  `env:"IMAGE_DEFAULT_SIZE" envDefault:"1024x1024"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogEncoding string `env:"LOG_ENCODING" envDefault:"json"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"wwb-chat-proxy"`
}

var (
	cfg     *Config
	loadErr error
	once    sync.Once
)

// Load reads config/.env (when present) and the environment once per process.
func Load() (*Config, error) {
	once.Do(func() {
		if err := loadEnvFiles(); err != nil {
			loadErr = fmt.Errorf("load env files: %w", err)
			return
		}
		cfg, loadErr = Parse()
	})

	return cfg, loadErr
}

// Parse builds a Config from the current environment without caching.
func Parse() (*Config, error) {
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	c.OpenAIAPIKey = strings.TrimSpace(c.OpenAIAPIKey)
	c.OpenAIBaseURL = strings.TrimRight(strings.TrimSpace(c.OpenAIBaseURL), "/")

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func loadEnvFiles() error {
	if err := godotenv.Load("config/.env"); err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			// ignore missing config/.env so that environment variables can be supplied externally
			return nil
		}

		return err
	}

	return nil
}

// validate does not require OPENAI_API_KEY: callers may bring their own key.
func (c *Config) validate() error {
	invalid := make([]string, 0, 3)

	if c.OpenAIBaseURL == "" {
		invalid = append(invalid, "OPENAI_BASE_URL")
	}
	if c.ChatTemperature < 0 || c.ChatTemperature > 2 {
		invalid = append(invalid, "CHAT_DEFAULT_TEMPERATURE")
	}
	if c.ChatMaxTokens <= 0 {
		invalid = append(invalid, "CHAT_DEFAULT_MAX_TOKENS")
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid environment variables: %s", strings.Join(invalid, ", "))
	}

	return nil
}
