package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"

	"site/internal/contentstack"
)

const (
	TransportREST    = "rest"
	TransportGraphQL = "graphql"
)

type Config struct {
	ListenAddr string `env:"SITE_LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `env:"SITE_LOG_LEVEL" envDefault:"info"`

	CacheLive string `env:"SITE_CACHE_LIVE"`
	Dedupe    string `env:"SITE_DEDUPE" envDefault:"defer"`

	Contentstack ContentstackConfig
}

type ContentstackConfig struct {
	APIKey        string        `env:"CONTENTSTACK_API_KEY"`
	DeliveryToken string        `env:"CONTENTSTACK_DELIVERY_TOKEN"`
	Environment   string        `env:"CONTENTSTACK_ENVIRONMENT"`
	Branch        string        `env:"CONTENTSTACK_BRANCH"`
	Region        string        `env:"CONTENTSTACK_REGION" envDefault:"NA"`
	Host          string        `env:"CONTENTSTACK_HOST"`
	Locale        string        `env:"CONTENTSTACK_LOCALE" envDefault:"en-us"`
	Transport     string        `env:"CONTENTSTACK_TRANSPORT" envDefault:"rest"`
	Timeout       time.Duration `env:"CONTENTSTACK_TIMEOUT" envDefault:"15s"`
}

// Load reads an optional .env file, then the process environment, and validates the result.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Dedupe = strings.ToLower(strings.TrimSpace(c.Dedupe))
	c.CacheLive = strings.TrimSpace(c.CacheLive)
	c.Contentstack.Transport = strings.ToLower(strings.TrimSpace(c.Contentstack.Transport))
	c.Contentstack.Locale = strings.TrimSpace(c.Contentstack.Locale)
}

func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.ListenAddr, validation.Required),
		validation.Field(&c.LogLevel, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Dedupe, validation.In("defer", "cancel")),
	)
	if err != nil {
		return err
	}
	return c.Contentstack.Validate()
}

func (c *ContentstackConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.DeliveryToken, validation.Required),
		validation.Field(&c.Environment, validation.Required),
		validation.Field(&c.Region, validation.By(validRegion)),
		validation.Field(&c.Transport, validation.Required, validation.In(TransportREST, TransportGraphQL)),
		validation.Field(&c.Timeout, validation.Min(time.Second)),
	)
}

func (c *ContentstackConfig) ParsedRegion() contentstack.Region {
	region, ok := contentstack.ParseRegion(c.Region)
	if !ok {
		return contentstack.RegionNA
	}
	return region
}

func (c *ContentstackConfig) Credentials() contentstack.Credentials {
	return contentstack.Credentials{
		APIKey:        c.APIKey,
		DeliveryToken: c.DeliveryToken,
		Environment:   c.Environment,
		Branch:        c.Branch,
	}
}

func validRegion(value interface{}) error {
	region, _ := value.(string)
	if _, ok := contentstack.ParseRegion(region); !ok {
		return fmt.Errorf("unknown region %q", region)
	}
	return nil
}
