package eduquest

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Prefix of the environment variables overriding the config file.
const EnvPrefix = "EDUQUEST_"

type Config struct {
	// Port to listen on.
	Port int `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	// Origin server the agent fetches from.
	Origin string `yaml:"origin" env:"ORIGIN" validate:"required,url,rooturl"`
	// Host name for origin requests and TLS, if different from the origin URL.
	OriginHost string `yaml:"originHost" env:"ORIGIN_HOST" validate:"omitempty,hostname_rfc1123"`
	// Cache database file, or `memory` for an in-memory cache.
	DB string `yaml:"db" env:"DB" validate:"required"`
	// Agent version. Bump to roll out a new cache.
	Version string `yaml:"version" env:"VERSION" validate:"required,excludesall=/ "`
	// Cache name prefix.
	CachePrefix string `yaml:"cachePrefix" env:"CACHE_PREFIX" validate:"excludesall=/ "`
	// Paths cached on install.
	Manifest []string `yaml:"manifest" env:"MANIFEST" envSeparator:"," validate:"dive,required,startswith=/"`
	// Wait for an explicit promotion before activating a new agent.
	DisableSkipWaiting bool `yaml:"disableSkipWaiting" env:"DISABLE_SKIP_WAITING"`
	// Address of the admin endpoints. Empty disables them.
	AdminAddr string `yaml:"adminAddr" env:"ADMIN_ADDR" validate:"omitempty,hostname_port"`
	// Log file, in addition to stdout.
	LogFile string `yaml:"logFile" env:"LOG_FILE"`
}

func DefaultConfig() Config {
	return Config{
		Port:        8080,
		AdminAddr:   "127.0.0.1:8081",
		DB:          "eduquest.db",
		Version:     "v3",
		CachePrefix: "ktu-qna-cache",
		Manifest: []string{
			"/",
			"/index.html",
			"/manifest.json",
			"/ques.png",
			"/confused.png",
		},
	}
}

// LoadEnv loads `.env` files into the environment. Missing files are ignored,
// and variables already set are not overwritten.
func LoadEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// LoadConfig returns the defaults, overridden by the config file (if filename is not empty)
// and then by `EDUQUEST_*` environment variables.
// The result is not validated, since command line flags may still override it.
func LoadConfig(filename string) (Config, error) {
	config := DefaultConfig()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse config file %s: %w", filename, err)
		}
	}
	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

// Validate checks the config is usable.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("rooturl", isRootURL); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// isRootURL reports whether the URL has no path, since request paths are sent to the origin as is.
func isRootURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return u.Path == "" || u.Path == "/"
}
