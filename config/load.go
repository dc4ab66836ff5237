package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load builds the configuration. envFile is loaded first so its variables
// are visible to ${VAR} references in the YAML file; variables already set
// in the environment win over the file. A missing envFile is ignored, a
// missing path is an error. Either may be empty. The result is not
// validated.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} with its value. Bare $VAR is left alone so
// secrets containing '$' survive.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(m)[1])
	})
}

// applyEnv copies the recognised environment variables over cfg.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"APP_ENV", &cfg.Env},
		{"LISTEN_ADDR", &cfg.ListenAddr},
		{"DB_PATH", &cfg.DBPath},
		{"LOG_LEVEL", &cfg.LogLevel},
		{"WHATSAPP_PHONE_NUMBER_ID", &cfg.WhatsApp.PhoneNumberID},
		{"WHATSAPP_ACCESS_TOKEN", &cfg.WhatsApp.AccessToken},
		{"WHATSAPP_VERIFY_TOKEN", &cfg.WhatsApp.VerifyToken},
		{"WHATSAPP_APP_SECRET", &cfg.WhatsApp.AppSecret},
		{"WHATSAPP_API_VERSION", &cfg.WhatsApp.APIVersion},
		{"WHATSAPP_BASE_URL", &cfg.WhatsApp.BaseURL},
		{"STAFF_JWT_SECRET", &cfg.Staff.JWTSecret},
		{"AMQP_URL", &cfg.AMQP.URL},
		{"AMQP_EXCHANGE", &cfg.AMQP.Exchange},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok && v != "" {
			*s.dst = v
		}
	}

	// PORT is the platform convention; LISTEN_ADDR wins when both are set.
	if port, ok := lookup("PORT"); ok && port != "" {
		if _, set := lookup("LISTEN_ADDR"); !set {
			if _, err := strconv.Atoi(port); err != nil {
				return fmt.Errorf("config: PORT %q is not a number", port)
			}
			cfg.ListenAddr = ":" + port
		}
	}

	if v, ok := lookup("STAFF_TOKEN_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: STAFF_TOKEN_TTL: %w", err)
		}
		cfg.Staff.TokenTTL = d
	}
	return nil
}
