package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Backend struct {
		URL            string
		APIKey         string
		TimeoutSeconds int
	}
	Admin struct {
		// Email is the compatibility fallback for privilege derivation.
		// Real enforcement lives in the backend's row-level rules.
		Email string
	}
	Session struct {
		Path string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	_ = godotenv.Load() // optional .env

	v := viper.New()
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.apikey", "")
	v.SetDefault("backend.timeoutseconds", 15)
	v.SetDefault("admin.email", "admin@example.com")
	v.SetDefault("session.path", "data/session.db")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Configured reports whether the remote backend is reachable in
// principle. A false value puts the process into the degraded
// unconfigured state rather than aborting startup.
func (c Config) Configured() bool {
	return c.Backend.URL != "" && c.Backend.APIKey != ""
}
