package config

import (
	"os"
)

type Config struct {
	DBSource string
	Port     string
	Env      string
}

// Load reads configuration from the environment. DB_SOURCE is optional: when
// it is empty the service runs on the in-memory ledger backend.
func Load() (*Config, error) {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	return &Config{
		DBSource: os.Getenv("DB_SOURCE"),
		Port:     port,
		Env:      env,
	}, nil
}
