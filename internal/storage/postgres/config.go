package postgres

import (
	"fmt"
	"strconv"

	"oauth-bridge/internal/storage"
)

type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("PostgreSQL host is required")
	}

	if c.Port <= 0 {
		c.Port = 5432 // default PostgreSQL port
	}

	if c.Database == "" {
		return fmt.Errorf("PostgreSQL database name is required")
	}

	if c.Username == "" {
		return fmt.Errorf("PostgreSQL username is required")
	}

	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}

	return nil
}

func (c *Config) GetType() string {
	return "postgres"
}

func (c *Config) GetConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

// NewConfigFromGeneric builds a Config from the factory's generic key-value form
func NewConfigFromGeneric(generic storage.GenericConfig) (*Config, error) {
	config := &Config{
		Host:     generic.GetString("host"),
		Database: generic.GetString("database"),
		Username: generic.GetString("username"),
		Password: generic.GetString("password"),
		SSLMode:  generic.GetString("sslmode"),
	}

	if portStr := generic.GetString("port"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PostgreSQL port: %s", portStr)
		}
		config.Port = port
	}

	return config, nil
}
