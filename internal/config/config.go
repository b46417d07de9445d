package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"toker/token-portal/token-portal-backend/pkg/chain"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Chain      chain.Config     `json:"chain"`
	Security   SecurityConfig   `json:"security"`
	Media      MediaConfig      `json:"media"`
	Reconciler ReconcilerConfig `json:"reconciler"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// SecurityConfig holds the JWT signing secret
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// MediaConfig holds locations for stored images and QR codes
type MediaConfig struct {
	ImageDir  string `json:"image_dir"`
	QRCodeDir string `json:"qr_code_dir"`
}

// ReconcilerConfig configures the reconciliation worker
type ReconcilerConfig struct {
	Schedule  string `json:"schedule"`
	BatchSize int    `json:"batch_size"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Default config
	config := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8088,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    os.Getenv("USER"),
			DBName:  "toker_portal",
			SSLMode: "disable",
		},
		Chain: chain.Config{
			Endpoint:    "/usr/apps/Ethereum/rinkeby/geth.ipc",
			MaxGasPrice: 500000000,
		},
		Media: MediaConfig{
			ImageDir:  "media/images",
			QRCodeDir: "media/qr_codes",
		},
		Reconciler: ReconcilerConfig{
			Schedule:  "@every 30s",
			BatchSize: 100,
		},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if endpoint := os.Getenv("CHAIN_ENDPOINT"); endpoint != "" {
		config.Chain.Endpoint = endpoint
	}
	if rootAddr := os.Getenv("CHAIN_ROOT_ADDRESS"); rootAddr != "" {
		config.Chain.RootAddress = rootAddr
	}
	if rootKey := os.Getenv("CHAIN_ROOT_KEY"); rootKey != "" {
		config.Chain.RootKey = rootKey
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Security.JWTSecret = secret
	}
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
