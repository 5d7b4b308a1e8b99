package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

var (
	config     *Config
	configOnce sync.Once
)

// Config holds the client-side settings: where the backend lives, where the
// device keystore sits, and the crypto defaults used when the server does
// not override them.
type Config struct {
	Server struct {
		BaseURL  string `json:"base_url"`
		LogLevel string `json:"log_level"`
	} `json:"server"`

	Keystore struct {
		Path string `json:"path"`
	} `json:"keystore"`

	Crypto struct {
		FallbackIterations int `json:"fallback_iterations"`
		ChunkSize          int `json:"chunk_size"`
	} `json:"crypto"`

	Storage struct {
		Provider        string `json:"provider"` // "api" or "s3"
		S3Endpoint      string `json:"s3_endpoint"`
		S3Region        string `json:"s3_region"`
		S3AccessKeyID   string `json:"s3_access_key_id"`
		S3SecretKey     string `json:"s3_secret_key"`
		S3BucketName    string `json:"s3_bucket_name"`
		S3UsePathStyle  bool   `json:"s3_use_path_style"`
	} `json:"storage"`

	Logging struct {
		Directory  string `json:"directory"`
		MaxSize    int64  `json:"max_size"`
		MaxBackups int    `json:"max_backups"`
	} `json:"logging"`
}

// LoadConfig loads the configuration from environment variables and an
// optional JSON file.
func LoadConfig() (*Config, error) {
	var err error
	configOnce.Do(func() {
		config = &Config{}

		// Load .env file if it exists
		godotenv.Load()

		loadDefaultConfig(config)

		if err = loadEnvConfig(config); err != nil {
			return
		}

		configPath := os.Getenv("COFFER_CONFIG_FILE")
		if configPath != "" {
			if err = loadJSONConfig(config, configPath); err != nil {
				return
			}
		}

		err = validateConfig(config)
	})

	if err != nil {
		return nil, err
	}

	return config, nil
}

func loadDefaultConfig(cfg *Config) {
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Crypto.FallbackIterations = 600000
	cfg.Crypto.ChunkSize = 16 * 1024 * 1024
	cfg.Storage.Provider = "api"
	cfg.Logging.Directory = "logs"
	cfg.Logging.MaxSize = 10 * 1024 * 1024 // 10MB
	cfg.Logging.MaxBackups = 5

	if home, err := os.UserHomeDir(); err == nil {
		cfg.Keystore.Path = filepath.Join(home, ".coffer", "keystore.db")
	} else {
		cfg.Keystore.Path = "keystore.db"
	}
}

func loadEnvConfig(cfg *Config) error {
	if baseURL := os.Getenv("COFFER_SERVER_URL"); baseURL != "" {
		cfg.Server.BaseURL = baseURL
	}
	if path := os.Getenv("COFFER_KEYSTORE_PATH"); path != "" {
		cfg.Keystore.Path = path
	}
	if iters := os.Getenv("COFFER_KDF_ITERATIONS"); iters != "" {
		n, err := strconv.Atoi(iters)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid COFFER_KDF_ITERATIONS: %q", iters)
		}
		cfg.Crypto.FallbackIterations = n
	}
	if chunk := os.Getenv("COFFER_CHUNK_SIZE"); chunk != "" {
		n, err := strconv.Atoi(chunk)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid COFFER_CHUNK_SIZE: %q", chunk)
		}
		cfg.Crypto.ChunkSize = n
	}

	if provider := os.Getenv("COFFER_STORAGE_PROVIDER"); provider != "" {
		cfg.Storage.Provider = provider
	}
	cfg.Storage.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.Storage.S3Region = os.Getenv("S3_REGION")
	cfg.Storage.S3AccessKeyID = os.Getenv("S3_ACCESS_KEY_ID")
	cfg.Storage.S3SecretKey = os.Getenv("S3_SECRET_KEY")
	cfg.Storage.S3BucketName = os.Getenv("S3_BUCKET_NAME")
	if pathStyle := os.Getenv("S3_FORCE_PATH_STYLE"); pathStyle != "" {
		cfg.Storage.S3UsePathStyle = pathStyle != "false"
	}

	return nil
}

func loadJSONConfig(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}

	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.Server.BaseURL == "" {
		return fmt.Errorf("server base URL is required")
	}
	switch cfg.Storage.Provider {
	case "api":
	case "s3":
		if cfg.Storage.S3AccessKeyID == "" || cfg.Storage.S3SecretKey == "" || cfg.Storage.S3BucketName == "" {
			return fmt.Errorf("S3 storage configuration is incomplete")
		}
	default:
		return fmt.Errorf("unknown storage provider: %q", cfg.Storage.Provider)
	}
	return nil
}

// GetConfig returns the current configuration.
func GetConfig() *Config {
	if config == nil {
		panic("Configuration not loaded")
	}
	return config
}
