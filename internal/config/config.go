package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/Brownie44l1/waste-api/internal/preprocess"
)

const (
	BackendNative = "native"
	BackendONNX   = "onnx"
)

type Config struct {
	Port       int    `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
	UploadDir  string `yaml:"upload_dir"`
	// MaxUploadBytes caps the request body of /api/classify.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	Model   ModelConfig   `yaml:"model"`
	Log     LogConfig     `yaml:"log"`
	Cache   CacheConfig   `yaml:"cache"`
	Watch   bool          `yaml:"watch_weights"`
	Bot     BotConfig     `yaml:"bot"`
	Timeout TimeoutConfig `yaml:"timeout"`
}

type ModelConfig struct {
	Backend      string `yaml:"backend"`
	WeightsPath  string `yaml:"weights_path"`
	ONNXPath     string `yaml:"onnx_path"`
	MetadataPath string `yaml:"metadata_path"`
	ONNXRuntime  string `yaml:"onnxruntime_lib"`
	ResizeFilter string `yaml:"resize_filter"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type CacheConfig struct {
	Size int `yaml:"size"`
}

type BotConfig struct {
	Token   string `yaml:"token"`
	Debug   bool   `yaml:"debug"`
	Timeout int    `yaml:"poll_timeout"`
}

// TimeoutConfig values are in seconds.
type TimeoutConfig struct {
	Read     int `yaml:"read"`
	Write    int `yaml:"write"`
	Shutdown int `yaml:"shutdown"`
}

func Default() *Config {
	return &Config{
		Port:           8080,
		CORSOrigin:     "*",
		UploadDir:      filepath.Join(".", "uploads"),
		MaxUploadBytes: 16 << 20,
		Model: ModelConfig{
			Backend:      BackendNative,
			WeightsPath:  filepath.Join(".", "models", "waste_cnn.npz"),
			ONNXPath:     filepath.Join(".", "models", "waste_cnn.onnx"),
			MetadataPath: filepath.Join(".", "models", "model_metadata.json"),
			ResizeFilter: "bilinear",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Cache: CacheConfig{Size: 256},
		Watch: true,
		Bot:   BotConfig{Timeout: 60},
		Timeout: TimeoutConfig{
			Read:     30,
			Write:    60,
			Shutdown: 10,
		},
	}
}

// Load reads .env (if present), then the YAML file at path (if non-empty),
// then applies environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvAsInt("PORT", c.Port)
	c.CORSOrigin = getEnv("CORS_ORIGIN", c.CORSOrigin)
	c.UploadDir = getEnv("UPLOAD_DIR", c.UploadDir)
	c.Model.Backend = getEnv("MODEL_BACKEND", c.Model.Backend)
	c.Model.WeightsPath = getEnv("WEIGHTS_PATH", c.Model.WeightsPath)
	c.Model.ONNXPath = getEnv("ONNX_PATH", c.Model.ONNXPath)
	c.Model.MetadataPath = getEnv("METADATA_PATH", c.Model.MetadataPath)
	c.Model.ONNXRuntime = getEnv("ONNXRUNTIME_LIB", c.Model.ONNXRuntime)
	c.Model.ResizeFilter = getEnv("RESIZE_FILTER", c.Model.ResizeFilter)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
	c.Cache.Size = getEnvAsInt("CACHE_SIZE", c.Cache.Size)
	c.Bot.Token = getEnv("TELEGRAM_BOT_TOKEN", c.Bot.Token)
}

func (c *Config) Validate() error {
	var problems []string
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	switch c.Model.Backend {
	case BackendNative:
		if c.Model.WeightsPath == "" {
			problems = append(problems, "weights_path is required for the native backend")
		}
	case BackendONNX:
		if c.Model.ONNXPath == "" || c.Model.MetadataPath == "" {
			problems = append(problems, "onnx_path and metadata_path are required for the onnx backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown model backend %q", c.Model.Backend))
	}
	if _, err := preprocess.ParseFilter(c.Model.ResizeFilter); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Cache.Size < 0 {
		problems = append(problems, "cache size must not be negative")
	}
	if c.MaxUploadBytes <= 0 {
		problems = append(problems, "max_upload_bytes must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
