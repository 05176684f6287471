package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the runtime settings of the evaluator
type Config struct {
	Model   ModelConfig
	Dataset DatasetConfig
	Log     LogConfig

	// Workers bounds the goroutines used for per-item work
	Workers int
}

// ModelConfig locates the exported model and its tokenizers
type ModelConfig struct {
	Dir              string
	ORTLibraryPath   string
	TextTokenizer    string
	CaptionTokenizer string
	ImageSize        int
	MaxNewTokens     int
}

// DatasetConfig locates the evaluation split
type DatasetConfig struct {
	Annotations string
	ImageRoot   string
}

// LogConfig selects the log level and output format
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

// Load reads settings from envFilePath (if it exists) and the environment
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// a missing env file is fine; the environment alone is enough
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Model: ModelConfig{
			Dir:              getEnv("BLIP_EVAL_MODEL_DIR", "models/blip2"),
			ORTLibraryPath:   getEnv("BLIP_EVAL_ORT_LIBRARY", ""),
			TextTokenizer:    getEnv("BLIP_EVAL_TEXT_TOKENIZER", ""),
			CaptionTokenizer: getEnv("BLIP_EVAL_CAPTION_TOKENIZER", ""),
		},
		Dataset: DatasetConfig{
			Annotations: getEnv("BLIP_EVAL_ANNOTATIONS", ""),
			ImageRoot:   getEnv("BLIP_EVAL_IMAGE_ROOT", ""),
		},
		Log: LogConfig{
			Level:  getEnv("BLIP_EVAL_LOG_LEVEL", "info"),
			Format: getEnv("BLIP_EVAL_LOG_FORMAT", "text"),
		},
	}

	var err error
	if cfg.Model.ImageSize, err = getEnvInt("BLIP_EVAL_IMAGE_SIZE", 224); err != nil {
		return nil, err
	}
	if cfg.Model.MaxNewTokens, err = getEnvInt("BLIP_EVAL_MAX_NEW_TOKENS", 30); err != nil {
		return nil, err
	}
	if cfg.Workers, err = getEnvInt("BLIP_EVAL_WORKERS", 1); err != nil {
		return nil, err
	}

	if cfg.Model.TextTokenizer == "" {
		cfg.Model.TextTokenizer = cfg.Model.Dir + "/tokenizer.json"
	}
	if cfg.Model.CaptionTokenizer == "" {
		cfg.Model.CaptionTokenizer = cfg.Model.Dir + "/caption_tokenizer.json"
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
