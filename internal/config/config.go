package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every runtime setting of the service.
type Config struct {
	Server     ServerConfig
	AI         AIConfig
	Quota      QuotaConfig
	Classifier ClassifierConfig
	Store      StoreConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	quota, err := loadQuotaConfig()
	if err != nil {
		return nil, err
	}

	classifier, err := loadClassifierConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		AI:         ai,
		Quota:      quota,
		Classifier: classifier,
		Store:      loadStoreConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the inference collaborator.
type AIConfig struct {
	APIKey           string
	AccessKey        string
	SecretKey        string
	Model            string
	BaseURL          string
	Region           string
	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	StreamResponse   bool
	InferenceTimeout time.Duration
}

// Enabled reports whether the required credentials were provided.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel creates a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + ARK_MODEL or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	timeoutSeconds := 30
	if override, err := parseOptionalIntEnv("INFERENCE_TIMEOUT_SECONDS"); err != nil {
		return AIConfig{}, err
	} else if override != nil && *override > 0 {
		timeoutSeconds = *override
	}

	return AIConfig{
		APIKey:           strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:        strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:        strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:            strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:          getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:           getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:      temperature,
		TopP:             topP,
		MaxTokens:        maxTokens,
		StreamResponse:   stream,
		InferenceTimeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// QuotaConfig describes the free-tier policy.
type QuotaConfig struct {
	Limit         int
	CASRetries    int
	HistoryWindow int
}

func loadQuotaConfig() (QuotaConfig, error) {
	cfg := QuotaConfig{Limit: 10, CASRetries: 3, HistoryWindow: 10}

	if v, err := parseOptionalIntEnv("QUOTA_LIMIT"); err != nil {
		return QuotaConfig{}, err
	} else if v != nil && *v > 0 {
		cfg.Limit = *v
	}

	if v, err := parseOptionalIntEnv("QUOTA_CAS_RETRIES"); err != nil {
		return QuotaConfig{}, err
	} else if v != nil && *v > 0 {
		cfg.CASRetries = *v
	}

	if v, err := parseOptionalIntEnv("HISTORY_WINDOW"); err != nil {
		return QuotaConfig{}, err
	} else if v != nil && *v > 0 {
		cfg.HistoryWindow = *v
	}

	return cfg, nil
}

// ClassifierConfig carries the billing classifier thresholds.
type ClassifierConfig struct {
	MinAnswerRunes     int
	QuestionRatio      float64
	SubstanceThreshold int
}

func loadClassifierConfig() (ClassifierConfig, error) {
	var cfg ClassifierConfig

	if v, err := parseOptionalIntEnv("CLASSIFIER_MIN_ANSWER_RUNES"); err != nil {
		return ClassifierConfig{}, err
	} else if v != nil {
		cfg.MinAnswerRunes = *v
	}

	if v, err := parseOptionalFloatEnv("CLASSIFIER_QUESTION_RATIO"); err != nil {
		return ClassifierConfig{}, err
	} else if v != nil {
		cfg.QuestionRatio = *v
	}

	if v, err := parseOptionalIntEnv("CLASSIFIER_SUBSTANCE_THRESHOLD"); err != nil {
		return ClassifierConfig{}, err
	} else if v != nil {
		cfg.SubstanceThreshold = *v
	}

	return cfg, nil
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string // "sqlite" or "memory"
	Path   string
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Driver: getEnvOrDefault("STORE_DRIVER", "sqlite"),
		Path:   getEnvOrDefault("STORE_PATH", "data/advisor.db"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
