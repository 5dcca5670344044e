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
	"gopkg.in/yaml.v3"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	AI          AIConfig          `yaml:"ai"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Session     SessionConfig     `yaml:"session"`
	Context     ContextConfig     `yaml:"context"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Scraper     ScraperConfig     `yaml:"scraper"`
	LogLevel    string            `yaml:"log_level"`
}

// Default 返回未设置任何环境变量时的配置。
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		AI: AIConfig{
			BaseURL:        "https://ark.cn-beijing.volces.com/api/v3",
			Region:         "cn-beijing",
			StreamResponse: true,
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-ada-002",
			BatchSize: 50,
		},
		VectorStore: VectorStoreConfig{
			Backend:    "memory",
			Path:       "data/vectorstore/index.json",
			Table:      "freibot_chunks",
			Dimensions: 1536,
		},
		Session: SessionConfig{
			Backend:         "memory",
			TTL:             24 * time.Hour,
			MaxSessions:     10000,
			CleanupInterval: time.Minute,
			KeyPrefix:       "freibot:session:",
		},
		Context: ContextConfig{
			HistoryTokenBudget: 8000,
			Tokenizer:          "chars",
			TokenizerModel:     "gpt-4o",
		},
		Ingest: IngestConfig{
			PDFDir:       "data/pdfs",
			ChunkSize:    1500,
			ChunkOverlap: 300,
			Workers:      4,
		},
		Scraper: ScraperConfig{
			BaseURL: "https://www.freiburg.de/pb/207932.html",
			Delay:   2 * time.Second,
			Timeout: 30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load 从环境变量加载配置；若设置了 FREIBOT_CONFIG，则先读取 YAML 文件作为基础值。
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("FREIBOT_CONFIG")); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	loaders := []func(*Config) error{
		loadServerConfig,
		loadAIConfig,
		loadEmbeddingConfig,
		loadVectorStoreConfig,
		loadSessionConfig,
		loadContextConfig,
		loadIngestConfig,
		loadScraperConfig,
	}
	for _, load := range loaders {
		if err := load(cfg); err != nil {
			return nil, err
		}
	}
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(cfg *Config) error {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		return nil
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		cfg.Server.Addr = port
		return nil
	}

	if strings.Contains(port, " ") {
		return fmt.Errorf("invalid PORT value: %q", port)
	}

	cfg.Server.Addr = ":" + port
	return nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey         string   `yaml:"api_key"`
	AccessKey      string   `yaml:"access_key"`
	SecretKey      string   `yaml:"secret_key"`
	Model          string   `yaml:"model"`
	BaseURL        string   `yaml:"base_url"`
	Region         string   `yaml:"region"`
	Temperature    *float64 `yaml:"temperature"`
	TopP           *float64 `yaml:"top_p"`
	MaxTokens      *int     `yaml:"max_tokens"`
	StreamResponse bool     `yaml:"stream_response"`
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("missing Ark credentials or model: set ARK_API_KEY and ARK_MODEL, or an AK/SK pair")
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

	maxTokens := c.MaxTokens
	if maxTokens == nil {
		val := 2000
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig(cfg *Config) error {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return err
	}
	if temperature != nil {
		cfg.AI.Temperature = temperature
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return err
	}
	if topP != nil {
		cfg.AI.TopP = topP
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return err
	}
	if maxTokens != nil {
		cfg.AI.MaxTokens = maxTokens
	}

	stream, err := parseBoolEnv("ARK_STREAM", cfg.AI.StreamResponse)
	if err != nil {
		return err
	}

	cfg.AI.APIKey = getEnvOrDefault("ARK_API_KEY", cfg.AI.APIKey)
	cfg.AI.AccessKey = getEnvOrDefault("ARK_ACCESS_KEY", cfg.AI.AccessKey)
	cfg.AI.SecretKey = getEnvOrDefault("ARK_SECRET_KEY", cfg.AI.SecretKey)
	cfg.AI.Model = getEnvOrDefault("ARK_MODEL", getEnvOrDefault("Model", cfg.AI.Model))
	cfg.AI.BaseURL = getEnvOrDefault("ARK_BASE_URL", cfg.AI.BaseURL)
	cfg.AI.Region = getEnvOrDefault("ARK_REGION", cfg.AI.Region)
	cfg.AI.StreamResponse = stream
	return nil
}

// EmbeddingConfig 描述向量化服务配置（OpenAI 兼容接口）。
type EmbeddingConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
}

// Enabled 表示是否可以调用向量化接口。
func (c EmbeddingConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadEmbeddingConfig(cfg *Config) error {
	batch, err := parseOptionalIntEnv("EMBEDDING_BATCH_SIZE")
	if err != nil {
		return err
	}
	if batch != nil {
		if *batch < 1 {
			return fmt.Errorf("invalid EMBEDDING_BATCH_SIZE value %d: must be positive", *batch)
		}
		cfg.Embedding.BatchSize = *batch
	}

	cfg.Embedding.APIKey = getEnvOrDefault("OPENAI_API_KEY", cfg.Embedding.APIKey)
	cfg.Embedding.BaseURL = getEnvOrDefault("OPENAI_BASE_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.Model = getEnvOrDefault("EMBEDDING_MODEL", cfg.Embedding.Model)
	return nil
}

// VectorStoreConfig 描述文档索引的存储后端。
type VectorStoreConfig struct {
	// Backend is "memory" (JSON snapshot at Path) or "pgvector".
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Table       string `yaml:"table"`
	Dimensions  int    `yaml:"dimensions"`
}

func loadVectorStoreConfig(cfg *Config) error {
	dims, err := parseOptionalIntEnv("VECTOR_DIMENSIONS")
	if err != nil {
		return err
	}
	if dims != nil {
		cfg.VectorStore.Dimensions = *dims
	}

	cfg.VectorStore.Backend = strings.ToLower(getEnvOrDefault("VECTOR_BACKEND", cfg.VectorStore.Backend))
	cfg.VectorStore.Path = getEnvOrDefault("VECTOR_STORE_PATH", cfg.VectorStore.Path)
	cfg.VectorStore.PostgresDSN = getEnvOrDefault("POSTGRES_DSN", cfg.VectorStore.PostgresDSN)
	cfg.VectorStore.Table = getEnvOrDefault("VECTOR_TABLE", cfg.VectorStore.Table)

	switch cfg.VectorStore.Backend {
	case "memory":
	case "pgvector":
		if cfg.VectorStore.PostgresDSN == "" {
			return fmt.Errorf("VECTOR_BACKEND=pgvector requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("invalid VECTOR_BACKEND value: %q", cfg.VectorStore.Backend)
	}
	return nil
}

// SessionConfig 描述会话存储配置。
type SessionConfig struct {
	// Backend is "memory" or "redis".
	Backend         string        `yaml:"backend"`
	RedisURL        string        `yaml:"redis_url"`
	KeyPrefix       string        `yaml:"key_prefix"`
	TTL             time.Duration `yaml:"ttl"`
	MaxSessions     int           `yaml:"max_sessions"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

func loadSessionConfig(cfg *Config) error {
	ttl, err := parseOptionalDurationEnv("SESSION_TTL")
	if err != nil {
		return err
	}
	if ttl != nil {
		cfg.Session.TTL = *ttl
	}

	interval, err := parseOptionalDurationEnv("SESSION_CLEANUP_INTERVAL")
	if err != nil {
		return err
	}
	if interval != nil {
		cfg.Session.CleanupInterval = *interval
	}

	maxSessions, err := parseOptionalIntEnv("SESSION_MAX")
	if err != nil {
		return err
	}
	if maxSessions != nil {
		cfg.Session.MaxSessions = *maxSessions
	}

	cfg.Session.Backend = strings.ToLower(getEnvOrDefault("SESSION_BACKEND", cfg.Session.Backend))
	cfg.Session.RedisURL = getEnvOrDefault("REDIS_URL", cfg.Session.RedisURL)
	cfg.Session.KeyPrefix = getEnvOrDefault("SESSION_KEY_PREFIX", cfg.Session.KeyPrefix)

	switch cfg.Session.Backend {
	case "memory":
	case "redis":
		if cfg.Session.RedisURL == "" {
			return fmt.Errorf("SESSION_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("invalid SESSION_BACKEND value: %q", cfg.Session.Backend)
	}
	return nil
}

// ContextConfig 描述对话历史裁剪参数。
type ContextConfig struct {
	HistoryTokenBudget int    `yaml:"history_token_budget"`
	Tokenizer          string `yaml:"tokenizer"`
	TokenizerModel     string `yaml:"tokenizer_model"`
}

func loadContextConfig(cfg *Config) error {
	budget, err := parseOptionalIntEnv("HISTORY_TOKEN_BUDGET")
	if err != nil {
		return err
	}
	if budget != nil {
		cfg.Context.HistoryTokenBudget = *budget
	}

	cfg.Context.Tokenizer = strings.ToLower(getEnvOrDefault("CONTEXT_TOKENIZER", cfg.Context.Tokenizer))
	cfg.Context.TokenizerModel = getEnvOrDefault("CONTEXT_TOKENIZER_MODEL", cfg.Context.TokenizerModel)
	return nil
}

// IngestConfig 描述 PDF 入库参数。
type IngestConfig struct {
	PDFDir       string `yaml:"pdf_dir"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	Workers      int    `yaml:"workers"`
}

func loadIngestConfig(cfg *Config) error {
	size, err := parseOptionalIntEnv("CHUNK_SIZE")
	if err != nil {
		return err
	}
	if size != nil {
		cfg.Ingest.ChunkSize = *size
	}

	overlap, err := parseOptionalIntEnv("CHUNK_OVERLAP")
	if err != nil {
		return err
	}
	if overlap != nil {
		cfg.Ingest.ChunkOverlap = *overlap
	}

	workers, err := parseOptionalIntEnv("INGEST_WORKERS")
	if err != nil {
		return err
	}
	if workers != nil {
		cfg.Ingest.Workers = max(1, *workers)
	}

	if cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", cfg.Ingest.ChunkOverlap, cfg.Ingest.ChunkSize)
	}

	cfg.Ingest.PDFDir = getEnvOrDefault("PDF_DIR", cfg.Ingest.PDFDir)
	return nil
}

// ScraperConfig 描述出版物下载参数。
type ScraperConfig struct {
	BaseURL string        `yaml:"base_url"`
	Delay   time.Duration `yaml:"delay"`
	Timeout time.Duration `yaml:"timeout"`
}

func loadScraperConfig(cfg *Config) error {
	delay, err := parseOptionalDurationEnv("SCRAPER_DELAY")
	if err != nil {
		return err
	}
	if delay != nil {
		cfg.Scraper.Delay = *delay
	}

	timeout, err := parseOptionalDurationEnv("SCRAPER_TIMEOUT")
	if err != nil {
		return err
	}
	if timeout != nil {
		cfg.Scraper.Timeout = *timeout
	}

	cfg.Scraper.BaseURL = getEnvOrDefault("SCRAPER_BASE_URL", cfg.Scraper.BaseURL)
	return nil
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

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
