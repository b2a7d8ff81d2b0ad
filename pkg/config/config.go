package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Agent    AgentConfig
	LLM      LLMConfig
	Azure    AzureSearchConfig
	Milvus   MilvusConfig
	Redis    RedisConfig
	SQLite   SQLiteConfig
	Chunking ChunkingConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type AgentConfig struct {
	MaxIterations       int
	ConfidenceThreshold float64
	EnableCriticism     bool
	EnableAutoRetry     bool
	TopK                int
	HistoryWindow       int
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

type AzureSearchConfig struct {
	Enabled    bool
	Endpoint   string
	IndexName  string
	APIKey     string
	APIVersion string
	TimeoutSec int
}

type MilvusConfig struct {
	Enabled        bool
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type SQLiteConfig struct {
	Path string
}

type ChunkingConfig struct {
	Strategy  string
	ChunkSize int
	Overlap   int
	Sentences int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/ragmind")

	viper.SetEnvPrefix("RAGMIND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 60)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("agent.maxIterations", 3)
	viper.SetDefault("agent.confidenceThreshold", 0.6)
	viper.SetDefault("agent.enableCriticism", false)
	viper.SetDefault("agent.enableAutoRetry", true)
	viper.SetDefault("agent.topK", 5)
	viper.SetDefault("agent.historyWindow", 5)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)

	viper.SetDefault("azure.enabled", false)
	viper.SetDefault("azure.apiVersion", "2024-07-01")
	viper.SetDefault("azure.timeoutSec", 5)

	viper.SetDefault("milvus.enabled", false)
	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "corpus_chunks")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("sqlite.path", "./data/ragmind.db")

	viper.SetDefault("chunking.strategy", "semantic")
	viper.SetDefault("chunking.chunkSize", 500)
	viper.SetDefault("chunking.overlap", 50)
	viper.SetDefault("chunking.sentences", 5)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
