package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Home     string         `mapstructure:"home"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Chunker  ChunkerConfig  `mapstructure:"chunker"`
	Embedder EmbedderConfig `mapstructure:"embedder"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Search   SearchConfig   `mapstructure:"search"`
	Upload   UploadConfig   `mapstructure:"upload"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	Host        string   `mapstructure:"host"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	Environment string   `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type ChunkerConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
	Overlap   int `mapstructure:"overlap"`
}

type EmbedderConfig struct {
	Model     string `mapstructure:"model"`
	BatchSize int    `mapstructure:"batch_size"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	CacheDir  string `mapstructure:"cache_dir"`
	UseGPU    bool   `mapstructure:"use_gpu"`
}

type LLMConfig struct {
	PreferLocal    bool   `mapstructure:"prefer_local"`
	LocalBaseURL   string `mapstructure:"local_base_url"`
	LocalModel     string `mapstructure:"local_model"`
	OpenAIAPIKey   string `mapstructure:"openai_api_key"`
	OpenAIModel    string `mapstructure:"openai_model"`
	GroqAPIKey     string `mapstructure:"groq_api_key"`
	GroqModel      string `mapstructure:"groq_model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type SearchConfig struct {
	TopK           int     `mapstructure:"top_k"`
	AskThreshold   float64 `mapstructure:"ask_threshold"`
	SearchThreshold float64 `mapstructure:"search_threshold"`
}

type UploadConfig struct {
	MaxFileSize int64 `mapstructure:"max_file_size"`
}

// Load reads docqa.toml and the environment into a validated Config.
// Resolution order for the config file: explicit path, ./docqa.toml,
// $DOCQA_HOME/docqa.toml.
func Load(configPath string) (*Config, error) {
	config := &Config{}

	home := os.Getenv("DOCQA_HOME")
	if home == "" {
		home = "~/.docqa"
	}
	home = expandHomePath(home)

	if configPath != "" {
		absPath, _ := filepath.Abs(configPath)
		viper.SetConfigFile(absPath)
		home = filepath.Dir(absPath)
	} else {
		if _, err := os.Stat("docqa.toml"); err == nil {
			abs, _ := filepath.Abs("docqa.toml")
			viper.SetConfigFile(abs)
			home = filepath.Dir(abs)
		} else {
			viper.SetConfigFile(filepath.Join(home, "docqa.toml"))
		}
	}

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		// Missing default config is fine, defaults and env apply.
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Home == "" {
		config.Home = home
	}
	config.Home = expandHomePath(config.Home)

	config.resolvePaths()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.cors_origins", []string{"*"})
	viper.SetDefault("server.environment", "development")

	viper.SetDefault("chunker.chunk_size", 1000)
	viper.SetDefault("chunker.overlap", 200)

	viper.SetDefault("embedder.model", "text-embedding-3-small")
	viper.SetDefault("embedder.batch_size", 32)
	viper.SetDefault("embedder.use_gpu", false)

	viper.SetDefault("llm.prefer_local", false)
	viper.SetDefault("llm.local_base_url", "http://localhost:11434")
	viper.SetDefault("llm.local_model", "llama3.2")
	viper.SetDefault("llm.openai_model", "gpt-3.5-turbo")
	viper.SetDefault("llm.groq_model", "llama-3.1-8b-instant")
	viper.SetDefault("llm.timeout_seconds", 60)

	viper.SetDefault("search.top_k", 5)
	viper.SetDefault("search.ask_threshold", 0.3)
	viper.SetDefault("search.search_threshold", 0.2)

	viper.SetDefault("upload.max_file_size", int64(20*1024*1024))
}

func bindEnvVars() {
	viper.SetEnvPrefix("DOCQA")
	viper.AutomaticEnv()

	bindings := map[string]string{
		"home":               "DOCQA_HOME",
		"server.port":        "DOCQA_SERVER_PORT",
		"server.host":        "DOCQA_SERVER_HOST",
		"server.environment": "ENVIRONMENT",
		"database.path":      "DATABASE_URL",
		"embedder.api_key":   "OPENAI_API_KEY",
		"embedder.use_gpu":   "USE_GPU",
		"llm.openai_api_key": "OPENAI_API_KEY",
		"llm.groq_api_key":   "GROQ_API_KEY",
		"llm.local_base_url": "LLAMA_BASE_URL",
		"llm.prefer_local":   "PREFER_LOCAL_LLM",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			log.Printf("Warning: failed to bind %s env var: %v", env, err)
		}
	}
}

// DataDir returns the path to the data directory.
func (c *Config) DataDir() string {
	return filepath.Join(c.Home, "data")
}

// UploadsDir returns the directory where original uploads are stored.
func (c *Config) UploadsDir() string {
	return filepath.Join(c.DataDir(), "uploads")
}

// ProcessedDir returns the directory for extracted-text artifacts.
func (c *Config) ProcessedDir() string {
	return filepath.Join(c.DataDir(), "processed")
}

// IndexDir returns the directory holding the vector index files.
func (c *Config) IndexDir() string {
	return filepath.Join(c.DataDir(), "index")
}

// EmbeddingCacheDir returns the on-disk embedding cache directory.
func (c *Config) EmbeddingCacheDir() string {
	if c.Embedder.CacheDir != "" {
		return expandHomePath(c.Embedder.CacheDir)
	}
	return filepath.Join(c.DataDir(), "embeddings")
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Chunker.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive: %d", c.Chunker.ChunkSize)
	}

	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("overlap must be between 0 and chunk size: %d", c.Chunker.Overlap)
	}

	if c.Embedder.BatchSize <= 0 {
		return fmt.Errorf("embedder batch size must be positive: %d", c.Embedder.BatchSize)
	}

	if c.Search.TopK <= 0 {
		return fmt.Errorf("topK must be positive: %d", c.Search.TopK)
	}

	if c.Search.AskThreshold < 0 || c.Search.AskThreshold > 1 {
		return fmt.Errorf("ask threshold must be in [0,1]: %f", c.Search.AskThreshold)
	}

	if c.Search.SearchThreshold < 0 || c.Search.SearchThreshold > 1 {
		return fmt.Errorf("search threshold must be in [0,1]: %f", c.Search.SearchThreshold)
	}

	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive: %d", c.Upload.MaxFileSize)
	}

	return nil
}

func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func (c *Config) resolvePaths() {
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir(), "docqa.db")
	}
	// DATABASE_URL may carry a sqlite URL prefix.
	c.Database.Path = strings.TrimPrefix(c.Database.Path, "sqlite:///")
	c.Database.Path = expandHomePath(c.Database.Path)
	ensureParentDir(c.Database.Path)

	for _, dir := range []string{c.UploadsDir(), c.ProcessedDir(), c.IndexDir(), c.EmbeddingCacheDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("Warning: failed to create directory %s: %v", dir, err)
		}
	}
}

func expandHomePath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

func ensureParentDir(filePath string) {
	if filePath == "" {
		return
	}

	dir := filepath.Dir(filePath)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("Warning: failed to create directory %s: %v", dir, err)
		}
	}
}
