package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// OpenAI設定（Embeddings + ドキュメント生成用）
	OpenAI OpenAIConfig

	// GitHub設定
	GitHub GitHubConfig

	// Linear設定
	Linear LinearConfig

	// Git設定（ローカルクローン用）
	Git GitConfig

	// パイプライン実行設定
	Pipeline PipelineConfig

	// ログ設定
	Log LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	DocModel           string // ドキュメント生成に使用するモデル名
}

// GitHubConfig はGitHub API設定
type GitHubConfig struct {
	Token   string
	BaseURL string // GitHub Enterprise用のAPIベースURL
}

// LinearConfig はLinear API設定
type LinearConfig struct {
	APIKey string
}

// GitConfig はローカルGit操作設定
type GitConfig struct {
	CloneDir    string
	SSHKeyPath  string
	SSHPassword string // SSH秘密鍵のパスフレーズ
}

// PipelineConfig はパイプライン実行設定
type PipelineConfig struct {
	Workers            int
	EmbeddingBatchSize int
	EmbeddingRateLimit float64 // 埋め込みAPIのリクエスト/秒上限（0で無制限）
	PRLimit            int
	DocFileLimit       int
}

// LogConfig はログ出力設定
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "devtrace"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "devtrace"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			DocModel:           getEnv("OPENAI_DOC_MODEL", "gpt-4o-mini"),
		},
		GitHub: GitHubConfig{
			Token:   getEnv("GITHUB_TOKEN", ""),
			BaseURL: getEnv("GITHUB_API_BASE_URL", ""),
		},
		Linear: LinearConfig{
			APIKey: getEnv("LINEAR_API_KEY", ""),
		},
		Git: GitConfig{
			CloneDir:    getEnv("GIT_CLONE_DIR", "/var/lib/dev-trace/repos"),
			SSHKeyPath:  getEnv("GIT_SSH_KEY_PATH", ""),
			SSHPassword: getEnv("GIT_SSH_PASSWORD", ""),
		},
		Pipeline: PipelineConfig{
			Workers:            getEnvAsInt("PIPELINE_WORKERS", 5),
			EmbeddingBatchSize: getEnvAsInt("EMBEDDING_BATCH_SIZE", 20),
			EmbeddingRateLimit: getEnvAsFloat("EMBEDDING_RATE_LIMIT", 5.0),
			PRLimit:            getEnvAsInt("PIPELINE_PR_LIMIT", 100),
			DocFileLimit:       getEnvAsInt("PIPELINE_DOC_FILE_LIMIT", 20),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
