// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Rerank        RerankConfig        `mapstructure:"rerank"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Scoring       ScoringConfig       `mapstructure:"scoring"`
	Session       SessionConfig       `mapstructure:"session"`
	Memory        MemoryConfig        `mapstructure:"memory"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// 单次请求中投诉正文的最大字符数，超长返回 need_more_info。
	MaxTextChars int `mapstructure:"max_text_chars"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	// 文本知识库索引（procedure/jurisdiction 文档与历史案例文本）。
	KnowledgeIndex string `mapstructure:"knowledge_index"`
	// 图像派生语料索引，与文本索引逻辑独立，由调用方合并结果。
	CaseImageIndex string `mapstructure:"case_image_index"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey          string `mapstructure:"api_key"`
	BaseURL         string `mapstructure:"base_url"`
	Model           string `mapstructure:"model"`
	Dimensions      int    `mapstructure:"dimensions"`
	ImageModel      string `mapstructure:"image_model"`
	ImageDimensions int    `mapstructure:"image_dimensions"`
}

// RerankConfig 存储交叉比对重排模型的配置。
type RerankConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey    string  `mapstructure:"api_key"`
	BaseURL   string  `mapstructure:"base_url"`
	Model     string  `mapstructure:"model"`
	Enabled   bool    `mapstructure:"enabled"`
	MaxTokens int     `mapstructure:"max_tokens"`
	TopP      float64 `mapstructure:"top_p"`
}

// RetrievalConfig 存储混合检索的融合参数。
type RetrievalConfig struct {
	// Alpha/Beta 为稠密与词法得分的融合权重，约定 Alpha+Beta=1。
	Alpha float64 `mapstructure:"alpha"`
	Beta  float64 `mapstructure:"beta"`
	// 是否启用交叉比对重排；重排得分直接替换融合得分，不再混合。
	RerankEnabled bool `mapstructure:"rerank_enabled"`
	// 参与重排的候选窗口 M，要求 M >= TopK。
	RerankWindow int `mapstructure:"rerank_window"`
	TopK         int `mapstructure:"top_k"`
}

// ScoringConfig 存储推荐打分的调节参数。
type ScoringConfig struct {
	// 城市+辖区精确匹配时的加权倍数（> 1）。
	ExactMatchBoost float64 `mapstructure:"exact_match_boost"`
	// 仅城市匹配时的加权倍数，介于 1 与 ExactMatchBoost 之间，留作调参项。
	PartialMatchBoost float64 `mapstructure:"partial_match_boost"`
	// 用户历史反馈 wrong_department 时对候选部门的扣分。
	WrongDepartmentPenalty float64 `mapstructure:"wrong_department_penalty"`
	// 同部门/类别存在 resolved 反馈时的正向强化。
	ResolvedReinforcement float64 `mapstructure:"resolved_reinforcement"`
}

// SessionConfig 存储会话短期状态的配置。
type SessionConfig struct {
	TTLSeconds  int `mapstructure:"ttl_seconds"`
	MaxMessages int `mapstructure:"max_messages"`
}

// MemoryConfig 存储长期记忆的配置。
type MemoryConfig struct {
	DefaultTTLDays  int `mapstructure:"default_ttl_days"`
	FeedbackTTLDays int `mapstructure:"feedback_ttl_days"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
