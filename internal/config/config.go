// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"ai-chat-go/internal/model"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
// relay 服务端与终端客户端共用同一份配置文件，各取所需。
type Config struct {
	Server ServerConfig  `mapstructure:"server"`
	Log    LogConfig     `mapstructure:"log"`
	LLM    LLMConfig     `mapstructure:"llm"`
	Models []ModelConfig `mapstructure:"models"`
	Client ClientConfig  `mapstructure:"client"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// LLMConfig 存储上游模型网关（OpenRouter 兼容接口）的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选），零值表示不传给上游。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// ModelConfig 描述模型目录中的一项。
type ModelConfig struct {
	ID     string `mapstructure:"id"`
	Name   string `mapstructure:"name"`
	Tag    string `mapstructure:"tag"`
	Vision bool   `mapstructure:"vision"`
}

// ClientConfig 存储终端客户端的配置。
type ClientConfig struct {
	RelayURL           string        `mapstructure:"relay_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxAttachmentBytes int64         `mapstructure:"max_attachment_bytes"`
	Theme              string        `mapstructure:"theme"`
	Storage            StorageConfig `mapstructure:"storage"`
}

// StorageConfig 决定客户端本地状态落在哪里：file（默认）或 redis。
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Path    string      `mapstructure:"path"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DefaultModels 是未配置 models 时使用的内置目录。
var DefaultModels = []ModelConfig{
	{ID: "deepseek/deepseek-chat", Name: "DeepSeek V3", Tag: "推荐"},
	{ID: "deepseek/deepseek-r1", Name: "DeepSeek R1", Tag: "推理"},
	{ID: "openai/gpt-4o-mini", Name: "GPT-4o mini", Tag: "识图", Vision: true},
	{ID: "google/gemini-2.0-flash-001", Name: "Gemini 2.0 Flash", Tag: "识图", Vision: true},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.model", "deepseek/deepseek-chat")
	v.SetDefault("client.relay_url", "http://localhost:8080")
	v.SetDefault("client.max_attachment_bytes", 10*1024*1024)
	v.SetDefault("client.theme", string(model.ThemeDark))
	v.SetDefault("client.storage.backend", "file")
}

// Load 从指定路径读取 YAML 配置；路径为空时只使用默认值与环境变量。
// 环境变量覆盖规则：llm.api_key -> LLM_API_KEY，另外兼容 OPENROUTER_API_KEY。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", "LLM_API_KEY", "OPENROUTER_API_KEY"); err != nil {
		return nil, fmt.Errorf("绑定环境变量失败: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if len(cfg.Models) == 0 {
		cfg.Models = append([]ModelConfig(nil), DefaultModels...)
	}
	return &cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}

// Catalog 把配置中的模型列表转换为领域模型目录。
func (c Config) Catalog() model.Catalog {
	catalog := make(model.Catalog, 0, len(c.Models))
	for _, m := range c.Models {
		if m.ID == "" {
			continue
		}
		catalog = append(catalog, model.ModelInfo{ID: m.ID, Name: m.Name, Tag: m.Tag, Vision: m.Vision})
	}
	return catalog
}
