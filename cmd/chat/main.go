// Package main 是终端聊天客户端的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"ai-chat-go/internal/client"
	"ai-chat-go/internal/config"
	"ai-chat-go/internal/model"
	"ai-chat-go/internal/repository"
	"ai-chat-go/internal/tui"
	"ai-chat-go/pkg/database"
	"ai-chat-go/pkg/log"

	tea "github.com/charmbracelet/bubbletea"
	_ "github.com/joho/godotenv/autoload"
)

const redisKeyPrefix = "ai-chat:"

func main() {
	configPath := flag.String("config", os.Getenv("CHAT_CONFIG"), "配置文件路径")
	relayURL := flag.String("relay", "", "relay 服务地址，覆盖配置文件")
	flag.Parse()

	if err := run(*configPath, *relayURL); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

func run(configPath, relayURL string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if relayURL != "" {
		cfg.Client.RelayURL = relayURL
	}

	dataDir := cfg.Client.Storage.Path
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("无法确定用户目录: %w", err)
		}
		dataDir = filepath.Join(home, ".ai-chat")
	}

	// 终端被界面占用，日志只写文件
	log.InitFile(cfg.Log.Level, dataDir)
	defer log.Sync()

	kv, err := openStore(cfg.Client.Storage, dataDir)
	if err != nil {
		return err
	}
	repo := repository.NewConversationRepository(kv)

	catalog := cfg.Catalog()
	defaultModel := cfg.LLM.Model
	if _, ok := catalog.Find(defaultModel); !ok {
		defaultModel = catalog.Default()
	}
	ctrl := client.NewController(
		client.NewRelayClient(cfg.Client.RelayURL, cfg.Client.Timeout),
		repo,
		client.Options{
			Catalog:            catalog,
			DefaultModel:       defaultModel,
			DefaultTheme:       model.ParseTheme(cfg.Client.Theme),
			MaxAttachmentBytes: cfg.Client.MaxAttachmentBytes,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ctrl.Load(ctx); err != nil {
		return fmt.Errorf("加载本地会话失败: %w", err)
	}

	log.Infof("客户端启动，relay=%s 存储=%s", cfg.Client.RelayURL, cfg.Client.Storage.Backend)
	p := tea.NewProgram(tui.New(ctx, ctrl), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("界面运行失败: %w", err)
	}
	return nil
}

// openStore 根据配置选择本地文件或 Redis 作为会话存储。
func openStore(cfg config.StorageConfig, dataDir string) (repository.KV, error) {
	switch cfg.Backend {
	case "redis":
		rdb, err := database.NewRedis(cfg.Redis)
		if err != nil {
			return nil, err
		}
		log.Infof("使用 Redis 存储会话: %s", cfg.Redis.Addr)
		return repository.NewRedisKV(rdb, redisKeyPrefix), nil
	case "", "file":
		kv, err := repository.NewFileKV(filepath.Join(dataDir, "store"))
		if err != nil {
			return nil, err
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("未知的存储后端: %s", cfg.Backend)
	}
}
