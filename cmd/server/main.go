// Package main 是 relay 服务的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-chat-go/internal/config"
	"ai-chat-go/internal/handler"
	"ai-chat-go/internal/service"
	"ai-chat-go/pkg/llm"
	"ai-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
)

const defaultConfigPath = "./configs/config.yaml"

func main() {
	configPath := flag.String("config", configPathFromEnv(), "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	if cfg.LLM.APIKey == "" {
		log.Warnf("未配置 OPENROUTER_API_KEY，上游请求将会被拒绝")
	}

	// 3. 初始化 Service (依赖注入)
	catalog := cfg.Catalog()
	llmClient := llm.NewClient(cfg.LLM, nil)
	relayService := service.NewRelayService(llmClient, cfg.LLM.Model, llm.GenerationFromConfig(cfg.LLM.Generation))

	// 4. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(relayService, catalog)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s，可用模型 %d 个", srv.Addr, len(catalog))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文，给进行中的流式响应收尾的时间
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// configPathFromEnv 优先使用 CHAT_CONFIG；默认配置文件不存在时只使用默认值与环境变量。
func configPathFromEnv() string {
	if p := os.Getenv("CHAT_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}
