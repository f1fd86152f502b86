// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"civicfix-go/internal/config"
	"civicfix-go/internal/handler"
	"civicfix-go/internal/middleware"
	"civicfix-go/internal/pipeline"
	"civicfix-go/internal/repository"
	"civicfix-go/internal/service"
	"civicfix-go/pkg/database"
	"civicfix-go/pkg/embedding"
	"civicfix-go/pkg/es"
	"civicfix-go/pkg/kafka"
	"civicfix-go/pkg/llm"
	"civicfix-go/pkg/log"
	"civicfix-go/pkg/rerank"
	"civicfix-go/pkg/storage"
	"civicfix-go/pkg/tika"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与 Elasticsearch
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	knowledgeRepo := repository.NewKnowledgeRepository(es.ESClient)
	memoryRepo := repository.NewMemoryRepository(database.RDB)
	ticketRepo := repository.NewTicketRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	rerankClient := rerank.NewClient(cfg.Rerank)
	llmClient := llm.NewClient(cfg.LLM)
	retrievalService := service.NewRetrievalService(embeddingClient, rerankClient, knowledgeRepo, cfg.Elasticsearch, cfg.Retrieval)
	recommendService := service.NewRecommendService(cfg.Scoring)
	memoryService := service.NewMemoryService(memoryRepo, cfg.Memory, cfg.Session)
	ticketService := service.NewTicketService(ticketRepo)
	orchestrator := service.NewOrchestratorService(retrievalService, recommendService, memoryService, ticketService, llmClient, &cfg)

	// 6. 初始化文档索引管道 (Processor)
	processor := pipeline.NewProcessor(tikaClient, embeddingClient, cfg.MinIO, cfg.Elasticsearch)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		assistHandler := handler.NewAssistHandler(orchestrator)
		assist := apiV1.Group("/assist")
		{
			assist.POST("", assistHandler.Assist)
		}

		tickets := apiV1.Group("/tickets")
		{
			tickets.GET("", assistHandler.ListTickets)
		}

		feedback := apiV1.Group("/feedback")
		{
			feedback.POST("", handler.NewFeedbackHandler(orchestrator).Feedback)
		}

		memory := apiV1.Group("/memory")
		{
			memory.DELETE("", handler.NewMemoryHandler(orchestrator).DeleteMemory)
		}

		knowledge := apiV1.Group("/knowledge")
		{
			knowledge.POST("/index", handler.NewKnowledgeHandler().IndexDocument)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// Kafka 消费者是一个常驻循环，会随进程退出自然结束。
	log.Info("服务已优雅关闭")
}
