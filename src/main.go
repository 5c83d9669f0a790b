package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tasknest-ai-server/src/configs"
	"tasknest-ai-server/src/configs/database"
	"tasknest-ai-server/src/core/agents"
	"tasknest-ai-server/src/core/archive"
	"tasknest-ai-server/src/core/auth"
	"tasknest-ai-server/src/core/middleware"
	"tasknest-ai-server/src/core/providers/llm"
	"tasknest-ai-server/src/core/ratelimit"
	"tasknest-ai-server/src/core/taskstore"
	"tasknest-ai-server/src/core/utils"
	chathttp "tasknest-ai-server/src/httpsvr/chat"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, configPath, err := configs.LoadConfig()
	if err != nil {
		fmt.Printf("加载配置失败 (%s): %v\n", configPath, err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(cfg.Log.LogDir, cfg.Log.LogFile, cfg.Log.LogLevel)
	if err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	db, err := database.InitDB(cfg.DB)
	if err != nil {
		logger.Error("初始化数据库失败: %v", err)
		os.Exit(1)
	}
	database.SetDB(db)

	limiter, err := ratelimit.NewLimiter(cfg.RateLimit, cfg.RedisCache, logger)
	if err != nil {
		logger.Error("初始化限流器失败: %v", err)
		os.Exit(1)
	}

	// LLM未配置时走纯规则分类，服务仍然可用
	var provider llm.Provider
	if llmCfg, ok := cfg.LLM[cfg.SelectedLLM]; ok && llmCfg.APIKey != "" {
		provider, err = llm.NewProvider(llmCfg)
		if err != nil {
			logger.Error("初始化LLM提供方失败: %v", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("未配置LLM，意图分类降级为规则模式")
	}

	authToken := auth.NewAuthToken(cfg.JWT)
	storeClient := taskstore.NewClient(cfg.TaskStore)
	classifier := agents.NewClassifier(provider, logger)
	chatService := chathttp.NewDefaultChatService(db, cfg, classifier, storeClient, logger)
	chatHandler := chathttp.NewChatHandler(chatService, limiter, logger)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.CorrelationID())

	apiGroup := engine.Group("/api")
	chatHandler.RegisterRoutes(apiGroup, authToken)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.IP, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP服务启动 http://%s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP服务启动失败: %v", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Archive.Enabled {
		ossStore, err := archive.NewOSSStore(cfg.Archive.OSS)
		if err != nil {
			logger.Error("初始化归档存储失败: %v", err)
			os.Exit(1)
		}
		archiver := archive.NewArchiver(db, ossStore, cfg.Archive, logger)
		g.Go(func() error {
			logger.Info("会话归档任务启动，间隔%d秒", cfg.Archive.IntervalSeconds)
			if err := archiver.Run(gctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("服务退出: %v", err)
		os.Exit(1)
	}
	logger.Info("服务已停止")
}
