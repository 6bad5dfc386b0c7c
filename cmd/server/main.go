package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/wuwenbin0122/wwb.chat/config"
	"github.com/wuwenbin0122/wwb.chat/internal/api"
	"github.com/wuwenbin0122/wwb.chat/internal/auth"
	"github.com/wuwenbin0122/wwb.chat/internal/utils"
	"github.com/wuwenbin0122/wwb.chat/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger, err := utils.NewLogger(utils.LoggingConfig{
		Level:       cfg.LogLevel,
		Encoding:    cfg.LogEncoding,
		ServiceName: cfg.ServiceName,
		Output:      "stdout",
	})
	if err != nil {
		log.Fatalf("logger: failed to build: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	keys := auth.NewKeyResolver(cfg.OpenAIAPIKey)
	if !keys.HasServerKey() {
		sugar.Warn("OPENAI_API_KEY is not set; requests must carry their own bearer key")
	}

	gin.SetMode(gin.ReleaseMode)

	upstream := services.NewUpstream(cfg, sugar.Named("upstream"))
	handler := api.NewHandler(
		keys,
		services.NewChatService(cfg, upstream, sugar.Named("chat")),
		services.NewTTSService(cfg, upstream, sugar.Named("tts")),
		services.NewImageService(cfg, upstream, sugar.Named("image")),
		sugar.Named("http"),
	)
	router := api.NewRouter(handler, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infow("server listening", "addr", server.Addr, "upstream", cfg.OpenAIBaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("server crashed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("graceful shutdown failed", "error", err)
	}

	sugar.Info("server stopped cleanly")
}
