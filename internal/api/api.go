package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/auth"
	"github.com/wuwenbin0122/wwb.chat/services"
)

type ChatCompleter interface {
	Complete(ctx context.Context, apiKey string, req services.ChatRequest) (openai.ChatCompletionResponse, error)
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, apiKey string, req services.TTSRequest) ([]byte, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, apiKey string, req services.ImageRequest) (openai.ImageResponse, error)
}

// Handler serves the chat, speech and image proxy endpoints.
type Handler struct {
	keys   *auth.KeyResolver
	chat   ChatCompleter
	tts    SpeechSynthesizer
	images ImageGenerator
	logger *zap.SugaredLogger
}

func NewHandler(keys *auth.KeyResolver, chat ChatCompleter, tts SpeechSynthesizer, images ImageGenerator, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{keys: keys, chat: chat, tts: tts, images: images, logger: logger}
}

// NewRouter builds the gin engine with middleware, health, metrics and the
// proxy routes.
func NewRouter(h *Handler, allowedOrigin string) *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery(), requestLogger(h.logger), corsMiddleware(allowedOrigin))

	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h.RegisterRoutes(router)
	return router
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	apiGroup := router.Group("/api")

	apiGroup.POST("/chat", h.handleChat)
	apiGroup.POST("/tts", h.handleTTS)
	apiGroup.POST("/image", h.handleImage)

	for _, path := range []string{"/chat", "/tts", "/image"} {
		apiGroup.OPTIONS(path, handlePreflight)
	}
}

func handlePreflight(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h *Handler) handleChat(c *gin.Context) {
	apiKey, err := h.keys.Resolve(c.Request)
	if err != nil {
		writeAPIError(c, http.StatusUnauthorized, err.Error(), "invalid_request_error")
		return
	}

	var req services.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, http.StatusBadRequest, "invalid payload: "+err.Error(), "invalid_request_error")
		return
	}
	if len(req.Messages) == 0 {
		writeAPIError(c, http.StatusBadRequest, "messages are required", "invalid_request_error")
		return
	}

	resp, err := h.chat.Complete(c.Request.Context(), apiKey, req)
	if err != nil {
		upstreamErr := services.AsUpstreamError(err)
		status := failureStatus(upstreamErr)
		upstreamFailures.WithLabelValues("chat", strconv.Itoa(status)).Inc()
		h.logger.Warnw("chat proxy failed", "status", status, "error", upstreamErr.Message)
		writeAPIError(c, status, upstreamErr.Message, upstreamErr.Type)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleTTS(c *gin.Context) {
	apiKey, err := h.keys.Resolve(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	var req services.TTSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	audio, err := h.tts.Synthesize(c.Request.Context(), apiKey, req)
	if err != nil {
		upstreamErr := services.AsUpstreamError(err)
		status := failureStatus(upstreamErr)
		upstreamFailures.WithLabelValues("tts", strconv.Itoa(status)).Inc()
		h.logger.Warnw("tts proxy failed", "status", status, "error", upstreamErr.Message)
		c.JSON(status, gin.H{"error": upstreamErr.Message})
		return
	}

	c.Data(http.StatusOK, "audio/mpeg", audio)
}

func (h *Handler) handleImage(c *gin.Context) {
	apiKey, err := h.keys.Resolve(c.Request)
	if err != nil {
		writeAPIError(c, http.StatusUnauthorized, err.Error(), "invalid_request_error")
		return
	}

	var req services.ImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, http.StatusBadRequest, "invalid payload: "+err.Error(), "invalid_request_error")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeAPIError(c, http.StatusBadRequest, "prompt is required", "invalid_request_error")
		return
	}

	resp, err := h.images.Generate(c.Request.Context(), apiKey, req)
	if err != nil {
		upstreamErr := services.AsUpstreamError(err)
		status := failureStatus(upstreamErr)
		upstreamFailures.WithLabelValues("image", strconv.Itoa(status)).Inc()
		h.logger.Warnw("image proxy failed", "status", status, "error", upstreamErr.Message)
		writeAPIError(c, status, upstreamErr.Message, upstreamErr.Type)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// failureStatus forwards upstream error statuses and maps everything else,
// including transport failures, to 500.
func failureStatus(err *services.UpstreamError) int {
	if err.Status >= http.StatusBadRequest && err.Status <= 599 {
		return err.Status
	}
	return http.StatusInternalServerError
}

func writeAPIError(c *gin.Context, status int, message, errType string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"type":    errType,
		},
	})
}
