package services

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/config"
)

// ChatMessage mirrors OpenAI chat message payloads.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body accepted by the chat proxy endpoint.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// ChatService forwards chat completions upstream, filling in defaults.
type ChatService struct {
	upstream    *Upstream
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.SugaredLogger
}

func NewChatService(cfg *config.Config, upstream *Upstream, logger *zap.SugaredLogger) *ChatService {
	model := strings.TrimSpace(cfg.ChatModel)
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}

	temperature := cfg.ChatTemperature
	if temperature <= 0 {
		temperature = 0.7
	}

	maxTokens := cfg.ChatMaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &ChatService{
		upstream:    upstream,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}
}

// Complete calls the chat completion API. Zero-valued fields take the
// service defaults, so a temperature of 0 is sent as the default.
func (s *ChatService) Complete(ctx context.Context, apiKey string, req ChatRequest) (openai.ChatCompletionResponse, error) {
	client, err := s.upstream.client(apiKey)
	if err != nil {
		return openai.ChatCompletionResponse{}, describeError(err)
	}

	payload := openai.ChatCompletionRequest{
		Model:       strings.TrimSpace(req.Model),
		Messages:    make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if payload.Model == "" {
		payload.Model = s.model
	}
	if payload.Temperature == 0 {
		payload.Temperature = s.temperature
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = s.maxTokens
	}
	for _, msg := range req.Messages {
		payload.Messages = append(payload.Messages, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}

	resp, err := client.CreateChatCompletion(ctx, payload)
	if err != nil {
		upstreamErr := describeError(err)
		s.logger.Warnw("chat completion failed", "model", payload.Model, "status", upstreamErr.Status, "error", upstreamErr.Message)
		return openai.ChatCompletionResponse{}, upstreamErr
	}

	s.logger.Debugw("chat completion", "model", resp.Model, "total_tokens", resp.Usage.TotalTokens)
	return resp, nil
}
