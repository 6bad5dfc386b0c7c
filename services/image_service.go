package services

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/config"
)

const maxImagesPerRequest = 10

// ImageRequest is the body accepted by the image proxy endpoint.
type ImageRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
	N      int    `json:"n"`
}

type ImageService struct {
	upstream *Upstream
	model    string
	size     string
	logger   *zap.SugaredLogger
}

func NewImageService(cfg *config.Config, upstream *Upstream, logger *zap.SugaredLogger) *ImageService {
	model := strings.TrimSpace(cfg.ImageModel)
	if model == "" {
		model = openai.CreateImageModelDallE3
	}

	size := strings.TrimSpace(cfg.ImageSize)
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &ImageService{upstream: upstream, model: model, size: size, logger: logger}
}

// Generate asks upstream for req.N images and returns their URLs.
func (s *ImageService) Generate(ctx context.Context, apiKey string, req ImageRequest) (openai.ImageResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return openai.ImageResponse{}, fmt.Errorf("prompt cannot be empty")
	}

	n := req.N
	if n <= 0 {
		n = 1
	}
	if n > maxImagesPerRequest {
		n = maxImagesPerRequest
	}

	size := strings.TrimSpace(req.Size)
	if size == "" {
		size = s.size
	}

	client, err := s.upstream.client(apiKey)
	if err != nil {
		return openai.ImageResponse{}, describeError(err)
	}

	resp, err := client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          s.model,
		N:              n,
		Size:           size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		upstreamErr := describeError(err)
		s.logger.Warnw("image generation failed", "size", size, "status", upstreamErr.Status, "error", upstreamErr.Message)
		return openai.ImageResponse{}, upstreamErr
	}

	return resp, nil
}
