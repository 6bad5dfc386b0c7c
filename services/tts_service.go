package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/config"
)

// TTSRequest is the body accepted by the speech proxy endpoint.
type TTSRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// TTSService turns text into MP3 audio upstream.
type TTSService struct {
	upstream     *Upstream
	model        string
	defaultVoice string
	logger       *zap.SugaredLogger
}

func NewTTSService(cfg *config.Config, upstream *Upstream, logger *zap.SugaredLogger) *TTSService {
	model := strings.TrimSpace(cfg.TTSModel)
	if model == "" {
		model = string(openai.TTSModel1)
	}

	voice := strings.TrimSpace(cfg.TTSVoice)
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &TTSService{upstream: upstream, model: model, defaultVoice: voice, logger: logger}
}

// Synthesize returns the MP3 bytes for req.Text.
func (s *TTSService) Synthesize(ctx context.Context, apiKey string, req TTSRequest) ([]byte, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	client, err := s.upstream.client(apiKey)
	if err != nil {
		return nil, describeError(err)
	}

	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = s.defaultVoice
	}

	resp, err := client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		upstreamErr := describeError(err)
		s.logger.Warnw("speech synthesis failed", "voice", voice, "status", upstreamErr.Status, "error", upstreamErr.Message)
		return nil, upstreamErr
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}

	s.logger.Debugw("speech synthesized", "voice", voice, "bytes", len(audio))
	return audio, nil
}
