package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

const (
	chatPath   = "/api/chat"
	ttsPath    = "/api/tts"
	imagePath  = "/api/image"
	healthPath = "/health"

	DefaultVoice     = "alloy"
	DefaultImageSize = "1024x1024"
)

// Client talks to the proxy server's completion, speech and image endpoints.
type Client struct {
	http   *resty.Client
	logger *zap.SugaredLogger
}

func New(cfg utils.GatewayConfig, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		httpClient.SetAuthToken(key)
	}

	return &Client{http: httpClient, logger: logger}
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error json.RawMessage `json:"error,omitempty"`
}

// Complete sends the conversation context and returns the first choice.
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(chatPath)
	if err != nil {
		return "", transportError(err)
	}

	body := resp.Body()
	if resp.IsError() {
		return "", decodeError(resp.StatusCode(), body)
	}

	var payload completionResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", &models.GatewayError{Status: resp.StatusCode(), Message: "invalid completion response", Err: err}
	}
	if msg, typ, ok := parseErrorField(payload.Error); ok {
		return "", &models.GatewayError{Status: resp.StatusCode(), Message: msg, Type: typ}
	}
	if len(payload.Choices) == 0 {
		return "", &models.GatewayError{Status: resp.StatusCode(), Message: "completion response contained no choices"}
	}

	c.logger.Debugw("completion received", "status", resp.StatusCode(), "duration", resp.Time())
	return payload.Choices[0].Message.Content, nil
}

// Speak returns the audio bytes for text.
func (c *Client) Speak(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &models.ValidationError{Field: "text", Reason: "text is required"}
	}
	if strings.TrimSpace(voice) == "" {
		voice = DefaultVoice
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "audio/mpeg").
		SetBody(map[string]string{"text": text, "voice": voice}).
		Post(ttsPath)
	if err != nil {
		return nil, transportError(err)
	}

	body := resp.Body()
	if resp.IsError() || strings.Contains(resp.Header().Get("Content-Type"), "application/json") {
		return nil, decodeError(resp.StatusCode(), body)
	}
	return body, nil
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error json.RawMessage `json:"error,omitempty"`
}

// GenerateImage returns the URLs of n generated images.
func (c *Client) GenerateImage(ctx context.Context, prompt, size string, n int) ([]string, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, &models.ValidationError{Field: "prompt", Reason: "prompt is required"}
	}
	if size == "" {
		size = DefaultImageSize
	}
	if n <= 0 {
		n = 1
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"prompt": prompt, "size": size, "n": n}).
		Post(imagePath)
	if err != nil {
		return nil, transportError(err)
	}
	if resp.IsError() {
		return nil, decodeError(resp.StatusCode(), resp.Body())
	}

	var payload imageResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, &models.GatewayError{Status: resp.StatusCode(), Message: "invalid image response", Err: err}
	}
	if msg, typ, ok := parseErrorField(payload.Error); ok {
		return nil, &models.GatewayError{Status: resp.StatusCode(), Message: msg, Type: typ}
	}

	urls := make([]string, 0, len(payload.Data))
	for _, item := range payload.Data {
		urls = append(urls, item.URL)
	}
	return urls, nil
}

// Ping checks that the proxy answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get(healthPath)
	if err != nil {
		return transportError(err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decodeError(resp.StatusCode(), resp.Body())
	}
	return nil
}

func transportError(err error) *models.GatewayError {
	return &models.GatewayError{Message: err.Error(), Type: "transport_error", Err: err}
}

// decodeError accepts both {"error":"..."} and {"error":{"message","type"}}.
func decodeError(status int, body []byte) *models.GatewayError {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if msg, typ, ok := parseErrorField(envelope.Error); ok {
			return &models.GatewayError{Status: status, Message: msg, Type: typ}
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &models.GatewayError{Status: status, Message: fmt.Sprintf("gateway returned %d: %s", status, msg)}
}

func parseErrorField(raw json.RawMessage) (string, string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", "", false
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, "", text != ""
	}

	var detail struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
		return detail.Message, detail.Type, true
	}
	return "", "", false
}
