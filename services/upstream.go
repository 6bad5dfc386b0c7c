package services

import (
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/config"
)

const defaultUpstreamTimeout = 60 * time.Second

// ErrAPIKeyRequired is returned when neither the caller nor the server supplied a key.
var ErrAPIKeyRequired = errors.New("openai api key is required")

// Upstream builds OpenAI clients for a given API key. The key may differ per
// request, so clients are not shared.
type Upstream struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

func NewUpstream(cfg *config.Config, logger *zap.SugaredLogger) *Upstream {
	timeout := cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Upstream{
		baseURL:    strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (u *Upstream) client(apiKey string) (*openai.Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if u.baseURL != "" {
		clientCfg.BaseURL = u.baseURL
	}
	clientCfg.HTTPClient = u.httpClient

	return openai.NewClientWithConfig(clientCfg), nil
}

// UpstreamError is a failed upstream call reduced to what the proxy forwards.
type UpstreamError struct {
	Status  int
	Message string
	Type    string
	Err     error
}

func (e *UpstreamError) Error() string {
	return e.Message
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// describeError maps go-openai errors onto an UpstreamError. Status is 0
// when the upstream never answered.
func describeError(err error) *UpstreamError {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message, Type: apiErr.Type, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		message := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			message = reqErr.Err.Error()
		}
		return &UpstreamError{Status: reqErr.HTTPStatusCode, Message: message, Type: "request_error", Err: err}
	}

	if errors.Is(err, ErrAPIKeyRequired) {
		return &UpstreamError{Status: http.StatusUnauthorized, Message: err.Error(), Type: "invalid_request_error", Err: err}
	}

	return &UpstreamError{Message: err.Error(), Type: "upstream_error", Err: err}
}

// AsUpstreamError converts any error returned by the services into an
// UpstreamError.
func AsUpstreamError(err error) *UpstreamError {
	return describeError(err)
}
