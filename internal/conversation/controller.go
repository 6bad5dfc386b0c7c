package conversation

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

// DefaultHistoryWindow is how many recent turns are sent with each request.
const DefaultHistoryWindow = 20

// CompletionGateway turns a context of turns into an assistant reply.
type CompletionGateway interface {
	Complete(ctx context.Context, req models.CompletionRequest) (string, error)
}

// SpeechGateway renders text as audio.
type SpeechGateway interface {
	Speak(ctx context.Context, text, voice string) ([]byte, error)
}

// State is the position of a single send in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
	StateCommitted
	StateFailed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is what a send produced. Err is set for Failed and Rejected.
// Warnings carries persistence failures that did not stop the send.
type Outcome struct {
	ConversationID string
	State          State
	Reply          string
	Err            error
	Warnings       []error
}

// OK reports whether the send committed a reply.
func (o Outcome) OK() bool {
	return o.State == StateCommitted
}

// Controller runs sends: commit the user turn, call the gateway, commit the
// reply. Only one send is in flight at a time.
type Controller struct {
	repo        *Repository
	settings    *SettingsStore
	completions CompletionGateway
	speech      SpeechGateway
	window      int
	logger      *zap.SugaredLogger
	active      atomic.Bool
}

// NewController wires a controller. A window of zero or less uses
// DefaultHistoryWindow.
func NewController(repo *Repository, settings *SettingsStore, completions CompletionGateway, speech SpeechGateway, window int, logger *zap.SugaredLogger) *Controller {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Controller{
		repo:        repo,
		settings:    settings,
		completions: completions,
		speech:      speech,
		window:      window,
		logger:      logger,
	}
}

// Busy reports whether a send is awaiting its response.
func (c *Controller) Busy() bool {
	return c.active.Load()
}

// SendUserMessage sends text in conversationID, minting a new id when it is
// blank. The user turn stays committed whatever the gateway answers.
func (c *Controller) SendUserMessage(ctx context.Context, conversationID, text string) Outcome {
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{
			ConversationID: conversationID,
			State:          StateRejected,
			Err:            &models.ValidationError{Field: "text", Reason: "message is empty"},
		}
	}

	if !c.active.CompareAndSwap(false, true) {
		return Outcome{ConversationID: conversationID, State: StateRejected, Err: models.ErrSendInProgress}
	}
	defer c.active.Store(false)

	id := strings.TrimSpace(conversationID)
	if id == "" {
		id = NewConversationID()
	}
	out := Outcome{ConversationID: id, State: StateIdle}

	if _, err := c.repo.CreateIfAbsent(ctx, id, text); err != nil && !c.warn(&out, err) {
		out.State, out.Err = StateRejected, err
		return out
	}
	if err := c.repo.AppendTurn(ctx, id, models.Turn{Role: models.RoleUser, Content: text}); err != nil && !c.warn(&out, err) {
		out.State, out.Err = StateRejected, err
		return out
	}

	conv, _ := c.repo.Get(id)
	settings := c.settings.Get()
	req := models.CompletionRequest{
		Model:       settings.Model,
		Messages:    BuildContext(conv.Turns, settings.SystemInstructions, c.window),
		Temperature: settings.Temperature,
		MaxTokens:   settings.MaxTokens,
	}

	out.State = StateAwaitingResponse
	c.logger.Debugw("sending completion", "conversation_id", id, "messages", len(req.Messages), "model", req.Model)

	reply, err := c.completions.Complete(ctx, req)
	if err != nil {
		gwErr := asGatewayError(err)
		c.logger.Warnw("completion failed", "conversation_id", id, "status", gwErr.Status, "error", gwErr.Message)
		out.State, out.Err = StateFailed, gwErr
		return out
	}

	if err := c.repo.AppendTurn(ctx, id, models.Turn{Role: models.RoleAssistant, Content: reply}); err != nil && !c.warn(&out, err) {
		out.State, out.Err = StateFailed, err
		return out
	}

	if conv, ok := c.repo.Get(id); ok && conv.AssistantTurns() == 1 {
		if first, ok := conv.FirstUserContent(); ok {
			if _, err := c.repo.SetTitleOnce(ctx, id, models.DeriveTitle(first)); err != nil {
				c.warn(&out, err)
			}
		}
	}

	out.State = StateCommitted
	out.Reply = reply
	return out
}

// SpeakLast renders the most recent assistant turn of a conversation as audio.
func (c *Controller) SpeakLast(ctx context.Context, conversationID, voice string) ([]byte, error) {
	if c.speech == nil {
		return nil, errors.New("speech gateway is not configured")
	}

	conv, ok := c.repo.Get(conversationID)
	if !ok {
		return nil, &models.NotFoundError{ID: conversationID}
	}

	for i := len(conv.Turns) - 1; i >= 0; i-- {
		if conv.Turns[i].Role == models.RoleAssistant {
			audio, err := c.speech.Speak(ctx, conv.Turns[i].Content, voice)
			if err != nil {
				return nil, asGatewayError(err)
			}
			return audio, nil
		}
	}
	return nil, &models.ValidationError{Field: "conversation", Reason: "no assistant message to speak"}
}

// BuildContext is the outgoing message list: an optional system turn followed
// by the last window turns in their original order.
func BuildContext(turns []models.Turn, systemInstructions string, window int) []models.Turn {
	if window > 0 && len(turns) > window {
		turns = turns[len(turns)-window:]
	}

	messages := make([]models.Turn, 0, len(turns)+1)
	if instructions := strings.TrimSpace(systemInstructions); instructions != "" {
		messages = append(messages, models.Turn{Role: models.RoleSystem, Content: instructions})
	}
	return append(messages, turns...)
}

// warn records a persistence failure on out. It reports false for any other
// error so the caller can stop.
func (c *Controller) warn(out *Outcome, err error) bool {
	if !IsPersistence(err) {
		return false
	}
	c.logger.Warnw("state not persisted", "conversation_id", out.ConversationID, "error", err)
	out.Warnings = append(out.Warnings, err)
	return true
}

func asGatewayError(err error) *models.GatewayError {
	var gwErr *models.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return &models.GatewayError{Message: err.Error(), Err: err}
}
