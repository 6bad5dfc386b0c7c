package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultTitle is the placeholder a conversation carries until its first reply.
	DefaultTitle = "New Chat"
	// ImportedTitle is used when an imported document has no title.
	ImportedTitle = "Imported Chat"

	titleRuneLimit = 30
	titleEllipsis  = "..."
)

// Turn is a single message exchanged in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is an append-only sequence of turns.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview,omitempty"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no turn storage with c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Turns = append([]Turn(nil), c.Turns...)
	return out
}

// FirstUserContent returns the content of the earliest user turn.
func (c Conversation) FirstUserContent() (string, bool) {
	for _, turn := range c.Turns {
		if turn.Role == RoleUser {
			return turn.Content, true
		}
	}
	return "", false
}

// AssistantTurns counts the committed assistant replies.
func (c Conversation) AssistantTurns() int {
	count := 0
	for _, turn := range c.Turns {
		if turn.Role == RoleAssistant {
			count++
		}
	}
	return count
}

// IndexEntry is one row of the conversation history list.
type IndexEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview,omitempty"`
	TurnCount int       `json:"turn_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeriveTitle builds a conversation title from the first user message:
// the first 30 characters, followed by "..." when the message was longer.
func DeriveTitle(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= titleRuneLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleRuneLimit]) + titleEllipsis
}

// CompletionRequest is the payload sent to the completion gateway.
type CompletionRequest struct {
	Model       string  `json:"model"`
	Messages    []Turn  `json:"messages"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}
