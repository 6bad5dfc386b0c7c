package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

type exportMetadata struct {
	Title    string `json:"title"`
	Model    string `json:"model"`
	Exported string `json:"exported"`
}

type exportDocument struct {
	Metadata exportMetadata `json:"metadata"`
	Messages []models.Turn  `json:"messages"`
}

// Export renders a conversation as an indented JSON document that Import
// accepts.
func (r *Repository) Export(id, model string) ([]byte, error) {
	conv, ok := r.Get(id)
	if !ok {
		return nil, &models.NotFoundError{ID: id}
	}
	if len(conv.Turns) == 0 {
		return nil, &models.ValidationError{Field: "conversation", Reason: "nothing to export"}
	}

	doc := exportDocument{
		Metadata: exportMetadata{
			Title:    conv.Title,
			Model:    model,
			Exported: r.now().Format(time.RFC3339),
		},
		Messages: conv.Turns,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	return data, nil
}

// Import stores an exported document as a new conversation. Nothing is
// stored unless the whole document is valid.
func (r *Repository) Import(ctx context.Context, data []byte) (models.Conversation, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return models.Conversation{}, &models.ImportFormatError{Reason: "document must be a JSON object"}
	}

	var doc exportDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return models.Conversation{}, &models.ImportFormatError{Reason: "invalid conversation document", Err: err}
	}
	if doc.Messages == nil {
		return models.Conversation{}, &models.ImportFormatError{Reason: "messages array is missing"}
	}
	for i, turn := range doc.Messages {
		if !turn.Role.Valid() {
			return models.Conversation{}, &models.ImportFormatError{Reason: fmt.Sprintf("message %d has no role", i)}
		}
	}

	title := strings.TrimSpace(doc.Metadata.Title)
	if title == "" {
		title = models.ImportedTitle
	}

	now := r.now()
	conv := models.Conversation{
		ID:        "imported_" + uuid.NewString(),
		Title:     title,
		Turns:     doc.Messages,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if first, ok := conv.FirstUserContent(); ok {
		conv.Preview = models.DeriveTitle(first)
	}

	err := r.Insert(ctx, conv)
	if err != nil && !IsPersistence(err) {
		return models.Conversation{}, err
	}
	return conv, err
}
