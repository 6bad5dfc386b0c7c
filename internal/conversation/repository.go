package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/db"
	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

// HistoryKey is the store key holding every conversation.
const HistoryKey = "chat_history"

// Repository is the in-memory map of conversations, hydrated from a Store at
// start-up and written back in full after every mutation.
//
// Records that fail to decode are kept verbatim in unreadable and written back
// untouched. After a failed Load nothing is written to HistoryKey at all.
type Repository struct {
	mu            sync.RWMutex
	store         db.Store
	conversations map[string]*models.Conversation
	unreadable    map[string]json.RawMessage
	loadErr       error
	now           func() time.Time
	logger        *zap.SugaredLogger
}

// Option customises a Repository.
type Option func(*Repository)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger used for load and persist failures.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRepository returns an empty repository backed by store. Call Load before
// the first mutation to hydrate it.
func NewRepository(store db.Store, opts ...Option) *Repository {
	repo := &Repository{
		store:         store,
		conversations: make(map[string]*models.Conversation),
		unreadable:    make(map[string]json.RawMessage),
		now:           func() time.Time { return time.Now().UTC() },
		logger:        zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// NewConversationID mints an id for a conversation created by a send.
func NewConversationID() string {
	return "chat_" + uuid.NewString()
}

// Load replaces the in-memory map with what the store holds. A missing key
// leaves the repository empty. A conversation that cannot be decoded is
// skipped and preserved as stored. When the history itself cannot be read,
// Load returns a *PersistenceError and later mutations stay in memory only.
func (r *Repository) Load(ctx context.Context) error {
	var stored map[string]json.RawMessage
	if _, err := db.LoadJSON(ctx, r.store, HistoryKey, &stored); err != nil {
		r.mu.Lock()
		r.loadErr = err
		r.mu.Unlock()

		r.logger.Warnw("conversation history unreadable, saves disabled", "error", err)
		return &models.PersistenceError{Op: "load", Key: HistoryKey, Err: err}
	}

	conversations := make(map[string]*models.Conversation, len(stored))
	unreadable := make(map[string]json.RawMessage)
	for id, raw := range stored {
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}

		conv := &models.Conversation{}
		if err := json.Unmarshal(raw, conv); err != nil {
			r.logger.Warnw("skipping unreadable conversation", "conversation_id", id, "error", err)
			unreadable[id] = raw
			continue
		}
		conv.ID = id
		conversations[id] = conv
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.conversations = conversations
	r.unreadable = unreadable
	r.loadErr = nil
	r.logger.Debugw("conversations loaded", "count", len(conversations), "skipped", len(unreadable))
	return nil
}

// Get returns a copy of the conversation stored under id.
func (r *Repository) Get(id string) (models.Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[id]
	if !ok {
		return models.Conversation{}, false
	}
	return conv.Clone(), true
}

// CreateIfAbsent creates an empty conversation for id unless one exists.
// Existing turns are never reset. A returned *PersistenceError does not undo
// the creation.
func (r *Repository) CreateIfAbsent(ctx context.Context, id, firstUserContent string) (models.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return models.Conversation{}, &models.ValidationError{Field: "id", Reason: "conversation id is required"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if conv, ok := r.conversations[id]; ok {
		return conv.Clone(), nil
	}
	if _, ok := r.unreadable[id]; ok {
		return models.Conversation{}, &models.ValidationError{Field: "id", Reason: "conversation " + id + " is stored but unreadable"}
	}

	now := r.now()
	conv := &models.Conversation{
		ID:        id,
		Title:     models.DefaultTitle,
		Preview:   models.DeriveTitle(firstUserContent),
		Turns:     []models.Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.conversations[id] = conv

	return conv.Clone(), r.persistLocked(ctx)
}

// AppendTurn appends turn to the conversation and persists before returning.
func (r *Repository) AppendTurn(ctx context.Context, id string, turn models.Turn) error {
	if !turn.Role.Valid() {
		return &models.ValidationError{Field: "role", Reason: "turn role must be system, user or assistant"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok {
		return &models.NotFoundError{ID: id}
	}

	conv.Turns = append(conv.Turns, turn)
	conv.UpdatedAt = r.now()

	return r.persistLocked(ctx)
}

// SetTitleOnce sets the title while it is still the placeholder. It reports
// whether the title changed.
func (r *Repository) SetTitleOnce(ctx context.Context, id, title string) (bool, error) {
	title = strings.TrimSpace(title)

	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok {
		return false, &models.NotFoundError{ID: id}
	}
	if conv.Title != models.DefaultTitle || title == "" {
		return false, nil
	}

	conv.Title = title
	return true, r.persistLocked(ctx)
}

// Insert adds a complete conversation. The id must be unused.
func (r *Repository) Insert(ctx context.Context, conv models.Conversation) error {
	if strings.TrimSpace(conv.ID) == "" {
		return &models.ValidationError{Field: "id", Reason: "conversation id is required"}
	}
	for _, turn := range conv.Turns {
		if !turn.Role.Valid() {
			return &models.ValidationError{Field: "role", Reason: "turn role must be system, user or assistant"}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, unreadable := r.unreadable[conv.ID]
	if _, exists := r.conversations[conv.ID]; exists || unreadable {
		return &models.ValidationError{Field: "id", Reason: "conversation " + conv.ID + " already exists"}
	}

	stored := conv.Clone()
	if stored.Turns == nil {
		stored.Turns = []models.Turn{}
	}
	r.conversations[conv.ID] = &stored

	return r.persistLocked(ctx)
}

// List returns every conversation, most recently updated first.
func (r *Repository) List() []models.IndexEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]models.IndexEntry, 0, len(r.conversations))
	for _, conv := range r.conversations {
		entries = append(entries, models.IndexEntry{
			ID:        conv.ID,
			Title:     conv.Title,
			Preview:   conv.Preview,
			TurnCount: len(conv.Turns),
			UpdatedAt: conv.UpdatedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries
}

// persistLocked writes the whole map. Callers hold r.mu for writing, so two
// saves of HistoryKey never interleave.
func (r *Repository) persistLocked(ctx context.Context) error {
	if r.loadErr != nil {
		return &models.PersistenceError{Op: "save", Key: HistoryKey, Err: fmt.Errorf("history was not loaded: %w", r.loadErr)}
	}

	payload := make(map[string]any, len(r.conversations)+len(r.unreadable))
	for id, raw := range r.unreadable {
		payload[id] = raw
	}
	for id, conv := range r.conversations {
		payload[id] = conv
	}

	if err := db.SaveJSON(ctx, r.store, HistoryKey, payload); err != nil {
		r.logger.Warnw("persist conversations failed", "error", err)
		return &models.PersistenceError{Op: "save", Key: HistoryKey, Err: err}
	}
	return nil
}

// IsPersistence reports whether err is a non-fatal store failure.
func IsPersistence(err error) bool {
	var perr *models.PersistenceError
	return errors.As(err, &perr)
}
