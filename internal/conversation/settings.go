package conversation

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/db"
	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

// Store keys for the settings blob and the separately kept instructions.
const (
	SettingsKey           = "chat_settings"
	CustomInstructionsKey = "custom_instructions"
)

// SettingsStore holds the single process-wide Settings value and persists it
// on every change.
type SettingsStore struct {
	mu       sync.RWMutex
	store    db.Store
	settings models.Settings
	logger   *zap.SugaredLogger
}

// NewSettingsStore starts from DefaultSettings until Load is called.
func NewSettingsStore(store db.Store, logger *zap.SugaredLogger) *SettingsStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SettingsStore{
		store:    store,
		settings: models.DefaultSettings(),
		logger:   logger,
	}
}

// Load reads persisted settings over the defaults. A separately stored
// custom_instructions value wins over the instructions inside the blob.
// Stored settings that fail validation are discarded in favour of defaults.
func (s *SettingsStore) Load(ctx context.Context) error {
	loaded := models.DefaultSettings()
	if _, err := db.LoadJSON(ctx, s.store, SettingsKey, &loaded); err != nil {
		return &models.PersistenceError{Op: "load", Key: SettingsKey, Err: err}
	}
	if err := loaded.Validate(); err != nil {
		s.logger.Warnw("stored settings rejected, using defaults", "error", err)
		loaded = models.DefaultSettings()
	}

	var instructions string
	found, err := db.LoadJSON(ctx, s.store, CustomInstructionsKey, &instructions)
	if err != nil {
		return &models.PersistenceError{Op: "load", Key: CustomInstructionsKey, Err: err}
	}
	if found {
		loaded.SystemInstructions = instructions
	}

	s.mu.Lock()
	s.settings = loaded
	s.mu.Unlock()
	return nil
}

// Get returns the current settings.
func (s *SettingsStore) Get() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update applies mutate to a copy, validates it and persists it. Invalid
// settings leave the current value untouched. A *PersistenceError keeps the
// new value in memory.
func (s *SettingsStore) Update(ctx context.Context, mutate func(*models.Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	mutate(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	s.settings = next

	if err := db.SaveJSON(ctx, s.store, SettingsKey, next); err != nil {
		return &models.PersistenceError{Op: "save", Key: SettingsKey, Err: err}
	}
	if err := db.SaveJSON(ctx, s.store, CustomInstructionsKey, next.SystemInstructions); err != nil {
		return &models.PersistenceError{Op: "save", Key: CustomInstructionsKey, Err: err}
	}
	return nil
}
