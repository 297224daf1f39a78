package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentwire/agentwire/internal/domain"
	"github.com/agentwire/agentwire/internal/domain/run"
	"github.com/agentwire/agentwire/internal/domain/session"
	"github.com/agentwire/agentwire/internal/port/backend"
	"github.com/agentwire/agentwire/internal/port/kv"
	"github.com/agentwire/agentwire/internal/secrets"
)

const (
	sessionKeyPrefix  = "session:"
	pausedKeyPrefix   = "paused:"
	settingsKeyPrefix = "settings:"
)

// Sessions is the session registry. It binds project paths to durable
// session ids and caches per-project pause status and LLM settings, all
// keyed by the normalized path so quoted and unquoted spellings of the
// same directory share one session.
type Sessions struct {
	store  kv.Store
	sealer *secrets.Sealer // nil stores settings without the API key instead
}

// NewSessions creates a Sessions registry on the given store.
func NewSessions(store kv.Store, sealer *secrets.Sealer) *Sessions {
	return &Sessions{store: store, sealer: sealer}
}

// GetOrCreate returns the session id bound to projectPath, minting and
// persisting a fresh one on first use.
func (s *Sessions) GetOrCreate(ctx context.Context, projectPath string) (string, error) {
	key, err := registryKey(sessionKeyPrefix, projectPath)
	if err != nil {
		return "", err
	}
	val, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("get session: %w", err)
	}
	if ok {
		return string(val), nil
	}

	id := session.NewID()
	if err := s.store.Set(ctx, key, []byte(id), 0); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return id, nil
}

// Lookup returns the bound session id without creating one.
func (s *Sessions) Lookup(ctx context.Context, projectPath string) (string, bool, error) {
	key, err := registryKey(sessionKeyPrefix, projectPath)
	if err != nil {
		return "", false, err
	}
	val, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("get session: %w", err)
	}
	return string(val), ok, nil
}

// Save binds sessionID to projectPath, replacing any existing binding.
func (s *Sessions) Save(ctx context.Context, projectPath, sessionID string) error {
	key, err := registryKey(sessionKeyPrefix, projectPath)
	if err != nil {
		return err
	}
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", domain.ErrValidation)
	}
	if err := s.store.Set(ctx, key, []byte(sessionID), 0); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear removes the binding and any cached pause for projectPath. Stored
// LLM settings survive; they are project preferences, not session state.
func (s *Sessions) Clear(ctx context.Context, projectPath string) error {
	key, err := registryKey(sessionKeyPrefix, projectPath)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return s.ClearPaused(ctx, projectPath)
}

// SetPaused caches the pause descriptor for projectPath so a restarted
// client can re-offer the pending decision.
func (s *Sessions) SetPaused(ctx context.Context, projectPath string, info run.PauseInfo) error {
	key, err := registryKey(pausedKeyPrefix, projectPath)
	if err != nil {
		return err
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal pause: %w", err)
	}
	if err := s.store.Set(ctx, key, data, 0); err != nil {
		return fmt.Errorf("cache pause: %w", err)
	}
	return nil
}

// ClearPaused drops the cached pause descriptor.
func (s *Sessions) ClearPaused(ctx context.Context, projectPath string) error {
	key, err := registryKey(pausedKeyPrefix, projectPath)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("clear pause: %w", err)
	}
	return nil
}

// PausedFor returns the cached pause descriptor, or nil when none is stored.
func (s *Sessions) PausedFor(ctx context.Context, projectPath string) (*run.PauseInfo, error) {
	key, err := registryKey(pausedKeyPrefix, projectPath)
	if err != nil {
		return nil, err
	}
	val, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get pause: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var info run.PauseInfo
	if err := json.Unmarshal(val, &info); err != nil {
		return nil, fmt.Errorf("unmarshal pause: %w", err)
	}
	return &info, nil
}

// SaveSettings persists per-project LLM settings. With a sealer the whole
// record is encrypted at rest; without one the API key is dropped before
// writing, so it never lands on disk in plaintext.
func (s *Sessions) SaveSettings(ctx context.Context, projectPath string, ls backend.LLMSettings) error {
	key, err := registryKey(settingsKeyPrefix, projectPath)
	if err != nil {
		return err
	}
	if s.sealer == nil {
		ls.APIKey = ""
	}
	data, err := json.Marshal(ls)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if s.sealer != nil {
		if data, err = s.sealer.Seal(data); err != nil {
			return fmt.Errorf("seal settings: %w", err)
		}
	}
	if err := s.store.Set(ctx, key, data, 0); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Settings returns the stored LLM settings for projectPath, or nil when
// none are stored.
func (s *Sessions) Settings(ctx context.Context, projectPath string) (*backend.LLMSettings, error) {
	key, err := registryKey(settingsKeyPrefix, projectPath)
	if err != nil {
		return nil, err
	}
	val, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	if !ok {
		return nil, nil
	}
	if s.sealer != nil {
		if val, err = s.sealer.Open(val); err != nil {
			return nil, fmt.Errorf("open settings: %w", err)
		}
	}
	var ls backend.LLMSettings
	if err := json.Unmarshal(val, &ls); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	return &ls, nil
}

// registryKey builds a store key from a prefix and a normalized project
// path. An empty normalized path is a caller error.
func registryKey(prefix, projectPath string) (string, error) {
	norm := session.NormalizePath(projectPath)
	if norm == "" {
		return "", fmt.Errorf("%w: empty project path", domain.ErrValidation)
	}
	return prefix + norm, nil
}
