package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentwire/agentwire/internal/domain"
	"github.com/agentwire/agentwire/internal/domain/run"
	"github.com/agentwire/agentwire/internal/port/backend"
	"github.com/agentwire/agentwire/internal/secrets"
)

// mapStore is an in-memory kv.Store for service tests.
type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (s *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), val...), true, nil
}

func (s *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *mapStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *mapStore) raw(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.data[key]
	return val, ok
}

func TestGetOrCreateStableAcrossSpellings(t *testing.T) {
	reg := NewSessions(newMapStore(), nil)
	ctx := context.Background()

	id, err := reg.GetOrCreate(ctx, "/home/dev/proj")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if id == "" {
		t.Fatal("expected a minted session id")
	}

	for _, spelling := range []string{
		"/home/dev/proj",
		"  /home/dev/proj  ",
		`"/home/dev/proj"`,
		`'"/home/dev/proj"'`,
	} {
		got, err := reg.GetOrCreate(ctx, spelling)
		if err != nil {
			t.Fatalf("GetOrCreate(%q): %v", spelling, err)
		}
		if got != id {
			t.Errorf("GetOrCreate(%q) = %q, want %q", spelling, got, id)
		}
	}
}

func TestGetOrCreateDistinctPaths(t *testing.T) {
	reg := NewSessions(newMapStore(), nil)
	ctx := context.Background()

	a, err := reg.GetOrCreate(ctx, "/proj/a")
	if err != nil {
		t.Fatalf("GetOrCreate a: %v", err)
	}
	b, err := reg.GetOrCreate(ctx, "/proj/b")
	if err != nil {
		t.Fatalf("GetOrCreate b: %v", err)
	}
	if a == b {
		t.Errorf("distinct paths share session id %q", a)
	}
}

func TestGetOrCreateEmptyPath(t *testing.T) {
	reg := NewSessions(newMapStore(), nil)

	if _, err := reg.GetOrCreate(context.Background(), `  ""  `); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestLookupDoesNotCreate(t *testing.T) {
	reg := NewSessions(newMapStore(), nil)
	ctx := context.Background()

	if _, ok, err := reg.Lookup(ctx, "/proj"); err != nil || ok {
		t.Fatalf("Lookup on empty registry = ok=%v err=%v, want miss", ok, err)
	}

	id, err := reg.GetOrCreate(ctx, "/proj")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	got, ok, err := reg.Lookup(ctx, "/proj")
	if err != nil || !ok {
		t.Fatalf("Lookup after create = ok=%v err=%v", ok, err)
	}
	if got != id {
		t.Errorf("Lookup = %q, want %q", got, id)
	}
}

func TestSaveReplacesBinding(t *testing.T) {
	reg := NewSessions(newMapStore(), nil)
	ctx := context.Background()

	if _, err := reg.GetOrCreate(ctx, "/proj"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := reg.Save(ctx, "/proj", "session_restored"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := reg.GetOrCreate(ctx, "/proj")
	if err != nil {
		t.Fatalf("GetOrCreate after Save: %v", err)
	}
	if got != "session_restored" {
		t.Errorf("binding = %q, want %q", got, "session_restored")
	}

	if err := reg.Save(ctx, "/proj", ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Save with empty id: err = %v, want ErrValidation", err)
	}
}

func TestClearRemovesSessionAndPauseButKeepsSettings(t *testing.T) {
	reg := NewSessions(newMapStore(), nil)
	ctx := context.Background()

	if _, err := reg.GetOrCreate(ctx, "/proj"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := reg.SetPaused(ctx, "/proj", run.PauseInfo{RunID: "run-1", AgentName: "CODER", Tool: "shell"}); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}
	if err := reg.SaveSettings(ctx, "/proj", backend.LLMSettings{Provider: "openai", ModelID: "gpt-4o"}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	if err := reg.Clear(ctx, "/proj"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if _, ok, _ := reg.Lookup(ctx, "/proj"); ok {
		t.Error("session binding survived Clear")
	}
	if info, _ := reg.PausedFor(ctx, "/proj"); info != nil {
		t.Error("pause cache survived Clear")
	}
	ls, err := reg.Settings(ctx, "/proj")
	if err != nil || ls == nil {
		t.Fatalf("Settings after Clear = %v, %v; want preserved", ls, err)
	}
	if ls.ModelID != "gpt-4o" {
		t.Errorf("ModelID = %q, want %q", ls.ModelID, "gpt-4o")
	}
}

func TestPausedRoundTrip(t *testing.T) {
	reg := NewSessions(newMapStore(), nil)
	ctx := context.Background()

	if info, err := reg.PausedFor(ctx, "/proj"); err != nil || info != nil {
		t.Fatalf("Paused on empty registry = %v, %v; want nil, nil", info, err)
	}

	want := run.PauseInfo{RunID: "run-7", AgentName: "ARCHITECT", Tool: "write_file"}
	if err := reg.SetPaused(ctx, "/proj", want); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}
	got, err := reg.PausedFor(ctx, "/proj")
	if err != nil {
		t.Fatalf("Paused: %v", err)
	}
	if got == nil || *got != want {
		t.Errorf("Paused = %+v, want %+v", got, want)
	}

	if err := reg.ClearPaused(ctx, "/proj"); err != nil {
		t.Fatalf("ClearPaused: %v", err)
	}
	if info, _ := reg.PausedFor(ctx, "/proj"); info != nil {
		t.Errorf("Paused after clear = %+v, want nil", info)
	}
}

func TestSettingsSealedRoundTrip(t *testing.T) {
	store := newMapStore()
	sealer, err := secrets.NewSealer("registry-test-passphrase")
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	reg := NewSessions(store, sealer)
	ctx := context.Background()

	want := backend.LLMSettings{
		Provider:    "anthropic",
		ModelID:     "claude-sonnet-4-20250514",
		APIKey:      "sk-ant-secret-key",
		Temperature: 0.2,
	}
	if err := reg.SaveSettings(ctx, "/proj", want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	raw, ok := store.raw(settingsKeyPrefix + "/proj")
	if !ok {
		t.Fatal("settings not stored")
	}
	if bytes.Contains(raw, []byte(want.APIKey)) {
		t.Error("API key stored in plaintext")
	}
	if bytes.Contains(raw, []byte(want.ModelID)) {
		t.Error("settings stored unencrypted")
	}

	got, err := reg.Settings(ctx, "/proj")
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if got == nil || *got != want {
		t.Errorf("Settings = %+v, want %+v", got, want)
	}
}

func TestSettingsWithoutSealerDropsAPIKey(t *testing.T) {
	store := newMapStore()
	reg := NewSessions(store, nil)
	ctx := context.Background()

	in := backend.LLMSettings{Provider: "openai", ModelID: "gpt-4o", APIKey: "sk-plain"}
	if err := reg.SaveSettings(ctx, "/proj", in); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	raw, ok := store.raw(settingsKeyPrefix + "/proj")
	if !ok {
		t.Fatal("settings not stored")
	}
	if bytes.Contains(raw, []byte("sk-plain")) {
		t.Error("API key written despite missing sealer")
	}

	got, err := reg.Settings(ctx, "/proj")
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if got == nil {
		t.Fatal("Settings = nil, want stored record")
	}
	if got.APIKey != "" {
		t.Errorf("APIKey = %q, want empty", got.APIKey)
	}
	if got.ModelID != "gpt-4o" {
		t.Errorf("ModelID = %q, want %q", got.ModelID, "gpt-4o")
	}
}

func TestSettingsAbsent(t *testing.T) {
	reg := NewSessions(newMapStore(), nil)

	got, err := reg.Settings(context.Background(), "/proj")
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if got != nil {
		t.Errorf("Settings = %+v, want nil", got)
	}
}
