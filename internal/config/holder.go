package config

import "sync/atomic"

// Holder keeps the active Config and supports hot reload from the
// YAML path it was loaded from. Get is safe for concurrent use.
type Holder struct {
	path string
	cfg  atomic.Pointer[Config]
}

// NewHolder wraps an already-loaded config.
func NewHolder(cfg *Config, path string) *Holder {
	h := &Holder{path: path}
	h.cfg.Store(cfg)
	return h
}

// Get returns the active config.
func (h *Holder) Get() *Config {
	return h.cfg.Load()
}

// Reload re-runs the load hierarchy from the stored path. On failure
// the previous config stays active.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return err
	}
	h.cfg.Store(cfg)
	return nil
}
