// Package storage persists the node Config as one atomic record.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
)

var (
	// ErrNotFound is returned by Load when nothing was ever saved.
	ErrNotFound = errors.New("config not found")
	// ErrCorrupt is returned by Load when the stored record cannot be decoded.
	ErrCorrupt = errors.New("config record corrupt")
)

// ConfigStore is the load/save primitive the engine relies on. Save must
// either persist the whole struct or nothing.
type ConfigStore interface {
	Load() (entities.Config, error)
	Save(cfg entities.Config) error
	Close() error
}

// LoadOrInit loads the stored config. A missing, undecodable or unmarked
// record is replaced by the defaults, which are saved before returning.
// reset reports whether that happened.
func LoadOrInit(s ConfigStore) (cfg entities.Config, reset bool, err error) {
	cfg, err = s.Load()
	switch {
	case err == nil && cfg.Valid():
		return cfg, false, nil
	case err == nil, errors.Is(err, ErrNotFound), errors.Is(err, ErrCorrupt):
		cfg = entities.DefaultConfig()
		if err := s.Save(cfg); err != nil {
			return cfg, true, fmt.Errorf("save default config: %w", err)
		}
		return cfg, true, nil
	default:
		return entities.Config{}, false, fmt.Errorf("load config: %w", err)
	}
}

// MemoryStore keeps the config in memory. It counts saves so callers can
// assert on write amplification.
type MemoryStore struct {
	mu    sync.Mutex
	cfg   *entities.Config
	saves int
	err   error
}

// NewMemoryStore returns an empty store; a nil seed means nothing saved yet.
func NewMemoryStore(seed *entities.Config) *MemoryStore {
	m := &MemoryStore{}
	if seed != nil {
		c := *seed
		m.cfg = &c
	}
	return m
}

func (m *MemoryStore) Load() (entities.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return entities.Config{}, ErrNotFound
	}
	return *m.cfg, nil
}

func (m *MemoryStore) Save(cfg entities.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.cfg = &cfg
	m.saves++
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Saves returns how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailSaves makes every following Save return err (nil restores it).
func (m *MemoryStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
