// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resume remembers playback positions per input so a later session
// can continue where the previous one stopped.
package resume

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// MinResume is the shortest position worth resuming from.
	MinResume = 5 * time.Second
	// EndGuard treats positions this close to the end as finished.
	EndGuard = 10 * time.Second
)

// Position is the stored playback state of one input.
type Position struct {
	Input     string        `yaml:"-"`
	Position  time.Duration `yaml:"position"`
	Duration  time.Duration `yaml:"duration,omitempty"`
	Finished  bool          `yaml:"finished,omitempty"`
	UpdatedAt time.Time     `yaml:"updated_at"`
}

// StartPosition returns where playback of p should begin; zero when p is nil,
// finished or too close to either end.
func StartPosition(p *Position) time.Duration {
	if p == nil || p.Finished || p.Position < MinResume {
		return 0
	}
	if p.Duration > 0 && p.Position > p.Duration-EndGuard {
		return 0
	}
	return p.Position
}

// Store persists positions keyed by input URI. Get returns (nil, nil) for an
// unknown input.
type Store interface {
	Get(ctx context.Context, input string) (*Position, error)
	Put(ctx context.Context, p *Position) error
	Delete(ctx context.Context, input string) error
	Close() error
}

// NewStore creates a store for the backend: "yaml" (default), "sqlite" or
// "memory".
func NewStore(backend, path string) (Store, error) {
	switch backend {
	case "", "yaml":
		return NewFileStore(path)
	case "sqlite":
		return NewSqliteStore(path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown resume store backend: %s (supported: yaml, sqlite, memory)", backend)
	}
}

// MemoryStore implements Store using a map (thread-safe).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Position
}

// NewMemoryStore creates an in-memory resume store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Position)}
}

func (s *MemoryStore) Get(_ context.Context, input string) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.data[input]; ok {
		return &p, nil
	}
	return nil, nil
}

func (s *MemoryStore) Put(_ context.Context, p *Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[p.Input] = *p
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, input string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, input)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
