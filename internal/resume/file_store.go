// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resume

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// FileStore keeps every position in one YAML document. Each Put rewrites the
// file atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
	data map[string]Position
}

// NewFileStore loads path if it exists.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("resume: file store needs a path")
	}
	s := &FileStore{path: filepath.Clean(path), data: make(map[string]Position)}

	// #nosec G304 -- path comes from operator configuration
	raw, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read resume file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse resume file %s: %w", s.path, err)
	}
	if s.data == nil {
		s.data = make(map[string]Position)
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, input string) (*Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data[input]
	if !ok {
		return nil, nil
	}
	p.Input = input
	return &p, nil
}

func (s *FileStore) Put(_ context.Context, p *Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[p.Input] = *p
	return s.writeLocked()
}

func (s *FileStore) Delete(_ context.Context, input string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[input]; !ok {
		return nil
	}
	delete(s.data, input)
	return s.writeLocked()
}

// All returns every stored position ordered by input.
func (s *FileStore) All() []Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Position, 0, len(s.data))
	for input, p := range s.data {
		p.Input = input
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Position) int { return strings.Compare(a.Input, b.Input) })
	return out
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) writeLocked() error {
	out, err := yaml.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("encode resume file: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create resume dir: %w", err)
		}
	}
	// renameio handles temp file creation, fsync and the atomic rename
	if err := renameio.WriteFile(s.path, out, 0o600); err != nil {
		return fmt.Errorf("atomically replace resume file: %w", err)
	}
	return nil
}
