// Package store persists the previous-day balance, the only engine value
// that outlives a restart.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// BalanceStore loads and saves the previous-day balance
type BalanceStore interface {
	LoadBalance(ctx context.Context) (float64, error)
	SaveBalance(ctx context.Context, balance float64) error
}

// FileStore keeps the balance as a single number in a text file
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store at path. The file is created with 0 on first load.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// LoadBalance reads the stored balance, creating the file if missing
func (s *FileStore) LoadBalance(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, s.writeLocked(0)
	}
	if err != nil {
		return 0, fmt.Errorf("read balance file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance file %s: %w", s.path, err)
	}
	return v, nil
}

// SaveBalance overwrites the stored balance atomically
func (s *FileStore) SaveBalance(ctx context.Context, balance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(balance)
}

func (s *FileStore) writeLocked(balance float64) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create balance dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatFloat(balance, 'f', -1, 64)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write balance file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// MemoryStore is a BalanceStore for tests and dry runs
type MemoryStore struct {
	mu      sync.Mutex
	balance float64
	saves   int
}

// NewMemoryStore creates a store holding balance
func NewMemoryStore(balance float64) *MemoryStore {
	return &MemoryStore{balance: balance}
}

func (m *MemoryStore) LoadBalance(context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

func (m *MemoryStore) SaveBalance(_ context.Context, balance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = balance
	m.saves++
	return nil
}

// Saves returns how many times SaveBalance was called
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
