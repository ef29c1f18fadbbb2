// Package store provides the durable backends for the ticket table: a
// crash-safe JSON file (default), Postgres, and Redis.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/rimuz-hub/Tether-Middleman/internal/ticket"
)

// FileStore keeps the whole ticket table in a single JSON document. Every
// Put/Remove rewrites the file through a temp-file-then-rename, so a crash
// mid-write can never be read back as valid state.
type FileStore struct {
	path  string
	mu    sync.Mutex
	table map[string]ticket.Ticket
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, table: map[string]ticket.Ticket{}}
}

// Load reads the table from disk. A missing or corrupt file yields an empty
// table: corruption is logged and the broken file moved aside, never
// surfaced as a fatal error.
func (s *FileStore) Load(ctx context.Context) (map[string]ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.table = map[string]ticket.Ticket{}
		return map[string]ticket.Ticket{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var table map[string]ticket.Ticket
	if err := json.Unmarshal(raw, &table); err != nil {
		log.Printf("store: state file %s is corrupt, starting empty: %v", s.path, err)
		if renameErr := os.Rename(s.path, s.path+".corrupt"); renameErr != nil {
			log.Printf("store: could not set corrupt state file aside: %v", renameErr)
		}
		s.table = map[string]ticket.Ticket{}
		return map[string]ticket.Ticket{}, nil
	}
	if table == nil {
		table = map[string]ticket.Ticket{}
	}

	s.table = table
	out := make(map[string]ticket.Ticket, len(table))
	for id, t := range table {
		out[id] = t.Clone()
	}
	return out, nil
}

func (s *FileStore) Put(ctx context.Context, t ticket.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.table[t.ID] = t.Clone()
	return s.flushLocked()
}

func (s *FileStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.table, id)
	return s.flushLocked()
}

func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(filepath.Dir(s.path))
	return err
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) flushLocked() error {
	payload, err := json.MarshalIndent(s.table, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ticket table: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tickets-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(payload, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
