// Package credcache persists source control tokens per repository.
//
// The cache file is a JSON list of records, each holding one token and the
// repositories it was issued for. A repository belongs to at most one
// record; storing a token for it moves it out of any older record.
package credcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// File permissions for the cache.
const (
	fileMode = 0o600
	dirMode  = 0o700
)

// Errors.
var (
	ErrCorruptCache = errors.New("credential cache is not valid JSON")
	ErrEmptyToken   = errors.New("token must not be empty")
)

// Record is one cached token.
type Record struct {
	Value                 string   `json:"value"`
	Repos                 []string `json:"repos"`
	LastModifiedTimestamp string   `json:"last_modified_timestamp"`
}

// Store reads and writes the cache file. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	now    func() time.Time
	logger *zap.Logger
}

// New creates a store backed by path.
func New(path string, logger *zap.Logger) *Store {
	return &Store{path: path, now: time.Now, logger: logger}
}

// Get returns the token cached for repo.
func (s *Store) Get(repo string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return "", false, err
	}
	for _, r := range records {
		if containsRepo(r.Repos, repo) {
			return r.Value, true, nil
		}
	}
	return "", false, nil
}

// Put caches token for repos.
func (s *Store) Put(token string, repos ...string) error {
	if token == "" {
		return ErrEmptyToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	kept := records[:0]
	var target *Record
	for i := range records {
		r := records[i]
		if r.Value == token {
			target = &r
			continue
		}
		r.Repos = slices.DeleteFunc(r.Repos, func(existing string) bool {
			return containsRepo(repos, existing)
		})
		if len(r.Repos) > 0 {
			kept = append(kept, r)
		}
	}
	if target == nil {
		target = &Record{Value: token}
	}
	for _, repo := range repos {
		if !containsRepo(target.Repos, repo) {
			target.Repos = append(target.Repos, repo)
		}
	}
	target.LastModifiedTimestamp = s.now().UTC().Format(time.RFC3339)
	kept = append(kept, *target)

	if err := s.save(kept); err != nil {
		return err
	}
	s.logger.Debug("Cached source control token", zap.Strings("repos", repos))
	return nil
}

func (s *Store) load() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credential cache: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptCache, s.path, err)
	}
	return records, nil
}

// save writes through a temporary file so a crash never leaves a partial
// cache behind.
func (s *Store) save(records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		return fmt.Errorf("failed to create credential cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*.json")
	if err != nil {
		return fmt.Errorf("failed to write credential cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credential cache: %w", err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credential cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write credential cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to write credential cache: %w", err)
	}
	return nil
}

func containsRepo(repos []string, repo string) bool {
	return slices.ContainsFunc(repos, func(r string) bool {
		return strings.EqualFold(r, repo)
	})
}
