// Package userstore keeps user records on disk, one TOML file per user,
// with an in-memory cache in front. Records are never physically deleted;
// deactivation flips is_active and keeps the file.
package userstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"

	"github.com/dsproxy/dsproxy/internal/apperr"
	"github.com/dsproxy/dsproxy/internal/timeutil"
)

// Bootstrap is a user imported from config when the directory is empty.
type Bootstrap struct {
	Username  string
	Password  string
	QuotaTier string
	IsActive  bool
}

// Store is safe for concurrent use. The lock only guards the map; all file
// I/O happens outside it.
type Store struct {
	dir string

	mu    sync.RWMutex
	users map[string]Record
}

// Open ensures dir exists, loads every *.toml record in it, and imports the
// bootstrap users if (and only if) the directory held none. Later config
// edits never touch an already-populated store.
func Open(dir string, bootstrap []Bootstrap) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create users dir: %w", err)
	}

	s := &Store{dir: dir, users: make(map[string]Record)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read users dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read user file %s: %w", entry.Name(), err)
		}
		var rec Record
		if err := toml.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("parse user file %s: %w", entry.Name(), err)
		}
		if rec.Username == "" {
			log.Warn().Str("file", entry.Name()).Msg("skipping user file without username")
			continue
		}
		s.users[rec.Username] = rec
	}

	if len(s.users) == 0 && len(bootstrap) > 0 {
		log.Info().Int("count", len(bootstrap)).Msg("users dir empty, importing bootstrap users from config")
		for _, b := range bootstrap {
			tier := b.QuotaTier
			if tier == "" {
				tier = "basic"
			}
			if _, err := s.Create(b.Username, b.Password, tier); err != nil {
				return nil, fmt.Errorf("import bootstrap user %s: %w", b.Username, err)
			}
			if !b.IsActive {
				if err := s.SetActive(b.Username, false); err != nil {
					return nil, fmt.Errorf("deactivate bootstrap user %s: %w", b.Username, err)
				}
			}
		}
	}

	log.Info().Int("users", len(s.users)).Str("dir", dir).Msg("user store ready")
	return s, nil
}

// Find returns the record matching both username and password.
func (s *Store) Find(username, password string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[username]
	if !ok || rec.Password != password {
		return Record{}, false
	}
	return rec, true
}

// Get returns the record for username.
func (s *Store) Get(username string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[username]
	return rec, ok
}

// IsActive reports the active flag for username and whether it exists.
func (s *Store) IsActive(username string) (active, exists bool) {
	rec, ok := s.Get(username)
	return rec.IsActive, ok
}

// QuotaTier returns the tier for username and whether it exists.
func (s *Store) QuotaTier(username string) (string, bool) {
	rec, ok := s.Get(username)
	return rec.QuotaTier, ok
}

// List returns all records without passwords.
func (s *Store) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Info, 0, len(s.users))
	for _, rec := range s.users {
		out = append(out, rec.info())
	}
	return out
}

// Create validates the username and tier, persists the record, then caches
// it. Usernames are unique; a second create fails.
func (s *Store) Create(username, password, tier string) (Record, error) {
	if err := ValidateUsername(username); err != nil {
		return Record{}, err
	}
	if password == "" {
		return Record{}, apperr.New(apperr.BadRequest, "password must not be empty")
	}
	if !ValidTier(tier) {
		return Record{}, apperr.Newf(apperr.BadRequest, "unknown quota tier %q", tier)
	}

	s.mu.Lock()
	if _, exists := s.users[username]; exists {
		s.mu.Unlock()
		return Record{}, apperr.Newf(apperr.BadRequest, "user %s already exists", username)
	}
	// Reserve the name while the file is written outside the lock.
	now := timeutil.NowRFC3339()
	rec := Record{
		Username:  username,
		Password:  password,
		QuotaTier: tier,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[username] = rec
	s.mu.Unlock()

	if err := s.writeRecord(rec); err != nil {
		s.mu.Lock()
		delete(s.users, username)
		s.mu.Unlock()
		return Record{}, err
	}

	log.Info().Str("username", username).Str("tier", tier).Msg("user created")
	return rec, nil
}

// SetActive flips the soft-delete flag and bumps updated_at. Setting the
// flag to its current value still rewrites the file (updated_at advances).
func (s *Store) SetActive(username string, active bool) error {
	s.mu.Lock()
	rec, ok := s.users[username]
	if !ok {
		s.mu.Unlock()
		return apperr.Newf(apperr.NotFound, "user %s does not exist", username)
	}
	rec.IsActive = active
	rec.UpdatedAt = timeutil.NowRFC3339()
	s.users[username] = rec
	s.mu.Unlock()

	if err := s.writeRecord(rec); err != nil {
		return err
	}

	log.Info().Str("username", username).Bool("isActive", active).Msg("user active flag updated")
	return nil
}

// writeRecord persists one record with the atomic-rename discipline:
// write <user>.toml.tmp, then rename over <user>.toml.
func (s *Store) writeRecord(rec Record) error {
	data, err := toml.Marshal(rec)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "serialize user record", err)
	}

	path := filepath.Join(s.dir, rec.Username+".toml")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Str("username", rec.Username).Str("subkind", "user_file_write_error").Msg("write user file failed")
		return apperr.Wrap(apperr.Internal, "write user file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Error().Err(err).Str("username", rec.Username).Str("subkind", "user_file_write_error").Msg("rename user file failed")
		return apperr.Wrap(apperr.Internal, "rename user file", err)
	}
	return nil
}
