// Package quota enforces per-user monthly request quotas. State is cached
// in memory with atomic counters, lazily loaded from one JSON file per user,
// and persisted with write coalescing: every save_interval increments, on
// month reset, and on shutdown. Files are replaced atomically via a sibling
// temp file and rename.
package quota

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dsproxy/dsproxy/internal/apperr"
	"github.com/dsproxy/dsproxy/internal/config"
	"github.com/dsproxy/dsproxy/internal/timeutil"
)

// TierSource resolves a username to its quota tier. Satisfied by the user
// store.
type TierSource interface {
	QuotaTier(username string) (string, bool)
}

// Status is the result of a quota check.
type Status struct {
	Exceeded  bool
	Used      uint32
	Limit     uint32
	Remaining uint32
	ResetAt   time.Time
}

// Engine is safe for concurrent use. Different users never contend; a
// single user's increments serialize on one atomic counter.
type Engine struct {
	dir          string
	saveInterval uint32
	tiers        config.QuotaTiersConfig
	users        TierSource

	cache sync.Map // username -> *state

	// saveMu serializes writes of one user's file so an interval flush and
	// a shutdown flush cannot interleave their rename steps.
	saveMu sync.Mutex

	now func() time.Time // test hook
}

func NewEngine(dir string, cfg config.QuotaConfig, users TierSource) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create quota dir: %w", err)
	}
	interval := cfg.SaveInterval
	if interval == 0 {
		interval = 100
	}
	return &Engine{
		dir:          dir,
		saveInterval: interval,
		tiers:        cfg.Tiers,
		users:        users,
		now:          timeutil.Now,
	}, nil
}

// Check reads the user's quota without charging it. The admission pipeline
// calls this before the upstream request so exhausted users are declined
// cheaply.
func (e *Engine) Check(username string) (Status, error) {
	st, err := e.loadOrInit(username)
	if err != nil {
		return Status{}, err
	}

	used := st.used.Load()
	limit := st.monthlyLimit
	resetAt := st.readResetAt()

	if used >= limit {
		return Status{Exceeded: true, Used: used, Limit: limit, ResetAt: resetAt}, nil
	}
	return Status{Used: used, Limit: limit, Remaining: limit - used, ResetAt: resetAt}, nil
}

// Increment charges one request. Called only after the upstream accepted
// the call, so clients are never billed for failures they did not cause.
func (e *Engine) Increment(username string) error {
	st, err := e.loadOrInit(username)
	if err != nil {
		return err
	}

	now := e.now()
	if st.resetIfDue(now, timeutil.NextMonthReset(now)) {
		log.Info().Str("username", username).Msg("monthly quota reset")
		if err := e.saveOne(st); err != nil {
			return err
		}
	}

	newUsed := st.used.Add(1)
	if newUsed-st.lastSaved.Load() >= e.saveInterval {
		log.Debug().
			Str("username", username).
			Uint32("used", newUsed).
			Uint32("saveInterval", e.saveInterval).
			Msg("quota save interval reached, flushing")
		return e.saveOne(st)
	}
	return nil
}

// Get returns a serializable snapshot without charging.
func (e *Engine) Get(username string) (Snapshot, error) {
	st, err := e.loadOrInit(username)
	if err != nil {
		return Snapshot{}, err
	}
	return st.snapshot(), nil
}

// SaveAll flushes every cached entry. Called on graceful shutdown so
// coalesced increments below the save interval still reach disk.
func (e *Engine) SaveAll() error {
	var errs []error
	e.cache.Range(func(key, value any) bool {
		st := value.(*state)
		log.Info().Str("username", st.username).Uint32("used", st.used.Load()).Msg("flushing quota state")
		if err := e.saveOne(st); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

// loadOrInit implements the lazy load: memory, then disk, then a fresh
// state for a user known to the store. Concurrent loaders race benignly;
// LoadOrStore keeps the winner.
func (e *Engine) loadOrInit(username string) (*state, error) {
	if v, ok := e.cache.Load(username); ok {
		return v.(*state), nil
	}

	st, err := e.readFile(username)
	if err != nil {
		return nil, err
	}
	if st == nil {
		tier, ok := e.users.QuotaTier(username)
		if !ok {
			return nil, apperr.Newf(apperr.Unauthorized, "user %s does not exist", username)
		}
		limit, ok := e.tiers.Limit(tier)
		if !ok {
			return nil, apperr.Newf(apperr.Internal, "user %s has invalid quota tier %q", username, tier)
		}

		now := e.now()
		st = newState(Snapshot{
			Username:     username,
			Tier:         tier,
			MonthlyLimit: limit,
		}, timeutil.NextMonthReset(now), time.Time{})

		log.Info().
			Str("username", username).
			Str("tier", tier).
			Uint32("limit", limit).
			Msg("initialized quota state")
	}

	actual, _ := e.cache.LoadOrStore(username, st)
	return actual.(*state), nil
}

// readFile loads <dir>/<username>.json, returning (nil, nil) when absent.
func (e *Engine) readFile(username string) (*state, error) {
	path := filepath.Join(e.dir, username+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		log.Error().Err(err).Str("username", username).Str("subkind", "quota_file_read_error").Msg("read quota file failed")
		return nil, apperr.Wrap(apperr.Internal, "read quota file", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("username", username).Str("subkind", "quota_file_read_error").Msg("parse quota file failed")
		return nil, apperr.Wrap(apperr.Internal, "parse quota file", err)
	}

	resetAt, err := time.Parse(time.RFC3339, snap.ResetAt)
	if err != nil {
		log.Error().Err(err).Str("username", username).Str("subkind", "quota_file_read_error").Msg("parse quota reset_at failed")
		return nil, apperr.Wrap(apperr.Internal, "parse quota reset time", err)
	}
	var lastSavedAt time.Time
	if snap.LastSavedAt != "" {
		// Tolerate a malformed last_saved_at; it is informational only.
		lastSavedAt, _ = time.Parse(time.RFC3339, snap.LastSavedAt)
	}

	return newState(snap, resetAt, lastSavedAt), nil
}

// saveOne persists one user's state. The on-disk used_count always equals
// the in-memory value at write time, so last_saved is brought up to date
// first. All I/O happens outside the state's locks.
func (e *Engine) saveOne(st *state) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	st.markSaved(st.used.Load(), e.now())
	snap := st.snapshot()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.Internal, "serialize quota state", err)
	}

	path := filepath.Join(e.dir, st.username+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Str("username", st.username).Str("subkind", "quota_file_write_error").Msg("write quota file failed")
		return apperr.Wrap(apperr.Internal, "write quota file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Error().Err(err).Str("username", st.username).Str("subkind", "quota_file_write_error").Msg("rename quota file failed")
		return apperr.Wrap(apperr.Internal, "rename quota file", err)
	}
	return nil
}
