// Package activity appends per-user audit lines as JSONL. Activity files
// are a convenience for operators and must never fail a request, so every
// write error is logged and swallowed.
package activity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dsproxy/dsproxy/internal/timeutil"
)

// Actions recorded in the per-user log.
const (
	ActionLogin           = "login"
	ActionChatRequest     = "chat_request"
	ActionQuotaExceeded   = "quota_exceeded"
	ActionRateLimited     = "rate_limited"
	ActionAccountDisabled = "account_disabled"
	ActionError           = "error"
)

// maxFileSize is the rollover threshold for one day's file. The previous
// generation is kept under a .1 suffix.
const maxFileSize = 5 * 1024 * 1024

type record struct {
	Timestamp string         `json:"ts"`
	Username  string         `json:"username"`
	Action    string         `json:"action"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Logger writes one JSONL file per user per local day under
// dir/users/<user>/<user>.<YYYY-MM-DD>.log.
type Logger struct {
	dir string

	mu  sync.Mutex
	now func() time.Time // test hook
}

// New returns a logger rooted at dir. An empty dir disables logging.
func New(dir string) *Logger {
	return &Logger{dir: dir, now: time.Now}
}

// Record appends one entry for username. Best-effort.
func (l *Logger) Record(username, action string, detail map[string]any) {
	if l == nil || l.dir == "" {
		return
	}

	now := l.now().In(timeutil.Beijing)
	line, err := json.Marshal(record{
		Timestamp: now.Format(time.RFC3339),
		Username:  username,
		Action:    action,
		Detail:    detail,
	})
	if err != nil {
		log.Warn().Err(err).Str("username", username).Msg("encode activity record")
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.path(username, timeutil.Day(now))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn().Err(err).Str("username", username).Msg("create activity dir")
		return
	}
	l.rolloverIfNeeded(path, len(line))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn().Err(err).Str("username", username).Msg("open activity file")
		return
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		log.Warn().Err(err).Str("username", username).Msg("write activity record")
	}
}

func (l *Logger) path(username, day string) string {
	return filepath.Join(l.dir, "users", username, username+"."+day+".log")
}

// rolloverIfNeeded renames the current file to .1 when appending would push
// it past the size cap. Only one previous generation is kept.
func (l *Logger) rolloverIfNeeded(path string, pending int) {
	info, err := os.Stat(path)
	if err != nil || info.Size()+int64(pending) <= maxFileSize {
		return
	}
	if err := os.Rename(path, path+".1"); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("rotate activity file")
	}
}
