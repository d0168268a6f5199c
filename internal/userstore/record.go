package userstore

import (
	"regexp"
	"strings"

	"github.com/dsproxy/dsproxy/internal/apperr"
)

// Record is one durable user, stored as <users_dir>/<username>.toml.
// Passwords are opaque here; only Find compares them.
type Record struct {
	Username  string `toml:"username" json:"username"`
	Password  string `toml:"password" json:"-"`
	QuotaTier string `toml:"quota_tier" json:"quota_tier"`
	IsActive  bool   `toml:"is_active" json:"is_active"`
	CreatedAt string `toml:"created_at" json:"created_at"`
	UpdatedAt string `toml:"updated_at" json:"updated_at"`
}

// Info is a record with the password stripped, for listing surfaces.
type Info struct {
	Username  string `json:"username"`
	QuotaTier string `json:"quota_tier"`
	IsActive  bool   `json:"is_active"`
}

func (r Record) info() Info {
	return Info{Username: r.Username, QuotaTier: r.QuotaTier, IsActive: r.IsActive}
}

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{2,31}$`)

// ValidateUsername enforces the naming rules. The file name is derived
// directly from the username, so anything that could traverse paths is
// rejected even though the pattern already excludes it.
func ValidateUsername(name string) error {
	if !usernameRe.MatchString(name) {
		return apperr.New(apperr.BadRequest,
			"username must be 3-32 chars of letters, digits, '_' or '-', starting with a letter or digit")
	}
	if strings.ContainsAny(name, "./\\\x00") || strings.Contains(name, "..") {
		return apperr.New(apperr.BadRequest, "username contains forbidden characters")
	}
	return nil
}

// ValidTier reports whether the tier name is one of the known tiers.
func ValidTier(tier string) bool {
	switch tier {
	case "basic", "pro", "premium":
		return true
	}
	return false
}
