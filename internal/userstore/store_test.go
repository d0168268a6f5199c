package userstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsproxy/dsproxy/internal/apperr"
)

func openEmpty(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	return s, dir
}

func TestCreateAndFind(t *testing.T) {
	s, dir := openEmpty(t)

	rec, err := s.Create("alice", "secret", "pro")
	require.NoError(t, err)
	assert.True(t, rec.IsActive)
	assert.NotEmpty(t, rec.CreatedAt)

	_, ok := s.Find("alice", "secret")
	assert.True(t, ok)
	_, ok = s.Find("alice", "wrong")
	assert.False(t, ok)
	_, ok = s.Find("bob", "secret")
	assert.False(t, ok)

	// File exists and round-trips.
	data, err := os.ReadFile(filepath.Join(dir, "alice.toml"))
	require.NoError(t, err)
	var onDisk Record
	require.NoError(t, toml.Unmarshal(data, &onDisk))
	assert.Equal(t, rec, onDisk)
}

func TestCreateDuplicate(t *testing.T) {
	s, _ := openEmpty(t)
	_, err := s.Create("alice", "a", "basic")
	require.NoError(t, err)

	_, err = s.Create("alice", "b", "basic")
	require.Error(t, err)
	assert.Equal(t, apperr.BadRequest, apperr.KindOf(err))
}

func TestUsernameValidation(t *testing.T) {
	s, _ := openEmpty(t)

	bad := []string{"ab", "", "a b", "../etc", "a/b", `a\b`, "user.name", "-lead", "_lead",
		"averyveryveryverylongusername1234567890"}
	for _, name := range bad {
		_, err := s.Create(name, "pw", "basic")
		assert.Error(t, err, "username %q should be rejected", name)
	}

	good := []string{"abc", "Alice_01", "a-b-c", "0start"}
	for _, name := range good {
		_, err := s.Create(name, "pw", "basic")
		assert.NoError(t, err, "username %q should be accepted", name)
	}
}

func TestCreateRejectsUnknownTier(t *testing.T) {
	s, _ := openEmpty(t)
	_, err := s.Create("alice", "pw", "enterprise")
	require.Error(t, err)
	assert.Equal(t, apperr.BadRequest, apperr.KindOf(err))
}

func TestSetActive(t *testing.T) {
	s, dir := openEmpty(t)
	_, err := s.Create("alice", "pw", "basic")
	require.NoError(t, err)

	require.NoError(t, s.SetActive("alice", false))
	rec, ok := s.Get("alice")
	require.True(t, ok)
	assert.False(t, rec.IsActive)
	first := rec.UpdatedAt

	// Idempotent in effect; only updated_at may advance.
	require.NoError(t, s.SetActive("alice", false))
	rec, _ = s.Get("alice")
	assert.False(t, rec.IsActive)
	assert.GreaterOrEqual(t, rec.UpdatedAt, first)

	// No physical delete: the file is still there.
	_, err = os.Stat(filepath.Join(dir, "alice.toml"))
	assert.NoError(t, err)

	assert.Equal(t, apperr.NotFound, apperr.KindOf(s.SetActive("ghost", true)))
}

func TestReloadFromDisk(t *testing.T) {
	s, dir := openEmpty(t)
	_, err := s.Create("alice", "pw", "premium")
	require.NoError(t, err)
	require.NoError(t, s.SetActive("alice", false))

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	rec, ok := reopened.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "premium", rec.QuotaTier)
	assert.False(t, rec.IsActive)
}

func TestBootstrapOnlyWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	boot := []Bootstrap{
		{Username: "seed", Password: "pw", QuotaTier: "basic", IsActive: true},
		{Username: "frozen", Password: "pw", QuotaTier: "pro", IsActive: false},
	}

	s, err := Open(dir, boot)
	require.NoError(t, err)
	assert.Len(t, s.List(), 2)
	rec, _ := s.Get("frozen")
	assert.False(t, rec.IsActive)

	// Second start with different bootstrap: ignored, the store wins.
	s2, err := Open(dir, []Bootstrap{{Username: "other", Password: "x", QuotaTier: "basic", IsActive: true}})
	require.NoError(t, err)
	_, ok := s2.Get("other")
	assert.False(t, ok)
	assert.Len(t, s2.List(), 2)
}

func TestListOmitsPassword(t *testing.T) {
	s, _ := openEmpty(t)
	_, err := s.Create("alice", "topsecret", "basic")
	require.NoError(t, err)

	infos := s.List()
	require.Len(t, infos, 1)
	assert.Equal(t, "alice", infos[0].Username)
	assert.Equal(t, "basic", infos[0].QuotaTier)
}
