package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	assert.NoError(t, err)
	assert.Equal(t, DefaultPageLimit, cfg.Sync.PageLimit)
	assert.Equal(t, DefaultBackfillDays, cfg.Sync.BackfillDays)
	assert.False(t, cfg.Sync.IncludeInactive)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load("/does/not/exist.yaml")
	assert.NoError(t, err)
	assert.Equal(t, DefaultPageLimit, cfg.Sync.PageLimit)
}

func TestLoad_FileAndEnvLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("universe:\n  client_id: file-id\nsync:\n  page_limit: 25\n")
	assert.NoError(t, os.WriteFile(path, data, 0o600))

	t.Setenv("UNIVERSE_CLIENT_ID", "env-id")
	t.Setenv("WM_BACKFILL_DAYS", "14")

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "env-id", cfg.Universe.ClientID, "env wins over file")
	assert.Equal(t, 25, cfg.Sync.PageLimit, "file wins over default")
	assert.Equal(t, 14, cfg.Sync.BackfillDays)
}

func TestNormalize_ClampsPageLimit(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, 1},
		{-3, 1},
		{1, 1},
		{10, 10},
		{50, 50},
		{999, 50},
	}
	for _, tc := range cases {
		s := SyncConfig{PageLimit: tc.in}
		s.Normalize()
		assert.Equal(t, tc.want, s.PageLimit, "page limit %d", tc.in)
	}
}

func TestValidateCredentials(t *testing.T) {
	cfg := &Config{}
	err := cfg.ValidateCredentials()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "client-id")
	assert.Contains(t, err.Error(), "refresh-token")

	cfg.Universe = UniverseConfig{ClientID: "a", ClientSecret: "b", RefreshToken: "c"}
	assert.NoError(t, cfg.ValidateCredentials())
}
