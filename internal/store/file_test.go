// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

package store_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playrelay/playrelay/internal/store"
	"github.com/playrelay/playrelay/pkg/errutil"
)

func TestFileStore_SaveLoad(t *testing.T) {
	records := []store.Record{
		{Username: "alice", ID: "01HK153X0006AFVGQT5ZYC0GEK", PasswordHash: "$argon2id$a", Moderator: true},
		{Username: "bob", ID: "01HK153X0006AFVGQT61FPQX3S", PasswordHash: "$argon2id$b", Moderator: false},
	}

	t.Run("round-trips records", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "userdata.json")
		st := store.NewFileStore(path)

		require.NoError(t, st.Save(records))

		loaded, err := st.Load()
		require.NoError(t, err)
		assert.Equal(t, records, loaded)
	})

	t.Run("creates parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "deeper", "userdata.json")
		st := store.NewFileStore(path)

		require.NoError(t, st.Save(records))

		_, err := os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("save overwrites previous snapshot", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "userdata.json")
		st := store.NewFileStore(path)

		require.NoError(t, st.Save(records))
		require.NoError(t, st.Save(records[:1]))

		loaded, err := st.Load()
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
	})

	t.Run("save leaves no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		st := store.NewFileStore(filepath.Join(dir, "userdata.json"))

		require.NoError(t, st.Save(records))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("empty record set round-trips", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "userdata.json")
		st := store.NewFileStore(path)

		require.NoError(t, st.Save(nil))

		loaded, err := st.Load()
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})
}

func TestFileStore_Load(t *testing.T) {
	t.Run("missing file returns ErrNotExist", func(t *testing.T) {
		st := store.NewFileStore(filepath.Join(t.TempDir(), "nope.json"))

		_, err := st.Load()
		assert.True(t, errors.Is(err, store.ErrNotExist))
	})

	t.Run("malformed content returns STATE_CORRUPT", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "userdata.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

		st := store.NewFileStore(path)
		_, err := st.Load()
		require.Error(t, err)
		assert.False(t, errors.Is(err, store.ErrNotExist))
		errutil.AssertErrorCode(t, err, "STATE_CORRUPT")
	})

	t.Run("corruption is distinguishable from absence", func(t *testing.T) {
		dir := t.TempDir()

		missing := store.NewFileStore(filepath.Join(dir, "missing.json"))
		_, missErr := missing.Load()

		corruptPath := filepath.Join(dir, "corrupt.json")
		require.NoError(t, os.WriteFile(corruptPath, []byte("[{]"), 0o600))
		corrupt := store.NewFileStore(corruptPath)
		_, corruptErr := corrupt.Load()

		assert.True(t, errors.Is(missErr, store.ErrNotExist))
		assert.False(t, errors.Is(corruptErr, store.ErrNotExist))
	})
}
