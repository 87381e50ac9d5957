// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

// Package store persists the durable subset of registered player sessions
// to a local JSON snapshot file. Object collections and active tokens are
// deliberately not persisted; restored sessions always start offline.
package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// ErrNotExist is returned by Load when no snapshot file exists. Callers
// treat it as "start empty"; it is distinguishable from malformed content.
var ErrNotExist = errors.New("snapshot does not exist")

// Record is the durable subset of one player session.
type Record struct {
	Username     string `json:"username"`
	ID           string `json:"id"`
	PasswordHash string `json:"password_hash"`
	Moderator    bool   `json:"moderator"`
}

// FileStore reads and writes player snapshot files.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore for the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string {
	return s.path
}

// Save writes all records atomically: the snapshot is written to a temp
// file in the same directory and renamed over the target, so a crash
// mid-write never leaves a truncated snapshot behind.
func (s *FileStore) Save(records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return oops.Code("STATE_ENCODE_FAILED").
			With("path", s.path).
			Wrap(err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return oops.Code("STATE_WRITE_FAILED").
			With("operation", "create snapshot directory").
			With("dir", dir).
			Wrap(err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return oops.Code("STATE_WRITE_FAILED").
			With("operation", "create temp file").
			Wrap(err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()      //nolint:errcheck // cleanup path
		_ = os.Remove(tmpName) //nolint:errcheck // cleanup path
		return oops.Code("STATE_WRITE_FAILED").
			With("operation", "write temp file").
			Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName) //nolint:errcheck // cleanup path
		return oops.Code("STATE_WRITE_FAILED").
			With("operation", "close temp file").
			Wrap(err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName) //nolint:errcheck // cleanup path
		return oops.Code("STATE_WRITE_FAILED").
			With("operation", "rename temp file").
			With("path", s.path).
			Wrap(err)
	}
	return nil
}

// Load reads all records from the snapshot file.
// Returns ErrNotExist when the file is absent. Malformed content yields a
// STATE_CORRUPT error; the caller decides whether that is fatal.
func (s *FileStore) Load() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, oops.Code("STATE_READ_FAILED").
			With("path", s.path).
			Wrap(err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, oops.Code("STATE_CORRUPT").
			With("path", s.path).
			Wrap(err)
	}
	return records, nil
}
