// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/playrelay/playrelay/internal/auth"
	"github.com/playrelay/playrelay/internal/store"
)

// Registry owns all player sessions. Lookups resolve by session ID,
// username, or bound connection handle. Registration and removal are
// serialized under the registry lock so concurrent registrations for the
// same ID can never both succeed.
type Registry struct {
	mu     sync.RWMutex
	order  []*Player // insertion order, scanned for username lookups
	byID   map[ulid.ULID]*Player
	byConn map[ulid.ULID]*Player

	policy Policy
	hasher auth.PasswordHasher
	codec  *auth.TokenCodec
	logger *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger discards registry logs.
func NewRegistry(policy Policy, hasher auth.PasswordHasher, codec *auth.TokenCodec, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		byID:   make(map[ulid.ULID]*Player),
		byConn: make(map[ulid.ULID]*Player),
		policy: policy,
		hasher: hasher,
		codec:  codec,
		logger: logger,
	}
}

// Register adds a player to the registry. A duplicate session ID is always
// rejected and logged, never silently overwritten. Duplicate usernames are
// handled per the configured policy.
func (r *Registry) Register(p *Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(p)
}

func (r *Registry) registerLocked(p *Player) error {
	if _, exists := r.byID[p.ID()]; exists {
		r.logger.Error("rejected registration with duplicate session id",
			"session_id", p.ID().String(),
			"username", p.Username(),
		)
		return oops.Code("REGISTRY_DUPLICATE_ID").
			With("session_id", p.ID().String()).
			Errorf("session id already registered")
	}

	if existing := r.findByUsernameLocked(p.Username()); existing != nil {
		switch r.policy.Username {
		case DuplicateReject:
			return oops.Code("REGISTRY_DUPLICATE_USERNAME").
				With("username", p.Username()).
				Errorf("username already registered")
		case DuplicateWarn:
			r.logger.Warn("registering session with duplicate username",
				"username", p.Username(),
				"existing_session_id", existing.ID().String(),
				"new_session_id", p.ID().String(),
			)
		case DuplicateAllow:
		}
	}

	r.insertLocked(p)
	return nil
}

func (r *Registry) insertLocked(p *Player) {
	if p.IsModerator() {
		r.logger.Info("registered moderator", "username", p.Username())
	}
	r.byID[p.ID()] = p
	r.order = append(r.order, p)
}

// FindSession resolves a session by username or session ID. A non-zero ID
// is preferred when both are supplied. Returns nil when neither matches.
func (r *Registry) FindSession(username string, id ulid.ULID) *Player {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id.Compare(ulid.ULID{}) != 0 {
		if p, ok := r.byID[id]; ok {
			return p
		}
	}
	if username != "" {
		return r.findByUsernameLocked(username)
	}
	return nil
}

// findByUsernameLocked returns the first registered session with the given
// username, in registration order.
func (r *Registry) findByUsernameLocked(username string) *Player {
	for _, p := range r.order {
		if p.Username() == username {
			return p
		}
	}
	return nil
}

// FindByConnectionHandle resolves the session bound to a transport
// connection handle. This is the only trusted way to answer "who sent this
// message"; client-declared identity is never consulted.
func (r *Registry) FindByConnectionHandle(handle ulid.ULID) *Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[handle]
}

// LoginOrCreate authenticates a player by username, lazily creating and
// registering a new session when the username is unknown (first login is
// registration). On success the connection handle is bound to the session.
func (r *Registry) LoginOrCreate(username, password string, connHandle ulid.ULID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.findByUsernameLocked(username)
	if p == nil {
		np, err := NewPlayer(username, password, false, r.hasher, r.codec)
		if err != nil {
			return "", err
		}
		if err := r.registerLocked(np); err != nil {
			return "", err
		}
		p = np
	}

	token, err := p.Login(password, connHandle)
	if err != nil {
		return "", err
	}
	r.byConn[connHandle] = p
	return token, nil
}

// WebLogin authenticates without claiming the primary session slot: no
// online flip, no connection binding. Unknown usernames still run a
// password verification against a dummy hash so response timing does not
// reveal whether the account exists.
func (r *Registry) WebLogin(username, password string) (string, error) {
	r.mu.RLock()
	p := r.findByUsernameLocked(username)
	r.mu.RUnlock()

	if p == nil {
		_, _ = r.hasher.Verify(password, auth.DummyHash) //nolint:errcheck // timing equalization only
		return "", auth.ErrInvalidCredentials
	}
	return p.LoginWithoutPresence(password)
}

// Logout resolves a session by username and invalidates the given token.
// Returns false when no such session exists or the token is invalid.
func (r *Registry) Logout(username, token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.findByUsernameLocked(username)
	if p == nil {
		return false
	}
	handle := p.ConnHandle()
	if !p.Logout(token) {
		return false
	}
	delete(r.byConn, handle)
	return true
}

// LogoutHandle invalidates the given token on the session bound to the
// connection handle. This is the handle-resolved variant used by the
// dispatcher, which never trusts a client-declared username.
func (r *Registry) LogoutHandle(handle ulid.ULID, token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.byConn[handle]
	if p == nil {
		return false
	}
	if !p.Logout(token) {
		return false
	}
	delete(r.byConn, handle)
	return true
}

// DisconnectHandle force-logs-out whichever session is bound to the
// connection handle. Returns false if the handle is not bound.
func (r *Registry) DisconnectHandle(handle ulid.ULID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.byConn[handle]
	if p == nil {
		return false
	}
	p.ForceLogout()
	delete(r.byConn, handle)
	return true
}

// SnapshotAllObjects concatenates every online session's objects. Returns
// nil when the aggregate is empty, signalling "nothing to broadcast".
func (r *Registry) SnapshotAllObjects() []Object {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []Object
	for _, p := range r.order {
		objs, online := p.SnapshotObjects()
		if !online {
			continue
		}
		all = append(all, objs...)
	}
	return all
}

// ForceLogoutAll force-logs-out every session and clears all connection
// bindings. Part of the cooperative shutdown sequence.
func (r *Registry) ForceLogoutAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.order {
		p.ForceLogout()
	}
	r.byConn = make(map[ulid.ULID]*Player)
}

// OnlineCount returns the number of sessions currently online.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, p := range r.order {
		if p.IsOnline() {
			n++
		}
	}
	return n
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SeedUser registers a default account from configuration unless the
// username already exists (persisted state wins over config seeds).
func (r *Registry) SeedUser(username, password string, moderator bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findByUsernameLocked(username) != nil {
		return nil
	}
	p, err := NewPlayer(username, password, moderator, r.hasher, r.codec)
	if err != nil {
		return err
	}
	return r.registerLocked(p)
}

// Persist serializes the durable subset of every session to the snapshot
// file at path.
func (r *Registry) Persist(path string) error {
	r.mu.RLock()
	records := make([]store.Record, 0, len(r.order))
	for _, p := range r.order {
		records = append(records, p.Record())
	}
	r.mu.RUnlock()

	return store.NewFileStore(path).Save(records)
}

// Restore repopulates the registry from the snapshot file at path. An
// absent file means "start empty" and is not an error; malformed content
// propagates a STATE_CORRUPT error so the caller can decide whether to
// abort startup or continue with an empty registry.
func (r *Registry) Restore(path string) error {
	records, err := store.NewFileStore(path).Load()
	if err != nil {
		if errors.Is(err, store.ErrNotExist) {
			r.logger.Info("no persisted player data, starting empty", "path", path)
			return nil
		}
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, rec := range records {
		p, err := RestorePlayer(rec, r.hasher, r.codec)
		if err != nil {
			return err
		}
		if _, exists := r.byID[p.ID()]; exists {
			// Duplicate IDs inside one snapshot: keep the first record,
			// skip the rest.
			r.logger.Warn("skipping persisted session with duplicate id",
				"username", rec.Username,
				"session_id", rec.ID,
			)
			continue
		}
		if existing := r.findByUsernameLocked(p.Username()); existing != nil {
			// Persisted accounts predate the duplicate-username policy;
			// admit them regardless, but flag the collision.
			r.logger.Warn("restored session with duplicate username",
				"username", rec.Username,
				"existing_session_id", existing.ID().String(),
				"restored_session_id", rec.ID,
			)
		}
		r.insertLocked(p)
		restored++
	}
	r.logger.Info("restored player sessions", "count", restored, "path", path)
	return nil
}
