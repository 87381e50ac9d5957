// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

package session

import (
	"regexp"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/playrelay/playrelay/internal/auth"
	"github.com/playrelay/playrelay/internal/store"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// ValidateUsername validates a username against rules.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// activeToken pairs an issued token with its token ID. The ID is re-checked
// against the token's decoded claims at verification time, so a token that
// was removed from this set can never be replayed.
type activeToken struct {
	token string
	id    ulid.ULID
}

// Player is one registered player identity: credentials, live presence
// state, and the collection of world objects it owns while online.
//
// The zero value is not usable; construct with NewPlayer or RestorePlayer.
// All exported methods are safe for concurrent use.
type Player struct {
	mu sync.Mutex

	id           ulid.ULID
	username     string
	passwordHash string
	moderator    bool

	online     bool
	connHandle ulid.ULID
	tokens     []activeToken
	objects    []Object

	hasher auth.PasswordHasher
	codec  *auth.TokenCodec
}

// NewPlayer creates a player with a freshly generated session ID and the
// given plaintext password hashed at rest.
func NewPlayer(username, password string, moderator bool, hasher auth.PasswordHasher, codec *auth.TokenCodec) (*Player, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	return &Player{
		id:           NewULID(),
		username:     username,
		passwordHash: hash,
		moderator:    moderator,
		hasher:       hasher,
		codec:        codec,
	}, nil
}

// RestorePlayer reconstructs a player from its persisted durable record.
// Restored players start offline with no objects and no active tokens.
func RestorePlayer(rec store.Record, hasher auth.PasswordHasher, codec *auth.TokenCodec) (*Player, error) {
	id, err := ParseULID(rec.ID)
	if err != nil {
		return nil, oops.Code("STATE_CORRUPT").
			With("username", rec.Username).
			Wrap(err)
	}
	if rec.Username == "" || rec.PasswordHash == "" {
		return nil, oops.Code("STATE_CORRUPT").
			With("id", rec.ID).
			Errorf("record is missing username or password hash")
	}
	return &Player{
		id:           id,
		username:     rec.Username,
		passwordHash: rec.PasswordHash,
		moderator:    rec.Moderator,
		hasher:       hasher,
		codec:        codec,
	}, nil
}

// ID returns the process-unique session identifier.
func (p *Player) ID() ulid.ULID {
	return p.id
}

// Username returns the player's username.
func (p *Player) Username() string {
	return p.username
}

// IsOnline reports whether the player currently holds the primary session slot.
func (p *Player) IsOnline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// IsModerator reports whether the player has administrative capability.
func (p *Player) IsModerator() bool {
	return p.moderator
}

// ConnHandle returns the transport connection handle bound to this session,
// or the zero ULID when offline.
func (p *Player) ConnHandle() ulid.ULID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connHandle
}

// BoundTo reports whether the given connection handle owns this session.
// This is the non-spoofable identity check: a handle is assigned by the
// transport, never declared by the client.
func (p *Player) BoundTo(handle ulid.ULID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online && p.connHandle == handle
}

// Login verifies the password and, on success, issues a fresh token, marks
// the player online, and binds the connection handle. Multiple concurrent
// tokens are permitted (multi-device).
func (p *Player) Login(password string, connHandle ulid.ULID) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.authenticateLocked(password); err != nil {
		return "", err
	}
	token, err := p.issueTokenLocked()
	if err != nil {
		return "", err
	}
	p.online = true
	p.connHandle = connHandle
	return token, nil
}

// LoginWithoutPresence verifies the password and issues a token without
// flipping the online flag or binding a connection. Used for out-of-band
// verification such as a control-panel login, so the primary session slot
// is not claimed.
func (p *Player) LoginWithoutPresence(password string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.authenticateLocked(password); err != nil {
		return "", err
	}
	return p.issueTokenLocked()
}

// authenticateLocked checks the password against the stored hash.
// Any hash error fails closed as a generic credential failure.
func (p *Player) authenticateLocked(password string) error {
	ok, err := p.hasher.Verify(password, p.passwordHash)
	if err != nil || !ok {
		return auth.ErrInvalidCredentials
	}
	return nil
}

func (p *Player) issueTokenLocked() (string, error) {
	tokenID := NewULID()
	token, err := p.codec.Sign(p.username, p.passwordHash, tokenID)
	if err != nil {
		return "", err
	}
	p.tokens = append(p.tokens, activeToken{token: token, id: tokenID})
	return token, nil
}

// VerifyToken reports whether the token is currently valid for this session.
// It fails closed: any malformed token, signature mismatch, or claim
// mismatch yields false, never a panic or an error.
//
// A token verifies only if it is present in the active set, its signature
// checks out against the server secret, and its decoded username, password
// hash, and token ID all match the session's current values. The hash match
// means tokens issued before a password change self-invalidate.
func (p *Player) VerifyToken(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verifyTokenLocked(token)
}

func (p *Player) verifyTokenLocked(token string) bool {
	var entry *activeToken
	for i := range p.tokens {
		if p.tokens[i].token == token {
			entry = &p.tokens[i]
			break
		}
	}
	if entry == nil {
		return false
	}

	claims, err := p.codec.Verify(token)
	if err != nil {
		return false
	}
	return claims.Username == p.username &&
		claims.PasswordHash == p.passwordHash &&
		claims.TokenID == entry.id.String()
}

// Logout invalidates the token, clears the object collection, and marks the
// player offline. Returns false if the token is not valid.
func (p *Player) Logout(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.verifyTokenLocked(token) {
		return false
	}
	for i := range p.tokens {
		if p.tokens[i].token == token {
			p.tokens = append(p.tokens[:i], p.tokens[i+1:]...)
			break
		}
	}
	p.clearPresenceLocked()
	return true
}

// ForceLogout unconditionally clears the object collection and marks the
// player offline. Used by transport disconnects and administrative
// shutdown, where no client token is available to authorize the logout.
// Active tokens are left intact: a token issued out-of-band via
// LoginWithoutPresence must survive the game connection dropping.
func (p *Player) ForceLogout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearPresenceLocked()
}

func (p *Player) clearPresenceLocked() {
	p.objects = nil
	p.online = false
	p.connHandle = ulid.ULID{}
}

// ModifyPassword replaces the password hash. Either a currently valid token
// or the current plaintext password authorizes the change. All active
// tokens are revoked on success: the embedded hash check would invalidate
// them anyway, but explicit revocation is the safer default.
func (p *Player) ModifyPassword(token, oldPassword, newPassword string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	authorized := p.verifyTokenLocked(token)
	if !authorized && oldPassword != "" {
		ok, err := p.hasher.Verify(oldPassword, p.passwordHash)
		authorized = err == nil && ok
	}
	if !authorized {
		return false
	}

	newHash, err := p.hasher.Hash(newPassword)
	if err != nil {
		return false
	}
	p.passwordHash = newHash
	p.tokens = nil
	return true
}

// ObjectByName returns the first object with the given name.
// Fails with ErrNotOnline when the player is offline.
func (p *Player) ObjectByName(name string) (Object, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.online {
		return Object{}, ErrNotOnline
	}
	for _, obj := range p.objects {
		if obj.Name == name {
			return obj, nil
		}
	}
	return Object{}, ErrObjectNotFound
}

// ObjectByID returns the object with the given object ID.
// Fails with ErrNotOnline when the player is offline.
func (p *Player) ObjectByID(objectID string) (Object, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.online {
		return Object{}, ErrNotOnline
	}
	for _, obj := range p.objects {
		if obj.ObjectID == objectID {
			return obj, nil
		}
	}
	return Object{}, ErrObjectNotFound
}

// AddObject appends an object to the player's collection. The online check
// runs first so a contract violation is reported regardless of token state.
func (p *Player) AddObject(token string, obj Object) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.online {
		return ErrNotOnline
	}
	if !p.verifyTokenLocked(token) {
		return ErrTokenInvalid
	}
	p.objects = append(p.objects, obj)
	return nil
}

// RemoveObject removes the first object matching the selector. The object
// ID is preferred; a name selector is resolved to an ID first. Returns
// ErrObjectNotFound when neither selector matches.
func (p *Player) RemoveObject(token, name, objectID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.online {
		return ErrNotOnline
	}
	if !p.verifyTokenLocked(token) {
		return ErrTokenInvalid
	}

	if objectID == "" && name != "" {
		for _, obj := range p.objects {
			if obj.Name == name {
				objectID = obj.ObjectID
				break
			}
		}
	}
	if objectID == "" {
		return ErrObjectNotFound
	}
	for i, obj := range p.objects {
		if obj.ObjectID == objectID {
			p.objects = append(p.objects[:i], p.objects[i+1:]...)
			return nil
		}
	}
	return ErrObjectNotFound
}

// ReplaceAllObjects wholesale-replaces the object collection. This is the
// per-tick client state push: last-write-wins, no per-field diffing, and
// no per-entry validation beyond trusting the authenticated owner.
func (p *Player) ReplaceAllObjects(token string, objects []Object) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.verifyTokenLocked(token) {
		return ErrTokenInvalid
	}
	p.objects = append([]Object(nil), objects...)
	return nil
}

// SnapshotObjects returns a copy of the object collection and whether the
// player was online at snapshot time, read under a single lock acquisition
// so the tick loop never observes a session mid-mutation.
func (p *Player) SnapshotObjects() ([]Object, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.online {
		return nil, false
	}
	return append([]Object(nil), p.objects...), true
}

// Record returns the durable subset of the player for persistence.
// Objects and tokens are never persisted.
func (p *Player) Record() store.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return store.Record{
		Username:     p.username,
		ID:           p.id.String(),
		PasswordHash: p.passwordHash,
		Moderator:    p.moderator,
	}
}
