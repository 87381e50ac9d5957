// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

// Package session implements the identity and object-state core of
// PlayRelay: per-player sessions with credentials, active tokens, and
// owned world objects, plus the registry that owns all sessions and
// resolves them by username, session ID, or connection handle.
//
// Sessions are created lazily on first successful authentication and
// survive logout; only the durable identity fields are persisted across
// restarts. All object access is gated on the session being online, and
// every mutation of a session's objects or token set happens under that
// session's own lock, so concurrent handlers never observe a partial
// update.
package session
