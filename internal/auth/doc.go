// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

// Package auth provides the credential primitives for PlayRelay: argon2id
// password hashing and the signed session-token codec.
//
// Tokens are HS256 JWTs over a server-wide secret. A token's claims carry
// the username, the stored password hash, and a unique token ID; all three
// must match the issuing session's current values for the token to verify.
// A password change therefore invalidates every previously issued token,
// even before explicit revocation is taken into account.
package auth
