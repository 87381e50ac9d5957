// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenClaims are the JWT claims embedded in a session token.
// Username and PasswordHash bind the token to the issuing session's current
// credentials; TokenID distinguishes concurrent tokens for the same account.
type TokenClaims struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	TokenID      string `json:"token_id"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies session tokens with a server-wide secret.
type TokenCodec struct {
	secret []byte
}

// NewTokenCodec creates a TokenCodec. The secret must be non-empty.
func NewTokenCodec(secret string) (*TokenCodec, error) {
	if secret == "" {
		return nil, oops.Code("AUTH_EMPTY_SECRET").Errorf("signing secret cannot be empty")
	}
	return &TokenCodec{secret: []byte(secret)}, nil
}

// Sign mints a token for the given identity triple.
func (c *TokenCodec) Sign(username, passwordHash string, tokenID ulid.ULID) (string, error) {
	claims := TokenClaims{
		Username:     username,
		PasswordHash: passwordHash,
		TokenID:      tokenID.String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify parses and cryptographically verifies a token, returning its claims.
// Fails on any malformed input, unexpected signing method, or bad signature.
func (c *TokenCodec) Verify(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, oops.Code("AUTH_TOKEN_INVALID").Wrap(err)
	}
	if !parsed.Valid {
		return nil, oops.Code("AUTH_TOKEN_INVALID").Errorf("token failed verification")
	}
	return claims, nil
}
