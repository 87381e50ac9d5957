// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

package auth_test

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playrelay/playrelay/internal/auth"
	"github.com/playrelay/playrelay/pkg/errutil"
)

func TestNewTokenCodec(t *testing.T) {
	t.Run("creates codec with secret", func(t *testing.T) {
		codec, err := auth.NewTokenCodec("server-secret")
		require.NoError(t, err)
		assert.NotNil(t, codec)
	})

	t.Run("rejects empty secret", func(t *testing.T) {
		_, err := auth.NewTokenCodec("")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_EMPTY_SECRET")
	})
}

func TestTokenCodec_SignVerify(t *testing.T) {
	codec, err := auth.NewTokenCodec("server-secret")
	require.NoError(t, err)

	tokenID := ulid.Make()

	t.Run("round-trips claims", func(t *testing.T) {
		token, err := codec.Sign("alice", "$argon2id$hash", tokenID)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		claims, err := codec.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Username)
		assert.Equal(t, "$argon2id$hash", claims.PasswordHash)
		assert.Equal(t, tokenID.String(), claims.TokenID)
	})

	t.Run("rejects malformed token", func(t *testing.T) {
		_, err := codec.Verify("not.a.token")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_TOKEN_INVALID")
	})

	t.Run("rejects token signed with a different secret", func(t *testing.T) {
		other, err := auth.NewTokenCodec("different-secret")
		require.NoError(t, err)

		token, err := other.Sign("alice", "$argon2id$hash", tokenID)
		require.NoError(t, err)

		_, err = codec.Verify(token)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_TOKEN_INVALID")
	})

	t.Run("rejects unexpected signing method", func(t *testing.T) {
		// 'none' algorithm tokens must never verify
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, auth.TokenClaims{
			Username: "alice",
			TokenID:  tokenID.String(),
		})
		token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = codec.Verify(token)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_TOKEN_INVALID")
	})

	t.Run("distinct token IDs produce distinct tokens", func(t *testing.T) {
		t1, err := codec.Sign("alice", "hash", ulid.Make())
		require.NoError(t, err)
		t2, err := codec.Sign("alice", "hash", ulid.Make())
		require.NoError(t, err)
		assert.NotEqual(t, t1, t2)
	})
}
