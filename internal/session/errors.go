// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

package session

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotOnline reports a contract violation: object access on an offline
// session indicates a caller bug, not a user-input problem, so it is a
// distinguishable error rather than a sentinel return.
var ErrNotOnline = oops.Code("SESSION_NOT_ONLINE").Errorf("session is not online")

// ErrTokenInvalid reports a token that failed verification against the
// session. At the dispatcher boundary it is treated the same as a failed
// credential check.
var ErrTokenInvalid = oops.Code("AUTH_TOKEN_INVALID").Errorf("token is not valid for this session")

// ErrObjectNotFound is returned when no object matches the given selector.
var ErrObjectNotFound = errors.New("object not found")
