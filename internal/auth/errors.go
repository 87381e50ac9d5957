// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

package auth

import "github.com/samber/oops"

// ErrInvalidCredentials is returned on any failed password check. It is
// deliberately generic: unknown usernames and wrong passwords produce the
// same failure so accounts cannot be enumerated.
var ErrInvalidCredentials = oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid username or password")
