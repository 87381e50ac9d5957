// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

package session

// DuplicatePolicy controls how the registry treats a registration whose
// username collides with an existing session. Session IDs are not policy-
// gated: a duplicate ID is always rejected to preserve the registry
// uniqueness invariant.
type DuplicatePolicy int

const (
	// DuplicateReject refuses the registration.
	DuplicateReject DuplicatePolicy = iota
	// DuplicateWarn allows the registration but logs an integrity warning.
	DuplicateWarn
	// DuplicateAllow allows the registration silently.
	DuplicateAllow
)

// String returns the policy name.
func (p DuplicatePolicy) String() string {
	switch p {
	case DuplicateReject:
		return "reject"
	case DuplicateWarn:
		return "warn"
	case DuplicateAllow:
		return "allow"
	default:
		return "unknown"
	}
}

// Policy parameterizes the registry's registration tolerance.
type Policy struct {
	// Username is the duplicate-username policy.
	Username DuplicatePolicy
}

// DefaultPolicy tolerates duplicate usernames but flags them.
func DefaultPolicy() Policy {
	return Policy{Username: DuplicateWarn}
}
