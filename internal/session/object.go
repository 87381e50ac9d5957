// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

package session

// Object is one world-object record owned by a player. Name tells the
// client renderer which object to spawn; ObjectID is the stable identity
// used for targeted update and removal. Positions are written wholesale
// by the owning client each update, there is no delta protocol.
type Object struct {
	Name     string  `json:"name"`
	ObjectID string  `json:"object_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}
