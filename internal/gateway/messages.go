// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

package gateway

import (
	"encoding/json"

	"github.com/playrelay/playrelay/internal/session"
)

// Inbound message types accepted from clients.
const (
	msgAuth       = "auth"
	msgWebAuth    = "webAuth"
	msgDisconnect = "disconnect"
	msgUpdate     = "updateState"
	msgLogout     = "logoutRequest"
	msgEvent      = "event"
	msgOff        = "off"
)

// Outbound message types sent to clients.
const (
	msgAuthSuccess = "AuthSuccess"
	msgAuthFail    = "AuthFail"
	msgTick        = "tick"
	msgError       = "error"
	msgClosing     = "Closing"
)

// Error payloads sent with the error message type.
const (
	errNotLoggedIn  = "NotLoggedIn"
	errTokenInvalid = "TokenInvalid"
	errBadRequest   = "BadRequest"
)

// envelope is the wire framing for every message in both directions.
// Data is left raw inbound so each handler decodes its own payload type.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type updateStateRequest struct {
	Token string           `json:"token"`
	Data  []session.Object `json:"data"`
}

type logoutRequest struct {
	Token string `json:"token"`
}

// encode marshals an outbound envelope. Marshal failures are programmer
// errors on our own types, so callers treat them as internal.
func encode(msgType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: msgType, Data: raw})
}
