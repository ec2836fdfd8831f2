package domain

import "errors"

var (
	// ErrExternalAction covers every economy API rejection or timeout that is
	// not the recoverable token handshake: it is terminal for the attempt.
	ErrExternalAction = errors.New("external_action_failed")
	ErrUserNotFound   = errors.New("user_not_found")
)
