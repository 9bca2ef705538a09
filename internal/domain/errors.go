package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidSpec   = errors.New("invalid session spec")
	ErrUnknownTool   = errors.New("unknown tool")
	ErrBridgeOffline = errors.New("bridge unreachable")
)
