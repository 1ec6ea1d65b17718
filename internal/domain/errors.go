package domain

import "errors"

var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrUnknownCommand = errors.New("unknown command")
	ErrEmptyText      = errors.New("text must be a non-empty string")
	ErrEmptyPrompt    = errors.New("prompt must be a non-empty string")
	ErrNotConnected   = errors.New("transport not connected")
)
