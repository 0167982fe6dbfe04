package schema

import "errors"

var (
	// ErrInvalidToken indicates an empty or malformed execution token.
	ErrInvalidToken = errors.New("invalid execution token")
	// ErrNoKeys indicates a run was opened without any stream keys.
	ErrNoKeys = errors.New("no stream keys")
	// ErrDuplicateKey indicates a stream key was listed twice.
	ErrDuplicateKey = errors.New("duplicate stream key")
	// ErrUnknownKey indicates a stream key is not part of the run.
	ErrUnknownKey = errors.New("unknown stream key")
	// ErrConsoleOpen indicates the console was already opened.
	ErrConsoleOpen = errors.New("console already open")
	// ErrConsoleClosed indicates the console was closed.
	ErrConsoleClosed = errors.New("console closed")
	// ErrSinkDetached indicates the terminal sink is not attached to a surface.
	ErrSinkDetached = errors.New("sink not attached")
	// ErrRunNotFound indicates the backend does not know the token.
	ErrRunNotFound = errors.New("run not found")
)
