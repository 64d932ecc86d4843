package pipex

import "errors"

var (
	// ErrConnectionRefused is reported when the target actively refuses
	// the connection. It is fatal for a whole client run: further
	// transfers against a dead endpoint are meaningless.
	ErrConnectionRefused = errors.New("pipex: connection refused")

	// ErrWaitFailed is reported when the engine's readiness wait fails
	// hard; the controller loop terminates gracefully.
	ErrWaitFailed = errors.New("pipex: engine wait failed")

	// ErrEngineClosed is returned by engine operations after Close.
	ErrEngineClosed = errors.New("pipex: engine closed")

	// ErrUnknownTransfer marks a completion notification that matches
	// none of the registered transfer handles.
	ErrUnknownTransfer = errors.New("pipex: completion for unknown transfer")

	// ErrProtocolViolation is reported when a response cannot be parsed
	// off the wire.
	ErrProtocolViolation = errors.New("pipex: protocol violation")
)
