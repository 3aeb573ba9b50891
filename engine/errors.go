package engine

import "errors"

var (
	// ErrDuplicateName is returned by Pipeline.AddStage when the given
	// stage name is already in use within the pipeline.
	ErrDuplicateName = errors.New("duplicate stage name")

	// ErrLookup is returned by Pipeline.Start when asked to restart from
	// a stage name that doesn't exist.
	ErrLookup = errors.New("no such stage")

	// ErrInvalidArgument is returned by Stage.Peek for an unknown stream.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned by Stage.Peek when no editor can be resolved.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRegex is returned by stage construction when data_regex
	// fails to compile.
	ErrInvalidRegex = errors.New("invalid data regex")

	// ErrAlreadyRunning is returned when a caller tries to Start a stage
	// that is concurrently running without killing or waiting first.
	ErrAlreadyRunning = errors.New("stage already running")
)
