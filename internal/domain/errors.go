package domain

import "errors"

// ErrInvalidSteps indicates that a configured step sequence is empty or malformed.
var ErrInvalidSteps = errors.New("invalid step sequence")

// ErrDuplicateStep indicates that a step identifier appears more than once in a sequence.
var ErrDuplicateStep = errors.New("duplicate step identifier")

// ErrInvalidBinding indicates that a job binding is missing its session or job identifier.
var ErrInvalidBinding = errors.New("invalid job binding")

// ErrInvalidTransition indicates a poll state change that would move backwards.
var ErrInvalidTransition = errors.New("invalid poll state transition")
