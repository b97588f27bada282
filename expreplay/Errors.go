package expreplay

import "errors"

// ExpReplayError implements errors unique to an experience replay
// buffer.
type ExpReplayError struct {
	Op  string
	Err error
}

// Error satisifes the error interface
func (e *ExpReplayError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error
func (e *ExpReplayError) Unwrap() error {
	return e.Err
}

var errShapeMismatch = errors.New("transition shape mismatch")

var errCapacity = errors.New("capacity must be positive")

// IsShapeMismatch returns whether or not an error reports that a
// transition did not have the state or action dimension of the buffer.
func IsShapeMismatch(err error) bool {
	return errors.Is(err, errShapeMismatch)
}
