package network

import "github.com/pkg/errors"

// Errors returned by network constructors and forward passes. Returned
// errors wrap these and can be checked with errors.Is.
var (
	// ErrConfig is returned when a configuration cannot describe a
	// network
	ErrConfig = errors.New("invalid configuration")

	// ErrShape is returned when an input batch does not have the shape
	// (BatchSize, InputDim)
	ErrShape = errors.New("invalid input shape")

	// ErrBatchTooSmall is returned when input normalization in Train
	// mode is given a batch with a single observation, for which
	// batch statistics are undefined
	ErrBatchTooSmall = errors.New("expected more than 1 observation per " +
		"batch when normalizing inputs in training mode")
)
