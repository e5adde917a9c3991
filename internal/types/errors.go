package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter is matched by every *ParameterError.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrCacheUnavailable marks an ephemeral tier timeout or transport failure.
	ErrCacheUnavailable = errors.New("ephemeral cache unavailable")

	// ErrStoreRead marks a durable store transport failure, as opposed to not-found.
	ErrStoreRead = errors.New("durable store read failed")

	// ErrAssetNotFound is returned when neither tier holds a requested key.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrBatchFailed is returned when every item of a batch failed.
	ErrBatchFailed = errors.New("every item in the batch failed")
)

type ParameterError struct {
	Name   string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Name, e.Reason)
}

func (e *ParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// TransformError is a deterministic engine failure; it is never retried.
type TransformError struct {
	FileName string
	Err      error
}

func (e *TransformError) Error() string {
	if e.FileName == "" {
		return fmt.Sprintf("transform failed: %v", e.Err)
	}
	return fmt.Sprintf("transform %s failed: %v", e.FileName, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

type StoreWriteError struct {
	Key string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("durable store write for %s failed: %v", e.Key, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// DeliveryError means the output sink failed; the assets themselves are valid.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsDelivery reports whether err is a sink failure.
func IsDelivery(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}
