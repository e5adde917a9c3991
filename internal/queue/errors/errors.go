// Package errors holds the failure reasons published on the status queue.
// They are fixed strings so no storage detail reaches subscribers.
package errors

const (
	ErrDownload   = "failed to download the raw image"
	ErrInvalidJob = "invalid resize parameters"
	ErrTransform  = "failed to resize the image"
	ErrUpload     = "failed to store the resized image"
)
