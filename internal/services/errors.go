package services

import "errors"

var (
	// ErrNoPreview is returned when submitting without a captured image
	ErrNoPreview = errors.New("no image captured")
	// ErrIdentifierRequired is returned when the required identifier is blank
	ErrIdentifierRequired = errors.New("identifier is required")
	// ErrSubmitInProgress is returned when a submit is already in flight
	ErrSubmitInProgress = errors.New("submit already in progress")
	// ErrCameraUnavailable is returned when no camera stream could be acquired
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrFlowClosed is returned when a torn-down flow is used
	ErrFlowClosed = errors.New("flow closed")
	// ErrSubscriptionEnded is returned when the record store stops a subscription
	ErrSubscriptionEnded = errors.New("subscription ended")
	// ErrSignalUnset is returned when no decision has been recorded yet
	ErrSignalUnset = errors.New("signal not set")
	// ErrInvalidImage is returned for uploads that are not decodable images
	ErrInvalidImage = errors.New("invalid image")
)

// IsValidationError reports whether err is a local validation failure
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNoPreview) ||
		errors.Is(err, ErrIdentifierRequired) ||
		errors.Is(err, ErrInvalidImage)
}
