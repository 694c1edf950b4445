package media

import (
	"errors"
	"io/fs"
	"strings"
)

// Sentinel errors for capture failures. Wrap with %w so callers can
// classify via errors.Is.
var (
	// ErrPermissionDenied: the OS refused access to the capture device.
	ErrPermissionDenied = errors.New("media: device access denied")

	// ErrDeviceNotFound: no usable camera or microphone is present.
	ErrDeviceNotFound = errors.New("media: no capture device found")
)

// ClassifyCaptureError maps a raw capture failure onto one of the sentinel
// errors, wrapping the original. Unrecognized failures pass through as-is.
func ClassifyCaptureError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceNotFound) {
		return err
	}
	if errors.Is(err, fs.ErrPermission) {
		return errorWith(ErrPermissionDenied, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not allowed"):
		return errorWith(ErrPermissionDenied, err)
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no such device"),
		strings.Contains(msg, "failed to find"):
		return errorWith(ErrDeviceNotFound, err)
	}
	return err
}

// UserMessage returns the user-facing message for a capture failure.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Camera/microphone access was denied. Check your device permissions."
	case errors.Is(err, ErrDeviceNotFound):
		return "No camera or microphone was found on this device."
	default:
		return "Could not access your camera or microphone."
	}
}

type wrappedError struct {
	sentinel error
	cause    error
}

func errorWith(sentinel, cause error) error {
	return &wrappedError{sentinel: sentinel, cause: cause}
}

func (e *wrappedError) Error() string { return e.sentinel.Error() + ": " + e.cause.Error() }

func (e *wrappedError) Is(target error) bool { return target == e.sentinel }

func (e *wrappedError) Unwrap() error { return e.cause }
