//go:build !linux || !cgo

package media

import (
	"errors"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// populateMediaEngine registers the default codec set. Capture via
// pion/mediadevices requires platform drivers (V4L2/malgo on Linux), so no
// codec selector is built here.
func populateMediaEngine(mediaEngine *webrtc.MediaEngine, _ EngineConfig) (*mediadevices.CodecSelector, error) {
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	return nil, nil
}

// captureUserMedia always fails on this platform. Callers fall back to
// receive-only connections.
func captureUserMedia(e *WebRTCEngine, _ Constraints) (Stream, error) {
	e.log.Warnf("local capture is not supported on this platform")
	return nil, errorWith(ErrDeviceNotFound, errors.New("no capture drivers on this platform"))
}
