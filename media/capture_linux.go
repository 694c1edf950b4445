//go:build linux && cgo

package media

import (
	"errors"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// populateMediaEngine registers VP8 and Opus via a mediadevices codec
// selector so captured tracks and the webrtc API agree on codecs.
func populateMediaEngine(mediaEngine *webrtc.MediaEngine, cfg EngineConfig) (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = cfg.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	selector.Populate(mediaEngine)
	return selector, nil
}

var errNoKindsRequested = errors.New("neither audio nor video requested")

// captureUserMedia opens local camera/mic via pion/mediadevices (V4L2 +
// malgo). GetUserMedia fails as a unit if either track can't be opened, so
// when both kinds are requested we try video+audio first, then video-only,
// then audio-only. A missing or busy microphone should not prevent the
// camera from working, and vice versa.
func captureUserMedia(e *WebRTCEngine, c Constraints) (Stream, error) {
	if !c.Audio && !c.Video {
		return nil, errorWith(ErrDeviceNotFound, errNoKindsRequested)
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	var attempts []attempt
	if c.Video && c.Audio {
		attempts = []attempt{
			{true, true, "video+audio"},
			{true, false, "video-only"},
			{false, true, "audio-only"},
		}
	} else if c.Video {
		attempts = []attempt{{true, false, "video-only"}}
	} else {
		attempts = []attempt{{false, true, "audio-only"}}
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: e.selector}
		if a.video {
			constraints.Video = func(mt *mediadevices.MediaTrackConstraints) {
				// Exclude MJPEG. Some cameras expose an MJPEG V4L2 node that
				// produces malformed JPEG frames, which poisons the VP8
				// encoder. Raw formats only.
				mt.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				mt.Width = prop.IntRanged{Max: e.cfg.MaxWidth}
				mt.Height = prop.IntRanged{Max: e.cfg.MaxHeight}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		ms, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			e.log.Warnf("GetUserMedia (%s): %v", a.label, err)
			lastErr = err
			continue
		}

		stream := &captureStream{}
		for _, mdTrack := range ms.GetTracks() {
			track := mdTrack
			track.OnEnded(func(err error) {
				if err != nil {
					e.log.Warnf("local track ended: %v", err)
				}
			})
			t := &captureTrack{md: track}
			t.enabled = true
			stream.append(t)
		}
		e.log.Infof("local media captured (%s), %d tracks", a.label, len(stream.Tracks()))
		return stream, nil
	}

	return nil, ClassifyCaptureError(lastErr)
}

// captureStream owns the local capture tracks for one GetUserMedia call.
type captureStream struct {
	trackSet
}

// captureTrack wraps a mediadevices track. Stop closes the underlying
// device.
type captureTrack struct {
	enabledFlag
	md mediadevices.Track
}

func (t *captureTrack) ID() string { return t.md.ID() }

func (t *captureTrack) Kind() Kind {
	if t.md.Kind() == webrtc.RTPCodecTypeAudio {
		return KindAudio
	}
	return KindVideo
}

func (t *captureTrack) Stop() { _ = t.md.Close() }

func (t *captureTrack) rtpTrack() webrtc.TrackLocal { return t.md }
