package media

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCaptureError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"fs permission", fmt.Errorf("open /dev/video0: %w", fs.ErrPermission), ErrPermissionDenied},
		{"permission message", errors.New("requested device not allowed"), ErrPermissionDenied},
		{"not found message", errors.New("failed to find the best driver that fits the constraints"), ErrDeviceNotFound},
		{"no such device", errors.New("microphone: no such device"), ErrDeviceNotFound},
		{"already classified", ErrDeviceNotFound, ErrDeviceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyCaptureError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestClassifyKeepsOriginalCause(t *testing.T) {
	cause := errors.New("v4l2: permission denied")
	got := ClassifyCaptureError(cause)
	assert.ErrorIs(t, got, ErrPermissionDenied)
	assert.ErrorIs(t, got, cause)
}

func TestClassifyPassesUnknownThrough(t *testing.T) {
	cause := errors.New("encoder churned")
	assert.Equal(t, cause, ClassifyCaptureError(cause))
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, UserMessage(ErrPermissionDenied), "denied")
	assert.Contains(t, UserMessage(ErrDeviceNotFound), "found")
	assert.NotEmpty(t, UserMessage(errors.New("other")))
}
