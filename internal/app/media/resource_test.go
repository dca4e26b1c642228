package media

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/core/mock"
	"github.com/pion/webrtc/v4"
)

func TestAcquire_ReleaseOnce(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	r, err := Acquire(context.Background(), dev, core.Constraints{Audio: true})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if n := len(r.Tracks()); n != 1 {
		t.Fatalf("Tracks = %d, want 1", n)
	}
	if p := r.PreviewTrack(); p == nil || p.Kind() != webrtc.RTPCodecTypeAudio {
		t.Errorf("PreviewTrack = %v, want the audio track", p)
	}

	r.Release()
	r.Release()
	if _, closes := dev.Counts(); closes != 1 {
		t.Errorf("device closed %d times, want 1", closes)
	}
}

func TestAcquire_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dev  core.MediaDevice
		c    core.Constraints
		want error
	}{
		{"nil device", nil, core.Constraints{Audio: true}, core.ErrNoDevice},
		{"no kinds", &mock.Device{}, core.Constraints{}, core.ErrNoDevice},
		{"denied", &mock.Device{OpenError: core.ErrPermissionDenied}, core.Constraints{Audio: true}, core.ErrPermissionDenied},
		{"busy", &mock.Device{OpenError: &core.DeviceError{Err: core.ErrDeviceBusy}}, core.Constraints{Video: true}, core.ErrDeviceBusy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := Acquire(context.Background(), tt.dev, tt.c)
			if r != nil {
				t.Errorf("resource = %v, want nil", r)
			}
			var de *core.DeviceError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v (%T), want *core.DeviceError", err, err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want wrapping %v", err, tt.want)
			}
		})
	}
}

func TestRelease_NilSafe(t *testing.T) {
	t.Parallel()

	var r *Resource
	r.Release()
	if r.Tracks() != nil || r.PreviewTrack() != nil {
		t.Error("nil resource should expose no tracks")
	}
}
