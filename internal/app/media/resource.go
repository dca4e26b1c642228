// Package media holds the session's local capture resource.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Voice/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Resource owns the capture handle of one session. Peer links only ever
// borrow its tracks.
type Resource struct {
	device core.MediaDevice
	tracks []webrtc.TrackLocal
	once   sync.Once
}

// Acquire opens device with the given constraints. Any failure comes back
// as a *core.DeviceError and leaves the device closed.
func Acquire(ctx context.Context, device core.MediaDevice, c core.Constraints) (*Resource, error) {
	if device == nil {
		return nil, &core.DeviceError{Err: core.ErrNoDevice}
	}
	if !c.Audio && !c.Video {
		return nil, &core.DeviceError{Err: core.ErrNoDevice}
	}
	tracks, err := device.Open(ctx, c)
	if err != nil {
		_ = device.Close()
		var de *core.DeviceError
		if errors.As(err, &de) {
			return nil, de
		}
		return nil, &core.DeviceError{Err: fmt.Errorf("open: %w", err)}
	}
	if err := ctx.Err(); err != nil {
		_ = device.Close()
		return nil, &core.DeviceError{Err: err}
	}
	log.Info().Str("module", "media").Int("tracks", len(tracks)).Msg("capture acquired")
	return &Resource{device: device, tracks: tracks}, nil
}

// Tracks returns the shared local tracks. The slice is a copy.
func (r *Resource) Tracks() []webrtc.TrackLocal {
	if r == nil {
		return nil
	}
	out := make([]webrtc.TrackLocal, len(r.tracks))
	copy(out, r.tracks)
	return out
}

// PreviewTrack is the track a caller renders as self view: video when
// captured, audio otherwise, nil if nothing is held.
func (r *Resource) PreviewTrack() webrtc.TrackLocal {
	if r == nil || len(r.tracks) == 0 {
		return nil
	}
	for _, t := range r.tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			return t
		}
	}
	return r.tracks[0]
}

// Release stops capture. Safe on nil and on repeated calls.
func (r *Resource) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		if err := r.device.Close(); err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("capture release")
			return
		}
		log.Info().Str("module", "media").Msg("capture released")
	})
}
