// Package capture provides a synthetic capture device backed by pion local
// sample tracks. It stands in for a camera and microphone on headless hosts.
package capture

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Voice/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const frameDuration = 20 * time.Millisecond

// opusSilence is a single Opus frame encoding 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var _ core.MediaDevice = (*SyntheticDevice)(nil)

// SyntheticDevice is exclusive like real hardware: a second Open while held
// fails with core.ErrDeviceBusy.
type SyntheticDevice struct {
	streamID string

	mu     sync.Mutex
	open   bool
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSyntheticDevice(streamID string) *SyntheticDevice {
	if streamID == "" {
		streamID = "local"
	}
	return &SyntheticDevice{streamID: streamID}
}

func (d *SyntheticDevice) Open(ctx context.Context, c core.Constraints) ([]webrtc.TrackLocal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil, &core.DeviceError{Err: core.ErrDeviceBusy}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		tracks []webrtc.TrackLocal
		audio  *webrtc.TrackLocalStaticSample
	)
	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", d.streamID)
		if err != nil {
			return nil, err
		}
		audio = t
		tracks = append(tracks, t)
	}
	if c.Video {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", d.streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if len(tracks) == 0 {
		return nil, &core.DeviceError{Err: core.ErrNoDevice}
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.open = true
	go d.pump(pumpCtx, audio, d.done)

	log.Info().Str("module", "capture").Str("stream", d.streamID).Int("tracks", len(tracks)).Msg("device opened")
	return tracks, nil
}

// pump keeps the audio track fed with silence so remote sides see a live stream.
func (d *SyntheticDevice) pump(ctx context.Context, audio *webrtc.TrackLocalStaticSample, done chan struct{}) {
	defer close(done)
	if audio == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := audio.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				log.Debug().Err(err).Str("module", "capture").Msg("write sample")
			}
		}
	}
}

func (d *SyntheticDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil
	}
	d.open = false
	d.cancel()
	<-d.done
	log.Info().Str("module", "capture").Str("stream", d.streamID).Msg("device closed")
	return nil
}

// IsOpen reports whether capture is currently running.
func (d *SyntheticDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}
