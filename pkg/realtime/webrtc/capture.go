package webrtc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/finvoice/pkg/realtime"
)

// Local audio is captured and sent as 48 kHz mono Opus in 20 ms frames.
const (
	sampleRate  = 48000
	channels    = 1
	frameDur    = 20 * time.Millisecond
	frameSize   = sampleRate * int(frameDur/time.Millisecond) / 1000 // 960 samples
	maxOpusSize = 4000
)

// Constraints are the processing features requested from the capture device.
// Backends that cannot honour a flag ignore it.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	Channels         int
}

// DefaultConstraints enables echo cancellation, noise suppression and
// automatic gain control.
func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       sampleRate,
		Channels:         channels,
	}
}

// Source yields PCM frames from a capture device.
type Source interface {
	// Read fills pcm with exactly len(pcm) interleaved samples, blocking
	// until they are available.
	Read(pcm []int16) error

	// Close stops capture and releases the device. Idempotent.
	Close() error
}

// Capturer opens audio capture sources. Failures should be reported as
// *realtime.MediaAccessError so callers can distinguish denial from absence.
type Capturer interface {
	Open(ctx context.Context, c Constraints) (Source, error)
}

// CapturerFunc adapts a function to [Capturer].
type CapturerFunc func(ctx context.Context, c Constraints) (Source, error)

// Open calls f.
func (f CapturerFunc) Open(ctx context.Context, c Constraints) (Source, error) { return f(ctx, c) }

// Unavailable is a [Capturer] for environments without a capture API.
var Unavailable Capturer = CapturerFunc(func(context.Context, Constraints) (Source, error) {
	return nil, &realtime.MediaAccessError{
		Reason: realtime.ReasonUnavailable,
		Err:    errors.New("no audio capture backend compiled in"),
	}
})

// silenceSource is the oscillator standing in for a microphone: it emits
// zero-valued frames paced in real time so the outgoing track keeps a steady
// cadence.
type silenceSource struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func newSilenceSource() *silenceSource {
	return &silenceSource{
		ticker: time.NewTicker(frameDur),
		done:   make(chan struct{}),
	}
}

func (s *silenceSource) Read(pcm []int16) error {
	select {
	case <-s.ticker.C:
		clear(pcm)
		return nil
	case <-s.done:
		return errSourceClosed
	}
}

func (s *silenceSource) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
	return nil
}

var errSourceClosed = errors.New("webrtc: capture source closed")
