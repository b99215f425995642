//go:build portaudio

package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/finvoice/pkg/realtime"
)

// DefaultCapturer captures from the system default input device through
// PortAudio. PortAudio exposes no echo cancellation, noise suppression or gain
// control, so those constraints are not applied.
var DefaultCapturer Capturer = CapturerFunc(openPortAudio)

var paInit struct {
	once sync.Once
	err  error
}

func initPortAudio() error {
	paInit.once.Do(func() { paInit.err = portaudio.Initialize() })
	return paInit.err
}

func openPortAudio(_ context.Context, c Constraints) (Source, error) {
	if err := initPortAudio(); err != nil {
		return nil, &realtime.MediaAccessError{Reason: realtime.ReasonUnavailable, Err: err}
	}
	if c.SampleRate == 0 {
		c.SampleRate = sampleRate
	}
	if c.Channels == 0 {
		c.Channels = channels
	}
	buf := make([]int16, frameSize*c.Channels)
	stream, err := portaudio.OpenDefaultStream(c.Channels, 0, float64(c.SampleRate), frameSize, buf)
	if err != nil {
		return nil, classifyPortAudio(err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, classifyPortAudio(err)
	}
	return &paSource{stream: stream, buf: buf}, nil
}

// classifyPortAudio maps host API failures onto media access reasons.
// PortAudio has no dedicated permission error; host APIs report it in text.
func classifyPortAudio(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") {
		return &realtime.MediaAccessError{Reason: realtime.ReasonPermissionDenied, Err: err}
	}
	return &realtime.MediaAccessError{Reason: realtime.ReasonUnavailable, Err: err}
}

type paSource struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
}

func (s *paSource) Read(pcm []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return errSourceClosed
	}
	if err := s.stream.Read(); err != nil {
		return fmt.Errorf("webrtc: capture read: %w", err)
	}
	copy(pcm, s.buf)
	return nil
}

// Close may be called while Read is blocked; stopping the stream unblocks it.
func (s *paSource) Close() error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()
	if stream == nil {
		return nil
	}
	return errors.Join(stream.Stop(), stream.Close())
}

// DefaultSpeaker opens the default output device for 48 kHz stereo playback.
// When no device is available it returns io.Discard and the error.
func DefaultSpeaker() (io.Writer, error) {
	if err := initPortAudio(); err != nil {
		return io.Discard, fmt.Errorf("webrtc: open speaker: %w", err)
	}
	buf := make([]int16, frameSize*playbackChannels)
	stream, err := portaudio.OpenDefaultStream(0, playbackChannels, float64(sampleRate), frameSize, buf)
	if err != nil {
		return io.Discard, fmt.Errorf("webrtc: open speaker: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return io.Discard, fmt.Errorf("webrtc: start speaker: %w", err)
	}
	return &paSpeaker{stream: stream, buf: buf}, nil
}

// paSpeaker chunks arbitrary PCM writes into whole device buffers.
type paSpeaker struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	fill   int
}

func (s *paSpeaker) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i+1 < len(p); i += 2 {
		s.buf[s.fill] = int16(p[i]) | int16(p[i+1])<<8
		s.fill++
		if s.fill == len(s.buf) {
			if err := s.stream.Write(); err != nil {
				return i, fmt.Errorf("webrtc: speaker write: %w", err)
			}
			s.fill = 0
		}
	}
	return len(p), nil
}
