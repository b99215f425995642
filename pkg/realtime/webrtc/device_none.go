//go:build !portaudio

package webrtc

import "io"

// DefaultCapturer is [Unavailable] in builds without the portaudio tag.
var DefaultCapturer = Unavailable

// DefaultSpeaker returns io.Discard in builds without the portaudio tag.
func DefaultSpeaker() (io.Writer, error) { return io.Discard, nil }
