package webrtc

import (
	"context"
	"io"
	"log/slog"

	pion "github.com/pion/webrtc/v4"
)

// PlaybackSink consumes a remote audio track until it ends or ctx is done.
// Play is called on its own goroutine for every remote audio track.
type PlaybackSink interface {
	Play(ctx context.Context, track *pion.TrackRemote)
}

// DecodingSink decodes remote Opus audio to 48 kHz stereo little-endian PCM
// and writes it to Out.
type DecodingSink struct {
	Out    io.Writer
	Logger *slog.Logger
}

// Play implements [PlaybackSink].
func (s *DecodingSink) Play(ctx context.Context, track *pion.TrackRemote) {
	s.play(ctx, func() ([]byte, error) {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return nil, err
		}
		return pkt.Payload, nil
	})
}

func (s *DecodingSink) play(ctx context.Context, next func() ([]byte, error)) {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	out := s.Out
	if out == nil {
		out = io.Discard
	}
	dec, err := newOpusDecoder()
	if err != nil {
		log.Warn("webrtc: playback disabled", "err", err)
		return
	}
	for ctx.Err() == nil {
		payload, err := next()
		if err != nil {
			return
		}
		if len(payload) == 0 {
			continue
		}
		pcm, err := dec.decode(payload)
		if err != nil {
			log.Debug("webrtc: dropping undecodable packet", "err", err)
			continue
		}
		if _, err := out.Write(pcm); err != nil {
			log.Warn("webrtc: playback write failed", "err", err)
			return
		}
	}
}
