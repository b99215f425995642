package webrtc

import (
	"fmt"

	"layeh.com/gopus"
)

// Remote audio arrives as 48 kHz Opus negotiated with two channels.
const (
	playbackChannels = 2
	// maxDecodeFrame is the largest Opus frame (120 ms) per channel.
	maxDecodeFrame = sampleRate * 120 / 1000
)

// opusEncoder wraps a gopus encoder for the outgoing microphone track.
type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("webrtc: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode compresses one frameSize frame of mono PCM.
func (e *opusEncoder) encode(pcm []int16) ([]byte, error) {
	pkt, err := e.enc.Encode(pcm, frameSize, maxOpusSize)
	if err != nil {
		return nil, fmt.Errorf("webrtc: opus encode: %w", err)
	}
	return pkt, nil
}

// opusDecoder holds decoder state for one remote track.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, playbackChannels)
	if err != nil {
		return nil, fmt.Errorf("webrtc: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode returns interleaved stereo PCM as little-endian bytes.
func (d *opusDecoder) decode(pkt []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(pkt, maxDecodeFrame, false)
	if err != nil {
		return nil, fmt.Errorf("webrtc: opus decode: %w", err)
	}
	return pcmBytes(pcm), nil
}

func pcmBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
