// Package webrtc establishes realtime sessions over a pion PeerConnection:
// one bidirectional audio transceiver carrying the microphone (or a silent
// stand-in) and the remote voice, plus the "oai-events" data channel for
// JSON control events.
//
// The offer/answer exchange is a single HTTP POST of the complete local SDP.
// The endpoint does not accept trickled candidates, so Establish waits for
// ICE gathering to finish before posting.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/MrWong99/finvoice/pkg/realtime"
)

// DefaultBaseURL is the OpenAI realtime signaling endpoint.
const DefaultBaseURL = "https://api.openai.com/v1/realtime"

var _ realtime.Negotiator = (*Negotiator)(nil)

// Option configures a [Negotiator].
type Option func(*Negotiator)

// WithBaseURL overrides the signaling endpoint.
func WithBaseURL(u string) Option { return func(n *Negotiator) { n.baseURL = u } }

// WithModel sets the model query parameter.
func WithModel(model string) Option { return func(n *Negotiator) { n.model = model } }

// WithHTTPClient sets the client used for the SDP exchange.
func WithHTTPClient(c *http.Client) Option { return func(n *Negotiator) { n.client = c } }

// WithCapturer sets the microphone backend.
func WithCapturer(c Capturer) Option { return func(n *Negotiator) { n.capturer = c } }

// WithConstraints overrides the capture constraints.
func WithConstraints(c Constraints) Option { return func(n *Negotiator) { n.constraints = c } }

// WithCaptureDisabled makes every session send a silent track.
func WithCaptureDisabled(disabled bool) Option {
	return func(n *Negotiator) { n.captureDisabled = disabled }
}

// WithPlaybackSink sets where remote audio goes.
func WithPlaybackSink(s PlaybackSink) Option { return func(n *Negotiator) { n.sink = s } }

// WithICEServers sets STUN/TURN URLs for the peer connection.
func WithICEServers(urls ...string) Option {
	return func(n *Negotiator) { n.iceServers = append(n.iceServers, urls...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(n *Negotiator) { n.log = l } }

// Negotiator builds a fresh PeerConnection per session.
type Negotiator struct {
	baseURL         string
	model           string
	client          *http.Client
	capturer        Capturer
	constraints     Constraints
	captureDisabled bool
	sink            PlaybackSink
	iceServers      []string
	log             *slog.Logger
}

// New returns a Negotiator targeting [DefaultBaseURL] with the platform's
// [DefaultCapturer] and a decoding sink that discards audio.
func New(opts ...Option) *Negotiator {
	n := &Negotiator{
		baseURL:     DefaultBaseURL,
		client:      &http.Client{Timeout: 30 * time.Second},
		capturer:    DefaultCapturer,
		constraints: DefaultConstraints(),
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(n)
	}
	if n.sink == nil {
		n.sink = &DecodingSink{Logger: n.log}
	}
	return n
}

// Endpoint returns the signaling URL including the model parameter.
func (n *Negotiator) Endpoint() string {
	if n.model == "" {
		return n.baseURL
	}
	u, err := url.Parse(n.baseURL)
	if err != nil {
		return n.baseURL
	}
	q := u.Query()
	q.Set("model", n.model)
	u.RawQuery = q.Encode()
	return u.String()
}

// Establish implements [realtime.Negotiator]. A capture failure never fails
// the call: the session gets a silent track, AudioDegraded is set and the
// cause is reported in Warnings. On any error every local resource created so
// far is released.
func (n *Negotiator) Establish(ctx context.Context, credential string) (*realtime.Established, error) {
	cfg := pion.Configuration{}
	if len(n.iceServers) > 0 {
		cfg.ICEServers = []pion.ICEServer{{URLs: n.iceServers}}
	}
	pc, err := pion.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("webrtc: create peer connection: %w", err)
	}

	mediaCtx, cancel := context.WithCancel(context.Background())
	conn := &peerConn{pc: pc, cancel: cancel}
	est := &realtime.Established{Conn: conn}

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		if track.Kind() != pion.RTPCodecTypeAudio {
			return
		}
		n.log.Debug("webrtc: remote audio track", "codec", track.Codec().MimeType)
		go n.sink.Play(mediaCtx, track)
	})
	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		n.log.Debug("webrtc: peer connection state", "state", s.String())
	})

	src, warn := n.openSource(ctx)
	if warn != nil {
		n.log.Warn("webrtc: microphone unavailable, sending silence", "err", warn)
		est.AudioDegraded = true
		est.Warnings = append(est.Warnings, warn)
	}
	if err := conn.attach(mediaCtx, src, n.log); err != nil {
		_ = src.Close()
		n.log.Warn("webrtc: no outgoing audio track", "err", err)
		est.AudioDegraded = true
		est.Warnings = append(est.Warnings, err)
		if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio,
			pion.RTPTransceiverInit{Direction: pion.RTPTransceiverDirectionRecvonly}); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("webrtc: add audio transceiver: %w", err)
		}
	}

	dc, err := pc.CreateDataChannel(realtime.DataChannelLabel, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("webrtc: create data channel: %w", err)
	}
	channel := newDataChannel(dc)
	conn.channel = channel

	answer, err := n.negotiate(ctx, pc, credential)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("webrtc: set remote description: %w", err)
	}

	est.Data = channel
	return est, nil
}

func (n *Negotiator) negotiate(ctx context.Context, pc *pion.PeerConnection, credential string) (string, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("webrtc: create offer: %w", err)
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("webrtc: set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", fmt.Errorf("webrtc: ice gathering: %w", ctx.Err())
	}
	return exchangeSDP(ctx, n.client, n.Endpoint(), credential, pc.LocalDescription().SDP)
}

// openSource returns a live microphone, or a silent source plus the reason
// the microphone could not be used.
func (n *Negotiator) openSource(ctx context.Context) (Source, error) {
	var err error
	switch {
	case n.captureDisabled:
		err = &realtime.MediaAccessError{Reason: realtime.ReasonUnavailable, Err: errors.New("capture disabled")}
	case !realtime.IsSecureEndpoint(n.baseURL):
		err = &realtime.MediaAccessError{Reason: realtime.ReasonInsecureContext, Err: fmt.Errorf("endpoint %s is not secure", n.baseURL)}
	default:
		var src Source
		src, err = n.capturer.Open(ctx, n.constraints)
		if err == nil {
			return src, nil
		}
		var mae *realtime.MediaAccessError
		if !errors.As(err, &mae) {
			err = &realtime.MediaAccessError{Reason: realtime.ReasonUnavailable, Err: err}
		}
	}
	return newSilenceSource(), err
}

// peerConn owns the PeerConnection and the local media pump.
type peerConn struct {
	pc      *pion.PeerConnection
	cancel  context.CancelFunc
	channel *dataChannel

	mu     sync.Mutex
	source Source

	stopOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

// attach adds an Opus track fed from src and starts pumping it.
func (p *peerConn) attach(ctx context.Context, src Source, log *slog.Logger) error {
	enc, err := newOpusEncoder()
	if err != nil {
		return err
	}
	track, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: sampleRate, Channels: 2},
		"audio", "finvoice-mic",
	)
	if err != nil {
		return fmt.Errorf("webrtc: create local track: %w", err)
	}
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("webrtc: add local track: %w", err)
	}

	p.mu.Lock()
	p.source = src
	p.mu.Unlock()

	go drainRTCP(sender)
	go pump(ctx, src, enc, track, log)
	return nil
}

func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func pump(ctx context.Context, src Source, enc *opusEncoder, track *pion.TrackLocalStaticSample, log *slog.Logger) {
	pcm := make([]int16, frameSize*channels)
	for ctx.Err() == nil {
		if err := src.Read(pcm); err != nil {
			if !errors.Is(err, errSourceClosed) && ctx.Err() == nil {
				log.Warn("webrtc: capture stopped", "err", err)
			}
			return
		}
		pkt, err := enc.encode(pcm)
		if err != nil {
			log.Debug("webrtc: dropping frame", "err", err)
			continue
		}
		if err := track.WriteSample(media.Sample{Data: pkt, Duration: frameDur}); err != nil {
			return
		}
	}
}

// StopTracks halts capture and playback. The PeerConnection stays up.
func (p *peerConn) StopTracks() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.mu.Lock()
		src := p.source
		p.mu.Unlock()
		if src != nil {
			_ = src.Close()
		}
	})
}

// Close stops the tracks and tears down the PeerConnection. Idempotent.
func (p *peerConn) Close() error {
	p.closeOnce.Do(func() {
		p.StopTracks()
		p.closeErr = p.pc.Close()
		if p.channel != nil {
			p.channel.stop()
		}
	})
	return p.closeErr
}
