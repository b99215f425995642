// Package app wires the finvoice subsystems into a running client.
//
// The App struct owns the full lifecycle: New builds every collaborator from
// the config, Run executes the session loop (and the operational HTTP server
// when one is configured), and Shutdown releases everything in order.
//
// For testing, inject doubles via functional options (WithNegotiator,
// WithCredentials, WithSink, ...). When an option is not provided, New
// creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/finvoice/internal/config"
	"github.com/MrWong99/finvoice/internal/credential"
	"github.com/MrWong99/finvoice/internal/glossary"
	"github.com/MrWong99/finvoice/internal/health"
	"github.com/MrWong99/finvoice/internal/observe"
	"github.com/MrWong99/finvoice/internal/profile"
	"github.com/MrWong99/finvoice/internal/session"
	"github.com/MrWong99/finvoice/internal/tools"
	"github.com/MrWong99/finvoice/internal/transcriptsink"
	"github.com/MrWong99/finvoice/internal/transcriptsink/postgres"
	"github.com/MrWong99/finvoice/pkg/realtime"
	"github.com/MrWong99/finvoice/pkg/realtime/webrtc"
	"github.com/MrWong99/finvoice/pkg/realtime/websocket"
	"github.com/MrWong99/finvoice/pkg/transcript"
)

// ProfileCacheKey is the Redis key holding the cached user persona.
const ProfileCacheKey = "finvoice:user_persona"

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	toolset     *Toolset
	store       *transcript.Store
	credentials credential.Source
	profile     session.ProfileService
	sink        transcriptsink.Sink
	negotiator  realtime.Negotiator
	degraded    realtime.Negotiator
	endpoint    string
	orch        *session.Orchestrator

	checkers []health.Checker
	server   *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(a *App) { a.log = l } }

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option { return func(a *App) { a.metrics = m } }

// WithNegotiator injects the session negotiators instead of creating them
// from realtime config. degraded may be nil; endpoint is the signaling URL
// checked before every connect.
func WithNegotiator(n, degraded realtime.Negotiator, endpoint string) Option {
	return func(a *App) {
		a.negotiator = n
		a.degraded = degraded
		a.endpoint = endpoint
	}
}

// WithCredentials injects the token source instead of the env/file/session
// chain.
func WithCredentials(src credential.Source) Option {
	return func(a *App) { a.credentials = src }
}

// WithProfile injects the profile service instead of creating one from
// profile config.
func WithProfile(p session.ProfileService) Option {
	return func(a *App) { a.profile = p }
}

// WithSink injects the transcript sink instead of creating one from
// transcript config.
func WithSink(s transcriptsink.Sink) Option {
	return func(a *App) { a.sink = s }
}

// New creates an App by wiring all subsystems together. MCP servers are
// connected and the transcript database is migrated before New returns.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	ts, err := LoadTools(ctx, cfg, a.log)
	if err != nil {
		return nil, err
	}
	a.toolset = ts
	a.closers = append(a.closers, ts.Close)

	a.store = transcript.New(transcript.WithLogger(a.log))

	if a.credentials == nil {
		a.credentials = a.credentialChain()
	}
	if err := a.initProfile(); err != nil {
		return nil, fmt.Errorf("app: init profile: %w", err)
	}
	if err := a.initSink(ctx); err != nil {
		return nil, fmt.Errorf("app: init transcript sink: %w", err)
	}
	if a.negotiator == nil {
		a.initNegotiator()
	}

	dispatcher := tools.New(ts.Registry, a.store,
		tools.WithTimeout(cfg.Tools.Timeout),
		tools.WithLogger(a.log),
		tools.WithMetrics(a.metrics),
	)
	var corrector session.TranscriptCorrector
	if len(cfg.Session.Glossary) > 0 {
		corrector = glossary.New(cfg.Session.Glossary)
	}
	a.orch, err = session.New(session.Config{
		Script:             ts.Script,
		Negotiator:         a.negotiator,
		DegradedNegotiator: a.degraded,
		Endpoint:           a.endpoint,
		Credentials:        a.credentials,
		Transcript:         a.store,
		Tools:              dispatcher,
		Profile:            a.profile,
		Sink:               a.sink,
		FlushTimeout:       cfg.Session.FlushTimeout,
		ExtraTools:         ts.ExtraTools,
		Corrector:          corrector,
		Settings:           SessionSettings(cfg.Session),
		Logger:             a.log,
		Metrics:            a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init session: %w", err)
	}

	ok = true
	return a, nil
}

// credentialChain reads tokens from the environment, then the token
// directory, then the session endpoint when one is configured.
func (a *App) credentialChain() *credential.Chain {
	stores := []credential.Named{{Name: "env", Store: credential.EnvStore{}}}

	dir := a.cfg.Credential.Dir
	if dir == "" {
		d, err := credential.DefaultDir()
		if err != nil {
			a.log.Warn("app: no token directory", "err", err)
		}
		dir = d
	}
	if dir != "" {
		stores = append(stores, credential.Named{Name: "file", Store: credential.NewFileStore(dir)})
	}

	if u := a.cfg.Credential.SessionURL; u != "" {
		// The access token for the endpoint itself comes from the stores above.
		auth := credential.StoreSource{Store: credential.NewChain(a.log, stores...)}
		stores = append(stores, credential.Named{Name: "session", Store: &credential.SessionEndpoint{URL: u, Auth: auth}})
	}
	return credential.NewChain(a.log, stores...)
}

func (a *App) initProfile() error {
	if a.profile != nil {
		return nil
	}
	pc := a.cfg.Profile
	if pc.BaseURL == "" {
		return nil
	}
	tokens, ok := a.credentials.(credential.AccessTokenSource)
	if !ok {
		return errors.New("credential source cannot supply access tokens")
	}

	var cache profile.Cache
	switch {
	case pc.Cache.RedisURL != "":
		opt, err := redis.ParseURL(pc.Cache.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opt)
		a.closers = append(a.closers, client.Close)
		a.checkers = append(a.checkers, health.Checker{Name: "profile_cache", Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
		cache = profile.NewRedisCache(client, profile.WithTTL(pc.Cache.TTL), profile.WithKey(ProfileCacheKey))
	case pc.Cache.File != "":
		cache = &profile.FileCache{Path: pc.Cache.File}
	default:
		cache = &profile.MemoryCache{}
	}

	fetcher := &profile.HTTPFetcher{BaseURL: pc.BaseURL, Token: tokens}
	a.profile = profile.NewService(fetcher, cache, profile.WithLogger(a.log))
	return nil
}

func (a *App) initSink(ctx context.Context) error {
	if a.sink != nil {
		return nil
	}
	tc := a.cfg.Transcript
	switch {
	case tc.PostgresDSN != "":
		pg, err := postgres.New(ctx, tc.PostgresDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		a.checkers = append(a.checkers, health.Checker{Name: "transcript_store", Check: pg.Ping})
		a.sink = transcriptsink.NewGuarded(pg, nil, a.log)
	case tc.HTTPURL != "":
		tokens, _ := a.credentials.(credential.AccessTokenSource)
		a.sink = transcriptsink.NewGuarded(&transcriptsink.HTTPSink{URL: tc.HTTPURL, Token: tokens}, nil, a.log)
	default:
		a.sink = transcriptsink.Discard
	}
	return nil
}

func (a *App) initNegotiator() {
	rc := a.cfg.Realtime
	switch rc.Transport {
	case config.TransportWebSocket:
		opts := []websocket.Option{websocket.WithModel(rc.Model), websocket.WithLogger(a.log)}
		if rc.BaseURL != "" {
			opts = append(opts, websocket.WithBaseURL(rc.BaseURL))
		}
		n := websocket.New(opts...)
		a.negotiator, a.endpoint = n, n.Endpoint()
	default:
		opts := []webrtc.Option{
			webrtc.WithModel(rc.Model),
			webrtc.WithLogger(a.log),
			webrtc.WithConstraints(CaptureConstraints(rc.Capture)),
			webrtc.WithPlaybackSink(a.playbackSink()),
		}
		if rc.BaseURL != "" {
			opts = append(opts, webrtc.WithBaseURL(rc.BaseURL))
		}
		if len(rc.ICEServers) > 0 {
			opts = append(opts, webrtc.WithICEServers(rc.ICEServers...))
		}
		n := webrtc.New(append(opts, webrtc.WithCaptureDisabled(rc.Capture.Disabled))...)
		a.negotiator, a.endpoint = n, n.Endpoint()
		a.degraded = webrtc.New(append(opts, webrtc.WithCaptureDisabled(true))...)
	}
}

func (a *App) playbackSink() webrtc.PlaybackSink {
	out, err := webrtc.DefaultSpeaker()
	if err != nil {
		a.log.Warn("app: no speaker, remote audio is dropped", "err", err)
		return &webrtc.DecodingSink{Logger: a.log}
	}
	return &webrtc.DecodingSink{Out: out, Logger: a.log}
}

// CaptureConstraints maps the capture config onto device constraints. Unset
// flags keep their default (enabled).
func CaptureConstraints(c config.CaptureConfig) webrtc.Constraints {
	out := webrtc.DefaultConstraints()
	if c.EchoCancellation != nil {
		out.EchoCancellation = *c.EchoCancellation
	}
	if c.NoiseSuppression != nil {
		out.NoiseSuppression = *c.NoiseSuppression
	}
	if c.AutoGainControl != nil {
		out.AutoGainControl = *c.AutoGainControl
	}
	return out
}

// SessionSettings maps the session config onto [session.DefaultSettings].
func SessionSettings(c config.SessionConfig) session.Settings {
	s := session.DefaultSettings()
	if c.Voice != "" {
		s.Voice = c.Voice
	}
	if len(c.Modalities) > 0 {
		s.Modalities = append([]string(nil), c.Modalities...)
	}
	if c.TranscriptionModel != "" {
		s.TranscriptionModel = c.TranscriptionModel
	}
	switch c.NoiseReduction {
	case "":
	case "none":
		s.NoiseReduction = ""
	default:
		s.NoiseReduction = c.NoiseReduction
	}
	if c.Temperature != nil {
		s.Temperature = *c.Temperature
	}
	if td := c.TurnDetection; td != nil {
		if !td.Enabled {
			s.TurnDetection = nil
		} else {
			if td.Threshold > 0 {
				s.TurnDetection.Threshold = td.Threshold
			}
			if td.PrefixPaddingMs > 0 {
				s.TurnDetection.PrefixPaddingMs = td.PrefixPaddingMs
			}
			if td.SilenceDurationMs > 0 {
				s.TurnDetection.SilenceDurationMs = td.SilenceDurationMs
			}
		}
	}
	return s
}

// Session returns the session orchestrator.
func (a *App) Session() *session.Orchestrator { return a.orch }

// Transcript returns the transcript store.
func (a *App) Transcript() *transcript.Store { return a.store }

// Tools returns the loaded toolset.
func (a *App) Tools() *Toolset { return a.toolset }

// Handler returns the operational HTTP handler: /metrics, /healthz and
// /readyz, instrumented with [observe.Middleware].
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(a.checkers, health.WithInfo(a.info)).Register(mux)
	return observe.Middleware(a.metrics, a.log)(mux)
}

func (a *App) info() map[string]string {
	return map[string]string{
		"session":        a.orch.Status().String(),
		"audio_degraded": strconv.FormatBool(a.orch.AudioDegraded()),
		"agent":          a.toolset.Script.Name,
	}
}

// Run starts the session loop and, when server.listen_addr is set, the
// operational HTTP server. With autoConnect the session is connected as soon
// as the loop is up. Run blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context, autoConnect bool) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.orch.Run(ctx) })

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		a.server = &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.log.Info("app: http server listening", "addr", addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	if autoConnect {
		g.Go(func() error { return a.connectWhenRunning(ctx) })
	}
	return g.Wait()
}

// connectWhenRunning issues Connect once the session loop accepts commands.
func (a *App) connectWhenRunning(ctx context.Context) error {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		err := a.orch.Connect(ctx)
		if !errors.Is(err, session.ErrNotRunning) {
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("app: connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// Shutdown releases every subsystem. The session loop tears the live session
// down itself when its Run context ends; Shutdown only closes what New
// opened. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- a.close() }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("app: shutdown: %w", ctx.Err())
		}
	})
	return err
}

func (a *App) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
