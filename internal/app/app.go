// Package app wires all aurarelay subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the ingestion, relay, speaker and operational
// loops, and Shutdown tears everything down in order.
//
// For testing, inject listeners and mock providers via functional options and
// the [Providers] struct. When a provider is nil the features that need it are
// disabled or New reports the misconfiguration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/aurarelay/internal/classifier"
	"github.com/MrWong99/aurarelay/internal/config"
	"github.com/MrWong99/aurarelay/internal/formatter"
	"github.com/MrWong99/aurarelay/internal/health"
	"github.com/MrWong99/aurarelay/internal/ingest"
	"github.com/MrWong99/aurarelay/internal/observe"
	"github.com/MrWong99/aurarelay/internal/pipeline"
	"github.com/MrWong99/aurarelay/internal/publisher"
	"github.com/MrWong99/aurarelay/internal/relay"
	"github.com/MrWong99/aurarelay/internal/roomtoken"
	"github.com/MrWong99/aurarelay/internal/session"
	"github.com/MrWong99/aurarelay/pkg/audio"
	"github.com/MrWong99/aurarelay/pkg/provider/llm"
	"github.com/MrWong99/aurarelay/pkg/provider/tts"
)

// Providers holds one value per external dependency. Nil means the provider
// is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM  llm.Provider
	TTS  tts.Provider
	Room audio.Room

	// Tokens mints room credentials for the relay's /token endpoint.
	Tokens *roomtoken.Minter
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics

	relayLn   net.Listener
	opsLn     net.Listener
	ingestOps []ingest.Option

	// Subsystems: initialised in New, torn down in Shutdown.
	classifier *classifier.Classifier
	relay      *relay.Server
	machine    *session.Machine
	publisher  *publisher.Publisher
	speaker    *pipeline.Speaker
	pipeline   *pipeline.Pipeline
	ingest     *ingest.Client
	health     *health.Handler
	opsSrv     *http.Server

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRelayListener serves the relay on ln instead of listening on the
// configured host and port.
func WithRelayListener(ln net.Listener) Option {
	return func(a *App) { a.relayLn = ln }
}

// WithOpsListener serves /metrics, /healthz and /readyz on ln instead of
// server.metrics_addr.
func WithOpsListener(ln net.Listener) Option {
	return func(a *App) { a.opsLn = ln }
}

// WithIngestOptions appends options to the ingestion client.
func WithIngestOptions(opts ...ingest.Option) Option {
	return func(a *App) { a.ingestOps = append(a.ingestOps, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Nothing touches the
// network until [App.Run].
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Classifier ────────────────────────────────────────────────────
	a.initClassifier()

	// ── 2. Relay server ──────────────────────────────────────────────────
	if err := a.initRelay(); err != nil {
		return nil, fmt.Errorf("app: init relay: %w", err)
	}

	// ── 3. Session state machine ─────────────────────────────────────────
	a.machine = session.NewMachine(a.classifier, a.relay,
		session.WithObserver(func(p session.Phase) {
			a.log.Info("session: phase changed", "phase", p)
		}),
		session.WithLogger(a.log),
		session.WithMetrics(a.metrics),
	)

	// ── 4. Spoken replies ────────────────────────────────────────────────
	if err := a.initSpeech(); err != nil {
		return nil, fmt.Errorf("app: init speech: %w", err)
	}

	// ── 5. Pipeline + ingestion ──────────────────────────────────────────
	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(a.log),
		pipeline.WithSpokenResponses(cfg.Relay.SpeakResponses),
	}
	if a.speaker != nil {
		pipeOpts = append(pipeOpts, pipeline.WithSpeaker(a.speaker))
	}
	a.pipeline = pipeline.New(a.machine, pipeOpts...)
	a.initIngest()

	// ── 6. Health ────────────────────────────────────────────────────────
	var roomConnected func() bool
	if a.publisher != nil {
		roomConnected = a.publisher.Connected
	}
	a.health = health.New(
		health.Ingest(a.ingest.Status),
		health.Room(roomConnected),
	)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initClassifier() {
	cc := a.cfg.Classifier
	opts := []classifier.Option{
		classifier.WithAssistantName(cc.AssistantName),
		classifier.WithPhrases(cc.WakePhrase, cc.SleepPhrase),
		classifier.WithAmbiguityDetection(cc.AmbiguityDetection),
		classifier.WithRemoteInterval(cc.RemoteInterval),
		classifier.WithRemoteTimeout(cc.Timeout),
		classifier.WithLogger(a.log),
		classifier.WithMetrics(a.metrics),
	}
	if a.providers.LLM != nil {
		opts = append(opts, classifier.WithRemote(a.providers.LLM))
	}
	a.classifier = classifier.New(opts...)
}

func (a *App) initRelay() error {
	opts := []relay.Option{
		relay.WithHandler(func(ctx context.Context, msg relay.Message) {
			a.pipeline.HandleRelay(ctx, msg)
		}),
		relay.WithLogger(a.log),
		relay.WithMetrics(a.metrics),
	}
	if a.cfg.Relay.TokenEndpoint {
		if a.providers.Tokens == nil {
			return errors.New("relay.token_endpoint enabled without room credentials")
		}
		opts = append(opts, relay.WithTokenHandler(
			roomtoken.Handler(a.providers.Tokens, a.cfg.Room.LiveKit.URL, a.log)))
	}
	addr := net.JoinHostPort(a.cfg.Relay.Host, strconv.Itoa(a.cfg.Relay.Port))
	a.relay = relay.New(addr, opts...)
	return nil
}

func (a *App) initSpeech() error {
	if !a.cfg.SpeechEnabled() {
		return nil
	}
	switch {
	case a.providers.Room == nil:
		return errors.New("room provider is not configured")
	case a.providers.TTS == nil:
		return errors.New("tts provider is not configured")
	case a.providers.LLM == nil:
		return errors.New("llm provider is not configured")
	}

	sc := a.cfg.Speech
	a.publisher = publisher.New(a.providers.Room,
		publisher.WithTrackName(sc.TrackName),
		publisher.WithFrameDuration(sc.FrameDuration),
		publisher.WithLogger(a.log),
		publisher.WithMetrics(a.metrics),
	)
	a.speaker = pipeline.NewSpeaker(pipeline.SpeakerConfig{
		Formatter: formatter.New(a.providers.LLM,
			formatter.WithTimeout(sc.FormatterTimeout),
			formatter.WithLogger(a.log),
			formatter.WithMetrics(a.metrics),
		),
		TTS:       a.providers.TTS,
		Publisher: a.publisher,
		Voice: tts.SynthesizeOptions{
			VoiceID:      sc.VoiceID,
			ModelID:      sc.ModelID,
			OutputFormat: sc.OutputFormat,
			SampleRate:   sc.SampleRate,
			Channels:     sc.Channels,
		},
		SynthesisTimeout: sc.SynthesisTimeout,
		Logger:           a.log,
		Metrics:          a.metrics,
	})
	return nil
}

func (a *App) initIngest() {
	opts := []ingest.Option{
		ingest.WithReconnectDelay(a.cfg.Ingest.ReconnectDelay),
		ingest.WithHandlerTimeout(a.cfg.Ingest.HandlerTimeout),
		ingest.WithLogger(a.log),
		ingest.WithMetrics(a.metrics),
	}
	opts = append(opts, a.ingestOps...)
	a.ingest = ingest.New(a.cfg.Ingest.URL, ingest.Handlers{
		OnStatus: func(s ingest.Status) {
			a.log.Debug("ingest: status", "status", s)
		},
		OnError: func(err error) {
			a.log.Warn("ingest: error", "err", err)
		},
		OnMessage: a.pipeline.HandleEvent,
	}, opts...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts every loop and blocks until ctx is cancelled or one of them
// fails. A cancelled ctx yields nil.
func (a *App) Run(ctx context.Context) error {
	if a.publisher != nil {
		// Joining early makes the room visible to /readyz; a failure here is
		// retried by the first publish.
		if err := a.publisher.Connect(ctx); err != nil {
			a.log.Warn("room: initial connect failed", "err", err)
		}
	}

	opsLn, err := a.opsListener()
	if err != nil {
		return fmt.Errorf("app: ops listener: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if a.relayLn != nil {
			return a.relay.ServeContext(ctx, a.relayLn)
		}
		return a.relay.Run(ctx)
	})

	g.Go(func() error {
		err := a.ingest.Run(ctx)
		if errors.Is(err, ingest.ErrClosed) {
			return nil
		}
		return err
	})

	if a.speaker != nil {
		g.Go(func() error { return a.speaker.Run(ctx) })
	}

	if opsLn != nil {
		a.opsSrv = &http.Server{
			Handler:           a.opsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.log.Info("ops: listening", "addr", opsLn.Addr().String())
			if err := a.opsSrv.Serve(opsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return a.opsSrv.Close()
		})
	}

	return g.Wait()
}

func (a *App) opsListener() (net.Listener, error) {
	if a.opsLn != nil {
		return a.opsLn, nil
	}
	if a.cfg.Server.MetricsAddr == "" {
		return nil, nil
	}
	return net.Listen("tcp", a.cfg.Server.MetricsAddr)
}

// opsHandler serves the Prometheus scrape endpoint and the health probes.
func (a *App) opsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", observe.MetricsHandler())
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// Relay returns the relay server. Exposed for status reporting.
func (a *App) Relay() *relay.Server { return a.relay }

// Session returns the session state machine.
func (a *App) Session() *session.Machine { return a.machine }

// ─── Shutdown ────────────────────────────────────────────────────────────────

type shutdownStep struct {
	name string
	fn   func() error
}

// Shutdown tears down all subsystems: the ingestion client first so no new
// transcripts arrive, then the relay, then the room. It respects the context
// deadline: if ctx expires before every step finishes, the remaining steps are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")

		steps := []shutdownStep{
			{"ingest", a.ingest.Close},
			{"relay", a.relay.Close},
		}
		if a.publisher != nil {
			steps = append(steps, shutdownStep{"room", a.publisher.Disconnect})
		}

		for i, s := range steps {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(steps)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := s.fn(); err != nil {
				a.log.Warn("shutdown step failed", "step", s.name, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
