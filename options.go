package fiddle

import (
	"log/slog"

	"github.com/cbegin/fiddle-go/internal/sequencer"
)

type Option func(*sessionConfig)

type sessionConfig struct {
	cfg       Config
	logger    *slog.Logger
	engine    sequencer.VoiceEngine
	newOutput OutputFactory
	layout    *Layout
	sampleTap func([]float32)
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{cfg: DefaultConfig()}
}

func WithConfig(cfg Config) Option {
	return func(sc *sessionConfig) {
		sc.cfg = cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(sc *sessionConfig) {
		sc.logger = logger
	}
}

// WithEngine replaces the voice engine built from the config.
func WithEngine(engine sequencer.VoiceEngine) Option {
	return func(sc *sessionConfig) {
		sc.engine = engine
	}
}

// WithOutputFactory replaces the audio device output, e.g. to run headless.
// The default opens the system device through ebiten.
func WithOutputFactory(f OutputFactory) Option {
	return func(sc *sessionConfig) {
		sc.newOutput = f
	}
}

// WithLayout overrides the config's marker layout.
func WithLayout(layout Layout) Option {
	return func(sc *sessionConfig) {
		sc.layout = &layout
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) Option {
	return func(sc *sessionConfig) {
		sc.sampleTap = tap
	}
}
