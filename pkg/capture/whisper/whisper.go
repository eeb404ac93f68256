// Package whisper provides the local capture backend over the whisper.cpp
// CGO bindings. The model file is loaded once and shared across sessions.
//
// whisper.cpp is a batch transcription engine, so the backend simulates the
// streaming contract by buffering incoming PCM, segmenting utterances with
// an energy-based silence detector, and treating the first transcribed
// utterance as the session's final result. The whisper.cpp static library
// (libwhisper.a) and headers must be available at link time.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aphelia-health/aphelia/pkg/capture"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const (
	// bitsPerSample is fixed at 16 for the signed little-endian PCM audio
	// whisper.cpp expects.
	bitsPerSample = 16

	// defaultRMSThreshold is the root-mean-square energy (in 16-bit PCM
	// units) below which audio counts as silence.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
	defaultNoInputTimeoutMs    = 8_000
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 language code for transcription.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the sample rate in Hz of PCM delivered via
// SendAudio. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithChannels sets the channel count of incoming PCM. Defaults to mono.
func WithChannels(channels int) Option {
	return func(p *Provider) { p.channels = channels }
}

// WithSilenceThresholdMs sets the consecutive-silence duration that ends
// an utterance and triggers transcription. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs caps the buffered audio before a forced flush.
// Defaults to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// WithNoInputTimeoutMs sets how long a session waits for the first speech
// energy before ending with a no-input error. Defaults to 8 s.
func WithNoInputTimeoutMs(ms int) Option {
	return func(p *Provider) { p.noInputTimeoutMs = ms }
}

// Provider implements capture.Provider using the whisper.cpp bindings.
// Safe for concurrent sessions; each session gets its own whisper context.
type Provider struct {
	model    whisperlib.Model
	language string

	sampleRate          int
	channels            int
	silenceThresholdMs  int
	maxBufferDurationMs int
	noInputTimeoutMs    int

	// transcribe runs inference over float32 mono samples. Set from the
	// loaded model; replaced in tests.
	transcribe func(samples []float32) (string, error)
}

// Compile-time interface check.
var _ capture.Provider = (*Provider)(nil)

// New creates a Provider loading the whisper.cpp model from modelPath. The
// caller must Close the provider when no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := newProvider(opts...)
	p.model = model
	p.transcribe = p.modelTranscribe
	return p, nil
}

// newProvider builds a Provider with defaults applied but no model bound.
func newProvider(opts ...Option) *Provider {
	p := &Provider{
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		channels:            1,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		noInputTimeoutMs:    defaultNoInputTimeoutMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Name returns the backend identifier used in logs and metrics.
func (p *Provider) Name() string { return "whisper" }

// modelTranscribe runs one inference using a fresh whisper context.
// Contexts are not thread-safe, but the shared model is.
func (p *Provider) modelTranscribe(samples []float32) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", p.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Start opens a capture session. OnStart fires before Start returns; the
// session ends on the first transcribed utterance, on the no-input
// timeout, or on Stop (which flushes any buffered speech first).
func (p *Provider) Start(ctx context.Context, req capture.Request) (capture.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	s := &session{
		transcribe:          p.transcribe,
		cb:                  req.Callbacks,
		sampleRate:          p.sampleRate,
		channels:            p.channels,
		silenceThresholdMs:  p.silenceThresholdMs,
		maxBufferDurationMs: p.maxBufferDurationMs,
		noInputTimeout:      time.Duration(p.noInputTimeoutMs) * time.Millisecond,

		audioCh: make(chan []byte, 256),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if s.cb.OnStart != nil {
		s.cb.OnStart()
	}

	s.wg.Add(1)
	go s.processLoop(ctx)

	return s, nil
}

// session is one live local capture. It implements capture.Handle. All
// mutable buffer state is confined to the processLoop goroutine.
type session struct {
	transcribe          func(samples []float32) (string, error)
	cb                  capture.Callbacks
	sampleRate          int
	channels            int
	silenceThresholdMs  int
	maxBufferDurationMs int
	noInputTimeout      time.Duration

	audioCh chan []byte

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	term     sync.Once
	wg       sync.WaitGroup
}

// Compile-time interface check.
var _ capture.Handle = (*session)(nil)

// SendAudio queues raw 16-bit little-endian signed PCM for silence
// analysis and buffering.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return capture.ErrSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return capture.ErrSessionClosed
	}
}

// Stop requests early termination. Buffered speech is flushed for one last
// transcription; when nothing was heard the session ends silently.
func (s *session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// terminate fires the terminal dispatch followed by OnEnd, exactly once.
func (s *session) terminate(dispatch func()) {
	s.term.Do(func() {
		close(s.done)
		dispatch()
		if s.cb.OnEnd != nil {
			s.cb.OnEnd()
		}
	})
}

func (s *session) emitFinal(text string) {
	s.terminate(func() {
		if s.cb.OnFinal != nil {
			s.cb.OnFinal(text)
		}
	})
}

func (s *session) emitError(kind capture.ErrorKind) {
	s.terminate(func() {
		if s.cb.OnError != nil {
			s.cb.OnError(kind)
		}
	})
}

// processLoop owns silence detection, buffering, and inference dispatch.
func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()

	var (
		buffer    []byte
		hadSpeech bool
		silenceMs int
	)

	bytesPerMs := s.sampleRate * s.channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	maxBufferBytes := s.maxBufferDurationMs * bytesPerMs

	noInput := time.NewTimer(s.noInputTimeout)
	defer noInput.Stop()

	// flush transcribes the buffered utterance. It returns true when the
	// session reached a terminal event.
	flush := func() bool {
		if len(buffer) == 0 || !hadSpeech {
			buffer = nil
			hadSpeech = false
			silenceMs = 0
			return false
		}
		pcm := buffer
		buffer = nil
		hadSpeech = false
		silenceMs = 0

		text, err := s.transcribe(pcmToFloat32Mono(pcm, s.channels))
		if err != nil {
			slog.Error("whisper: inference failed", "error", err)
			s.emitError(capture.ErrorTransport)
			return true
		}
		if text == "" {
			// The energy detector fired on noise; keep listening.
			return false
		}
		s.emitFinal(text)
		return true
	}

	for {
		select {
		case <-ctx.Done():
			if !flush() {
				s.terminate(func() {})
			}
			return

		case <-s.stop:
			if !flush() {
				s.terminate(func() {})
			}
			return

		case <-noInput.C:
			if !hadSpeech {
				s.emitError(capture.ErrorNoInput)
				return
			}

		case chunk := <-s.audioCh:
			rms := computeRMS(chunk)
			chunkMs := chunkDurationMs(chunk, s.sampleRate, s.channels)

			if rms < defaultRMSThreshold {
				// Leading silence before any speech is discarded.
				if hadSpeech {
					silenceMs += chunkMs
					buffer = append(buffer, chunk...)
					if silenceMs >= s.silenceThresholdMs && flush() {
						return
					}
				}
			} else {
				hadSpeech = true
				silenceMs = 0
				buffer = append(buffer, chunk...)
				if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes && flush() {
					return
				}
			}
		}
	}
}
