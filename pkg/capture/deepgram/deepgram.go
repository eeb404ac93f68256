// Package deepgram provides the cloud-routed capture backend over the
// Deepgram streaming WebSocket API. It implements capture.Provider with
// the standard event guarantees: OnStart once, zero or more interims, one
// terminal event, then OnEnd.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/aphelia-health/aphelia/pkg/capture"
	"github.com/coder/websocket"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// targetBoost is the keyword boost applied to the task target so the
	// model favours the word the patient is asked to produce.
	targetBoost = 5.0
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the PCM sample rate in Hz the caller will send.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithEndpoint overrides the streaming endpoint URL. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements capture.Provider backed by the Deepgram streaming
// API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
}

// Compile-time interface check.
var _ capture.Provider = (*Provider)(nil)

// New creates a Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns the backend identifier used in logs and metrics.
func (p *Provider) Name() string { return "deepgram" }

// Start opens a streaming recognition session. OnStart fires before Start
// returns; the session terminates on the first final result, on Stop, or
// on a transport failure.
func (p *Provider) Start(ctx context.Context, req capture.Request) (capture.Handle, error) {
	wsURL, err := p.buildURL(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	s := &session{
		conn:  conn,
		cb:    req.Callbacks,
		audio: make(chan []byte, 256),
		done:  make(chan struct{}),
	}

	if s.cb.OnStart != nil {
		s.cb.OnStart()
	}

	s.wg.Add(2)
	go s.readLoop(ctx)
	go s.writeLoop(ctx)

	return s, nil
}

// buildURL constructs the streaming endpoint URL for the request.
func (p *Provider) buildURL(req capture.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("channels", "1")
	if req.TargetHint != "" {
		// Deepgram keyword format: word:boost.
		q.Add("keywords", fmt.Sprintf("%s:%g", req.TargetHint, targetBoost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure of a Deepgram Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is one live streaming capture. It implements capture.Handle.
type session struct {
	conn  *websocket.Conn
	cb    capture.Callbacks
	audio chan []byte

	done    chan struct{}
	stopped atomic.Bool
	term    sync.Once
	wg      sync.WaitGroup
}

// Compile-time interface check.
var _ capture.Handle = (*session)(nil)

// SendAudio queues a PCM chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return capture.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return capture.ErrSessionClosed
	}
}

// Stop requests early termination. When no result has been produced yet
// the session ends silently with OnEnd only.
func (s *session) Stop() {
	s.stopped.Store(true)
	// Ask Deepgram to flush and close; read errors after this are the
	// expected shutdown, not transport failures.
	_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
	s.terminate(func() {})
	s.conn.Close(websocket.StatusNormalClosure, "session stopped")
}

// terminate fires the given terminal dispatch (which may be a no-op for a
// cancelled session) followed by OnEnd, exactly once, and unblocks the
// write loop.
func (s *session) terminate(dispatch func()) {
	s.term.Do(func() {
		close(s.done)
		dispatch()
		if s.cb.OnEnd != nil {
			s.cb.OnEnd()
		}
	})
}

// writeLoop forwards queued audio chunks as binary messages.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// readLoop receives Deepgram messages and dispatches callbacks. The first
// final result is the session's terminal event.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			if s.stopped.Load() {
				s.terminate(func() {})
			} else {
				s.terminate(func() {
					if s.cb.OnError != nil {
						s.cb.OnError(capture.ErrorTransport)
					}
				})
			}
			return
		}

		text, isFinal, ok := parseResponse(msg)
		if !ok {
			continue
		}
		if !isFinal {
			if s.cb.OnInterim != nil && text != "" {
				s.cb.OnInterim(text)
			}
			continue
		}

		s.terminate(func() {
			if s.cb.OnFinal != nil {
				s.cb.OnFinal(text)
			}
		})
		s.conn.Close(websocket.StatusNormalClosure, "final result received")
		return
	}
}

// parseResponse extracts the transcript from a raw Deepgram message.
// Returns ok=false for messages that should be ignored.
func parseResponse(data []byte) (text string, isFinal bool, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return "", false, false
	}
	return resp.Channel.Alternatives[0].Transcript, resp.IsFinal, true
}
