package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aphelia-health/aphelia/pkg/capture"
)

// testProvider builds a Provider with a fake inference function instead of
// a loaded model.
func testProvider(transcribe func([]float32) (string, error), opts ...Option) *Provider {
	p := newProvider(opts...)
	p.transcribe = transcribe
	return p
}

// pcmChunk builds n 16-bit samples with the given constant amplitude. At
// 16 kHz mono, 320 samples are 20 ms.
func pcmChunk(amplitude int16, n int) []byte {
	buf := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) callbacks() capture.Callbacks {
	return capture.Callbacks{
		OnStart:   func() { l.add("start") },
		OnInterim: func(text string) { l.add("interim:" + text) },
		OnFinal:   func(text string) { l.add("final:" + text) },
		OnError:   func(kind capture.ErrorKind) { l.add("error:" + string(kind)) },
		OnEnd:     func() { l.add("end") },
	}
}

func waitForEvents(t *testing.T, l *eventLog, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ev := l.snapshot(); len(ev) >= n {
			return ev
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %v", n, l.snapshot())
	return nil
}

func assertEvents(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestNew_EmptyModelPath(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New with empty model path succeeded")
	}
}

func TestStart_CancelledContext(t *testing.T) {
	p := testProvider(func([]float32) (string, error) { return "", nil })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Start(ctx, capture.Request{}); err == nil {
		t.Fatal("Start with cancelled context succeeded")
	}
}

func TestSpeechThenSilence_EmitsFinal(t *testing.T) {
	p := testProvider(
		func(samples []float32) (string, error) {
			if len(samples) == 0 {
				t.Error("transcribe called with no samples")
			}
			return "cup", nil
		},
		WithSilenceThresholdMs(40),
	)

	log := &eventLog{}
	h, err := p.Start(context.Background(), capture.Request{Callbacks: log.callbacks()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	// 20 ms of speech energy, then 40 ms of silence.
	if err := h.SendAudio(pcmChunk(8000, 320)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	for range 2 {
		if err := h.SendAudio(pcmChunk(0, 320)); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}

	ev := waitForEvents(t, log, 3)
	assertEvents(t, ev, []string{"start", "final:cup", "end"})
}

func TestSilenceOnly_TimesOutAsNoInput(t *testing.T) {
	called := false
	p := testProvider(
		func([]float32) (string, error) { called = true; return "cup", nil },
		WithNoInputTimeoutMs(40),
	)

	log := &eventLog{}
	h, err := p.Start(context.Background(), capture.Request{Callbacks: log.callbacks()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	_ = h.SendAudio(pcmChunk(0, 320))

	ev := waitForEvents(t, log, 3)
	assertEvents(t, ev, []string{"start", "error:no-input", "end"})
	if called {
		t.Error("inference ran without any speech")
	}
}

func TestStop_FlushesBufferedSpeech(t *testing.T) {
	p := testProvider(func([]float32) (string, error) { return "spoon", nil })

	log := &eventLog{}
	h, err := p.Start(context.Background(), capture.Request{Callbacks: log.callbacks()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := h.SendAudio(pcmChunk(8000, 320)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	h.Stop()

	ev := waitForEvents(t, log, 3)
	assertEvents(t, ev, []string{"start", "final:spoon", "end"})
}

func TestStop_WithoutSpeechEndsSilently(t *testing.T) {
	p := testProvider(func([]float32) (string, error) { return "cup", nil })

	log := &eventLog{}
	h, err := p.Start(context.Background(), capture.Request{Callbacks: log.callbacks()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.Stop()

	ev := waitForEvents(t, log, 2)
	assertEvents(t, ev, []string{"start", "end"})

	if err := h.SendAudio(pcmChunk(0, 320)); err == nil {
		t.Error("SendAudio after end succeeded")
	}
}

func TestInferenceError_SurfacesAsTransport(t *testing.T) {
	p := testProvider(
		func([]float32) (string, error) { return "", errors.New("model exploded") },
		WithSilenceThresholdMs(40),
	)

	log := &eventLog{}
	h, err := p.Start(context.Background(), capture.Request{Callbacks: log.callbacks()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	_ = h.SendAudio(pcmChunk(8000, 320))
	_ = h.SendAudio(pcmChunk(0, 320))
	_ = h.SendAudio(pcmChunk(0, 320))

	ev := waitForEvents(t, log, 3)
	assertEvents(t, ev, []string{"start", "error:transport", "end"})
}

func TestMaxBufferExceededForcesFlush(t *testing.T) {
	p := testProvider(
		func([]float32) (string, error) { return "long utterance", nil },
		WithMaxBufferDurationMs(40),
	)

	log := &eventLog{}
	h, err := p.Start(context.Background(), capture.Request{Callbacks: log.callbacks()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	// Continuous speech past the 40 ms cap forces a flush without any
	// silence.
	for range 3 {
		if err := h.SendAudio(pcmChunk(8000, 320)); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}

	ev := waitForEvents(t, log, 3)
	assertEvents(t, ev, []string{"start", "final:long utterance", "end"})
}

func TestEmptyTranscript_KeepsListening(t *testing.T) {
	finals := 0
	p := testProvider(
		func([]float32) (string, error) {
			finals++
			if finals == 1 {
				return "", nil // noise segment
			}
			return "plate", nil
		},
		WithSilenceThresholdMs(40),
	)

	log := &eventLog{}
	h, err := p.Start(context.Background(), capture.Request{Callbacks: log.callbacks()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	speak := func() {
		_ = h.SendAudio(pcmChunk(8000, 320))
		_ = h.SendAudio(pcmChunk(0, 320))
		_ = h.SendAudio(pcmChunk(0, 320))
	}
	speak()
	speak()

	ev := waitForEvents(t, log, 3)
	assertEvents(t, ev, []string{"start", "final:plate", "end"})
}
