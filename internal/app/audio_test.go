package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/aphelia-health/aphelia/internal/trial"
	"github.com/aphelia-health/aphelia/pkg/audio"
	capturemock "github.com/aphelia-health/aphelia/pkg/capture/mock"
)

// newAudioTestServer builds an app over mock capture backends and serves it
// over a real listener so the audio websocket can be dialled.
func newAudioTestServer(t *testing.T) (*App, *capturemock.Provider, *httptest.Server) {
	t.Helper()
	local := &capturemock.Provider{ProviderName: "whisper", AutoStart: true}
	providers := &Providers{
		Local: local,
		Cloud: &capturemock.Provider{ProviderName: "deepgram"},
	}
	a, err := New(context.Background(), testConfig(), providers,
		WithTrialStore(trial.NewMemStore()),
		WithLibrary(testLibrary(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})

	srv := httptest.NewServer(a.server.Handler)
	t.Cleanup(srv.Close)
	return a, local, srv
}

func audioURL(srv *httptest.Server, query string) string {
	return "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/api/audio" + query
}

// encodeTone produces one 20 ms mono Opus packet carrying a low ramp, the
// shape of a real client microphone message.
func encodeTone(t *testing.T) []byte {
	t.Helper()
	enc, err := gopus.NewEncoder(audio.OpusSampleRate, 1, gopus.Audio)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	pcm := make([]int16, 960)
	for i := range pcm {
		pcm[i] = int16((i % 200) * 40)
	}
	packet, err := enc.Encode(pcm, 960, 4000)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return packet
}

func TestAudioStream_PumpsOpusIntoCapture(t *testing.T) {
	a, local, srv := newAudioTestServer(t)
	ctx := context.Background()

	if _, err := a.sessions.StartDay(ctx, freePatient, 1); err != nil {
		t.Fatalf("StartDay: %v", err)
	}
	if err := a.sessions.ToggleCapture(ctx, "alice"); err != nil {
		t.Fatalf("ToggleCapture: %v", err)
	}

	conn, _, err := websocket.Dial(ctx, audioURL(srv, "?user_id=alice&channels=1"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	if err := conn.Write(ctx, websocket.MessageBinary, encodeTone(t)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	waitFor(t, "audio delivered to capture", func() bool {
		s := local.LastSession()
		return s != nil && len(s.Audio()) > 0
	})

	// One 20 ms packet at 48 kHz mono narrows to 320 samples of 16 kHz PCM.
	chunk := local.LastSession().Audio()[0]
	if len(chunk) != 640 {
		t.Errorf("forwarded chunk = %d bytes, want 640", len(chunk))
	}
}

func TestAudioStream_RejectsBadRequests(t *testing.T) {
	a, _, srv := newAudioTestServer(t)
	ctx := context.Background()

	if _, err := a.sessions.StartDay(ctx, freePatient, 1); err != nil {
		t.Fatalf("StartDay: %v", err)
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing user_id", "", http.StatusBadRequest},
		{"non-numeric channels", "?user_id=alice&channels=two", http.StatusBadRequest},
		{"unsupported channel count", "?user_id=alice&channels=5", http.StatusBadRequest},
		{"no active session", "?user_id=bob", http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/api/audio" + tc.query)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestAudioStream_DropsFramesWhileMicOff(t *testing.T) {
	a, local, srv := newAudioTestServer(t)
	ctx := context.Background()

	if _, err := a.sessions.StartDay(ctx, freePatient, 1); err != nil {
		t.Fatalf("StartDay: %v", err)
	}

	conn, _, err := websocket.Dial(ctx, audioURL(srv, "?user_id=alice"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	// No capture open yet: the packet is dropped and the stream stays up.
	if err := conn.Write(ctx, websocket.MessageBinary, encodeTone(t)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// The pong only comes back once the server's read loop has consumed
	// the packet, so toggling afterwards cannot race with it.
	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	if err := a.sessions.ToggleCapture(ctx, "alice"); err != nil {
		t.Fatalf("ToggleCapture: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, encodeTone(t)); err != nil {
		t.Fatalf("Write after mic on: %v", err)
	}

	waitFor(t, "audio delivered after mic on", func() bool {
		s := local.LastSession()
		return s != nil && len(s.Audio()) > 0
	})
	if got := len(local.LastSession().Audio()); got != 1 {
		t.Errorf("capture received %d chunks, want only the post-toggle one", got)
	}
}
