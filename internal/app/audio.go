package app

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"

	"github.com/aphelia-health/aphelia/pkg/audio"
	"github.com/aphelia-health/aphelia/pkg/capture"
)

// handleAudio accepts a websocket carrying the client's Opus microphone
// stream and pumps it into the patient's session. Each binary message is
// one Opus packet; it is decoded, narrowed to the recognition format, and
// forwarded to the open capture. Packets arriving while the microphone is
// toggled off are dropped silently, so the client can stream continuously
// across capture cycles.
func (a *App) handleAudio(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	channels := 1
	if raw := r.URL.Query().Get("channels"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "channels must be a number", http.StatusBadRequest)
			return
		}
		channels = n
	}
	ingest, err := audio.NewIngest(channels)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !a.sessions.Active(userID) {
		http.Error(w, "no active session", http.StatusConflict)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("audio stream: accept failed", "user_id", userID, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "audio stream aborted")

	slog.Info("audio stream opened", "user_id", userID, "channels", channels)

	ctx := r.Context()
	for {
		typ, packet, err := conn.Read(ctx)
		if err != nil {
			// Client closed the socket or went away.
			slog.Debug("audio stream closed", "user_id", userID, "err", err)
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}

		pcm, err := ingest.Next(packet)
		if err != nil {
			slog.Warn("audio stream: undecodable packet", "user_id", userID, "err", err)
			conn.Close(websocket.StatusUnsupportedData, "bad opus packet")
			return
		}
		if len(pcm) == 0 {
			continue
		}

		switch err := a.sessions.SendAudio(userID, pcm); {
		case err == nil:
		case errors.Is(err, capture.ErrSessionClosed):
			// Microphone toggled off: drop the frame.
		case errors.Is(err, ErrNoSession):
			conn.Close(websocket.StatusNormalClosure, "session ended")
			return
		default:
			slog.Warn("audio stream: forward failed", "user_id", userID, "err", err)
		}
	}
}
