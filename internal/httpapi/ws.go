package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/aitalker/internal/tts"
	"github.com/antoniostano/aitalker/internal/turn"
)

const (
	wsReadLimit     = 32 << 20
	wsReadDeadline  = 300 * time.Second
	wsWriteDeadline = 30 * time.Second
)

// wsConfig is the optional text frame a client sends to set turn
// parameters for subsequent audio frames on the same connection.
type wsConfig struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"session_id"`
	Language   string  `json:"language"`
	VoiceSpeed float64 `json:"voice_speed"`
	Format     string  `json:"format"`
	Model      string  `json:"model"`
}

// wsTurnEvent announces a completed turn before its audio frame.
type wsTurnEvent struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	TurnID      string `json:"turn_id,omitempty"`
	Prompt      string `json:"prompt"`
	Reply       string `json:"reply"`
	ContentType string `json:"content_type"`
}

type wsErrorEvent struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// handleChatWS runs the turn pipeline over a websocket: each binary frame
// is one complete audio clip; the reply is a JSON turn event followed by a
// binary frame with the synthesized audio. Text frames carry wsConfig.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	defer s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()

	cfg := wsConfig{
		SessionID:  strings.TrimSpace(r.URL.Query().Get("session_id")),
		Language:   "en",
		VoiceSpeed: 1.0,
		Format:     tts.FormatMP3,
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))

		switch msgType {
		case websocket.TextMessage:
			var next wsConfig
			if err := json.Unmarshal(data, &next); err != nil {
				s.writeWSError(conn, "invalid_config", "config frame is not valid JSON")
				continue
			}
			if next.SessionID != "" {
				cfg.SessionID = next.SessionID
			}
			if next.Language != "" {
				cfg.Language = next.Language
			}
			if next.VoiceSpeed != 0 {
				cfg.VoiceSpeed = next.VoiceSpeed
			}
			if next.Format != "" {
				cfg.Format = next.Format
			}
			if next.Model != "" {
				cfg.Model = next.Model
			}

		case websocket.BinaryMessage:
			res, err := s.runner.Run(r.Context(), turn.Request{
				SessionID:  cfg.SessionID,
				Audio:      data,
				Language:   cfg.Language,
				VoiceSpeed: cfg.VoiceSpeed,
				Format:     cfg.Format,
				Model:      cfg.Model,
			})
			if err != nil {
				_, code := statusForTurnError(err)
				if !s.writeWSError(conn, code, err.Error()) {
					return
				}
				continue
			}
			// Carry the server-assigned session forward for this
			// connection's later turns.
			cfg.SessionID = res.SessionID

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteJSON(wsTurnEvent{
				Type:        "turn",
				SessionID:   res.SessionID,
				TurnID:      res.TurnID,
				Prompt:      res.Prompt,
				Reply:       res.Reply,
				ContentType: res.ContentType,
			}); err != nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteMessage(websocket.BinaryMessage, res.Audio); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeWSError(conn *websocket.Conn, code, detail string) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	return conn.WriteJSON(wsErrorEvent{Type: "error", Code: code, Detail: detail}) == nil
}
