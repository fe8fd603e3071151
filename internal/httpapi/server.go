// Package httpapi exposes the turn pipeline and its bookkeeping stores
// over HTTP: JSON endpoints for sessions and conversation history,
// standalone transcription and synthesis endpoints, and the full-turn
// /chat endpoint that streams the spoken reply.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/aitalker/internal/llm"
	"github.com/antoniostano/aitalker/internal/observability"
	"github.com/antoniostano/aitalker/internal/store"
	"github.com/antoniostano/aitalker/internal/stt"
	"github.com/antoniostano/aitalker/internal/tts"
	"github.com/antoniostano/aitalker/internal/turn"
)

// TurnRunner executes one complete conversational turn.
type TurnRunner interface {
	Run(ctx context.Context, req turn.Request) (*turn.Result, error)
}

const (
	maxUploadBytes      = 32 << 20
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type Server struct {
	store          store.Store
	runner         TurnRunner
	transcriber    stt.Transcriber
	synth          tts.Synthesizer
	metrics        *observability.Metrics
	upgrader       websocket.Upgrader
	allowAnyOrigin bool
}

func New(st store.Store, runner TurnRunner, transcriber stt.Transcriber, synth tts.Synthesizer, metrics *observability.Metrics, allowAnyOrigin bool) *Server {
	s := &Server{
		store:          st,
		runner:         runner,
		transcriber:    transcriber,
		synth:          synth,
		metrics:        metrics,
		allowAnyOrigin: allowAnyOrigin,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if s.allowAnyOrigin {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				// Non-browser clients often omit Origin. Allow them.
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/api/perf/latency", s.handlePerfLatency)

	r.Post("/api/session", s.handleCreateSession)
	r.Post("/api/conversation", s.handleAppendConversation)
	r.Get("/api/conversation", s.handleListConversation)
	r.Post("/api/stt", s.handleSTT)
	r.Post("/api/tts", s.handleTTS)
	r.Post("/chat", s.handleChat)
	r.Get("/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = uuid.NewString()
	}

	sess, created, err := s.store.Ensure(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	status := http.StatusOK
	message := "Session exists"
	event := "touched"
	if created {
		status = http.StatusCreated
		message = "New session created"
		event = "created"
	}
	s.metrics.SessionEvents.WithLabelValues(event).Inc()

	respondJSON(w, status, map[string]any{
		"session_id":    sess.ID,
		"message":       message,
		"created_at":    sess.CreatedAt,
		"last_accessed": sess.LastAccessed,
	})
}

type conversationRequest struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
	Word      string `json:"word,omitempty"`
	Language  string `json:"language"`
}

func (s *Server) handleAppendConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Prompt) == "" || strings.TrimSpace(req.Response) == "" {
		respondError(w, http.StatusBadRequest, "missing_fields", "session_id, prompt and response are required")
		return
	}
	if req.Language == "" {
		req.Language = "en"
	}

	// Appends are only accepted for sessions that exist.
	if _, err := s.store.Get(r.Context(), req.SessionID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusBadRequest, "unknown_session", "session does not exist")
		case errors.Is(err, store.ErrInvalidReference):
			respondError(w, http.StatusBadRequest, "invalid_session_id", err.Error())
		default:
			s.respondStoreError(w, err)
		}
		return
	}

	id, err := s.store.Append(r.Context(), store.Turn{
		SessionID: req.SessionID,
		Prompt:    req.Prompt,
		Response:  req.Response,
		Word:      req.Word,
		Language:  req.Language,
	})
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "Conversation saved successfully",
		"id":      id,
	})
}

func (s *Server) handleListConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	if _, err := s.store.Get(r.Context(), sessionID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "session_not_found", "session does not exist")
		case errors.Is(err, store.ErrInvalidReference):
			respondError(w, http.StatusBadRequest, "invalid_session_id", err.Error())
		default:
			s.respondStoreError(w, err)
		}
		return
	}

	turns, err := s.store.BySession(r.Context(), sessionID, limit)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if turns == nil {
		turns = []store.Turn{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	audio, filename, err := readClip(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}

	text, err := s.transcriber.Transcribe(r.Context(), audio, filename)
	if err != nil {
		switch {
		case errors.Is(err, stt.ErrNoSpeech):
			respondError(w, http.StatusBadRequest, "no_speech", "no speech detected in the uploaded audio")
		default:
			respondError(w, http.StatusInternalServerError, "transcription_failed", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"text": text})
}

type ttsRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	// Pointer so an explicit 0 is distinguishable from an absent field.
	VoiceSpeed *float64 `json:"voice_speed"`
	Format     string   `json:"format"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Language == "" {
		req.Language = "en"
	}
	speed := 1.0
	if req.VoiceSpeed != nil {
		speed = *req.VoiceSpeed
	}
	if req.Format == "" {
		req.Format = tts.FormatMP3
	}

	audio, contentType, err := s.synth.Synthesize(r.Context(), req.Text, req.Language, speed, req.Format)
	if err != nil {
		switch {
		case errors.Is(err, tts.ErrInvalidInput):
			respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "synthesis_failed", err.Error())
		}
		return
	}
	streamAudio(w, audio, contentType)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	audio, filename, err := readClip(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}

	q := r.URL.Query()
	req := turn.Request{
		SessionID:  strings.TrimSpace(q.Get("session_id")),
		Audio:      audio,
		Filename:   filename,
		Language:   q.Get("response_language"),
		VoiceSpeed: 1.0,
		Format:     q.Get("output_format"),
		Model:      q.Get("model"),
	}
	// An absent parameter means normal speed; an explicit value is passed
	// through untouched so out-of-range speeds (0 included) get rejected.
	if raw := q.Get("voice_speed"); raw != "" {
		speed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_voice_speed", "voice_speed must be a number")
			return
		}
		req.VoiceSpeed = speed
	}

	res, err := s.runner.Run(r.Context(), req)
	if err != nil {
		status, code := statusForTurnError(err)
		respondError(w, status, code, err.Error())
		return
	}

	w.Header().Set("X-Session-Id", res.SessionID)
	if res.TurnID != "" {
		w.Header().Set("X-Turn-Id", res.TurnID)
	}
	streamAudio(w, res.Audio, res.ContentType)
}

// statusForTurnError maps the failure taxonomy onto HTTP statuses: caller
// mistakes are 4xx, engine faults 5xx, upstream engines 502, storage 503.
func statusForTurnError(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrInvalidReference):
		return http.StatusBadRequest, "invalid_session_id"
	case errors.Is(err, stt.ErrNoSpeech):
		return http.StatusBadRequest, "no_speech"
	case errors.Is(err, tts.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, turn.ErrTimeout):
		return http.StatusBadGateway, "engine_timeout"
	case errors.Is(err, llm.ErrUnavailable):
		return http.StatusBadGateway, "model_unavailable"
	case errors.Is(err, turn.ErrEmptyCompletion):
		return http.StatusBadGateway, "empty_completion"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "turn_failed"
	}
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidReference):
		respondError(w, http.StatusBadRequest, "invalid_session_id", err.Error())
	case errors.Is(err, store.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
	}
}

// readClip extracts the uploaded audio from a multipart form (field
// "audio") or, for non-multipart requests, from the raw body.
func readClip(r *http.Request) ([]byte, string, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, "", fmt.Errorf("parse multipart form: %w", err)
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			return nil, "", fmt.Errorf("multipart field %q is required", "audio")
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			return nil, "", fmt.Errorf("read upload: %w", err)
		}
		if len(data) > maxUploadBytes {
			return nil, "", fmt.Errorf("upload exceeds %d bytes", maxUploadBytes)
		}
		if len(data) == 0 {
			return nil, "", errors.New("uploaded audio is empty")
		}
		return data, header.Filename, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxUploadBytes {
		return nil, "", fmt.Errorf("upload exceeds %d bytes", maxUploadBytes)
	}
	if len(data) == 0 {
		return nil, "", errors.New("request body is empty")
	}
	return data, "", nil
}

// streamAudio writes the audio body with a filename matching the bytes
// actually served. The content type is authoritative: post-processing
// fallback can serve WAV even when another container was requested.
func streamAudio(w http.ResponseWriter, audio []byte, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "speech."+extensionForContentType(contentType)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func extensionForContentType(contentType string) string {
	switch contentType {
	case "audio/mpeg":
		return tts.FormatMP3
	case "audio/ogg":
		return tts.FormatOGG
	default:
		return tts.FormatWAV
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
