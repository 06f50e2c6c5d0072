package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	appMiddleware "github.com/markdave123-py/Groundwise/internal/api/middlewares"
	"github.com/markdave123-py/Groundwise/internal/core/postprocess"
	"github.com/markdave123-py/Groundwise/internal/core/streaming"
	"github.com/markdave123-py/Groundwise/internal/models"
	"github.com/markdave123-py/Groundwise/internal/services"
)

const maxAttachmentBytes = 10 << 20

// ChatService is what the chat endpoints need from services.ChatService.
type ChatService interface {
	CreateSession(ctx context.Context, userID, title string) (*models.ChatSession, error)
	ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error)
	Session(ctx context.Context, userID, sessionID string) (*services.SessionView, error)
	Ask(ctx context.Context, req services.AskRequest, hooks services.AskHooks) (*services.AskResult, error)
	Cancel(ctx context.Context, userID, responseID string) error
	Export(ctx context.Context, userID, sessionID string) (string, error)
	ExportedTranscript(ctx context.Context, userID, sessionID string) ([]byte, error)
	Search(ctx context.Context, userID, query string, limit int) ([]models.MessageMatch, error)
}

type ChatHandler struct {
	chat ChatService
}

func NewChatHandler(chat ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type createSessionRequest struct {
	Title string `json:"title"`
}

func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := appMiddleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	sess, err := h.chat.CreateSession(r.Context(), userID, req.Title)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := appMiddleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessions, err := h.chat.ListSessions(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.ChatSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := appMiddleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	view, err := h.chat.Session(r.Context(), userID, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type askRequest struct {
	Query string `json:"query"`
}

type deltaEvent struct {
	Prose     string           `json:"prose"`
	Direction models.Direction `json:"direction"`
}

type finalEvent struct {
	ResponseID string                      `json:"response_id"`
	MessageID  string                      `json:"message_id"`
	Prose      string                      `json:"prose"`
	Table      *models.ComparisonTableData `json:"table"`
	Direction  models.Direction            `json:"direction"`
	Sources    []models.Source             `json:"sources"`
	Citations  []models.Citation           `json:"citations"`
}

// Ask streams an answer as server-sent events: start, zero or more delta,
// then one of final, aborted or error. Failures before the response starts
// are plain JSON errors.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	userID, ok := appMiddleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	req, err := parseAsk(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = userID
	req.SessionID = chi.URLParam(r, "sessionID")

	sse := &eventWriter{w: w, flusher: flusher}
	res, err := h.chat.Ask(r.Context(), req, services.AskHooks{
		OnStart: func(responseID string) {
			sse.open()
			sse.send("start", map[string]string{"response_id": responseID})
		},
		OnLive: func(prose string) {
			sse.send("delta", deltaEvent{Prose: prose, Direction: postprocess.Classify(prose)})
		},
	})

	switch {
	case err == nil:
		sse.send("final", finalEvent{
			ResponseID: res.ResponseID,
			MessageID:  res.MessageID,
			Prose:      res.Rendered.Prose,
			Table:      res.Rendered.Table,
			Direction:  res.Rendered.Direction,
			Sources:    res.View.Sources,
			Citations:  res.View.Citations,
		})
	case !sse.opened:
		writeServiceError(w, err)
	case errors.Is(err, streaming.ErrAborted):
		sse.send("aborted", map[string]string{"reason": err.Error()})
	default:
		logrus.WithError(err).WithField("session_id", req.SessionID).Error("ask failed")
		sse.send("error", map[string]string{"error": "internal error"})
	}
}

func (h *ChatHandler) CancelResponse(w http.ResponseWriter, r *http.Request) {
	userID, ok := appMiddleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.chat.Cancel(r.Context(), userID, chi.URLParam(r, "responseID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID, ok := appMiddleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	url, err := h.chat.Export(r.Context(), userID, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// DownloadExport serves the transcript last written by Export.
func (h *ChatHandler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	userID, ok := appMiddleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	data, err := h.chat.ExportedTranscript(r.Context(), userID, sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", services.TranscriptContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": sessionID + ".md"}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *ChatHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := appMiddleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	matches, err := h.chat.Search(r.Context(), userID, r.URL.Query().Get("q"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if matches == nil {
		matches = []models.MessageMatch{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// parseAsk reads a JSON body or a multipart form with a query field and an
// optional file.
func parseAsk(w http.ResponseWriter, r *http.Request) (services.AskRequest, error) {
	var req services.AskRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var body askRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return req, errors.New("invalid body")
		}
		req.Query = body.Query
		return req, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAttachmentBytes+(1<<20))
	if err := r.ParseMultipartForm(maxAttachmentBytes); err != nil {
		return req, fmt.Errorf("invalid form: %w", err)
	}
	req.Query = r.FormValue("query")

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return req, fmt.Errorf("invalid file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return req, fmt.Errorf("read file: %w", err)
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Attachment = &services.Attachment{
		Name:        filepath.Base(header.Filename),
		ContentType: contentType,
		Data:        data,
	}
	return req, nil
}

// eventWriter writes text/event-stream frames.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	opened  bool
}

func (e *eventWriter) open() {
	if e.opened {
		return
	}
	e.opened = true
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	e.w.WriteHeader(http.StatusOK)
}

func (e *eventWriter) send(event string, data any) {
	e.open()
	payload, err := json.Marshal(data)
	if err != nil {
		logrus.WithError(err).WithField("event", event).Error("encode event")
		return
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return
	}
	e.flusher.Flush()
}
