package screening

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/psychiatrai/pkg/logging"
)

const (
	defaultMaxUploadBytes = 20 << 20
	multipartMemory       = 8 << 20
)

// Processor is the part of Service the HTTP layer needs.
type Processor interface {
	ProcessTurn(ctx context.Context, in TurnInput) (*TurnResult, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
}

// Handler wires HTTP requests to the screening service.
type Handler struct {
	service        Processor
	logger         *logging.Logger
	maxUploadBytes int64
}

// NewHandler creates a screening handler. maxUploadBytes <= 0 uses the default.
func NewHandler(service Processor, logger *logging.Logger, maxUploadBytes int64) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		service:        service,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// ReceiveInput handles POST /api/receive_input.
func (h *Handler) ReceiveInput(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodeTurn(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Warn("failed to decode turn", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.ProcessTurn(r.Context(), in)
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("failed to process turn", "session_id", in.SessionID, "error", err)
		}
		http.Error(w, msg, status)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// GetSession handles GET /api/sessions/{sessionID}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	sess, err := h.service.GetSession(r.Context(), sessionID)
	if err != nil {
		status, msg := statusFor(err)
		http.Error(w, msg, status)
		return
	}

	h.writeJSON(w, http.StatusOK, struct {
		*Session
		State State `json:"state"`
	}{Session: sess, State: sess.State()})
}

func (h *Handler) decodeTurn(w http.ResponseWriter, r *http.Request) (TurnInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := parseForm(r); err != nil {
		return TurnInput{}, err
	}

	in := TurnInput{
		Modality:    Modality(strings.ToLower(strings.TrimSpace(r.FormValue("type")))),
		TextContent: r.FormValue("text_content"),
		SessionID:   strings.TrimSpace(r.FormValue("session_id")),
		TurnCount:   -1,
	}

	if raw := strings.TrimSpace(r.FormValue("message_number")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return TurnInput{}, errors.New("message_number must be an integer")
		}
		in.TurnCount = n
	}

	if in.Modality.IsMedia() {
		media, err := readMedia(r, in.Modality)
		if err != nil {
			return TurnInput{}, err
		}
		in.Media = media
	}
	return in, nil
}

// parseForm parses multipart bodies with ParseMultipartForm and everything
// else with ParseForm so body errors are never dropped.
func parseForm(r *http.Request) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return r.ParseMultipartForm(multipartMemory)
	}
	return r.ParseForm()
}

func readMedia(r *http.Request, modality Modality) (*Media, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	file, header, err := r.FormFile("file_content")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = modality.DefaultMIMEType()
	}
	return &Media{
		MIMEType: mimeType,
		Filename: header.Filename,
		Data:     data,
	}, nil
}

// statusFor maps service errors to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	var violation *SchemaViolationError
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrInvalidSessionState):
		return http.StatusConflict, "Session is already terminated"
	case errors.Is(err, ErrModelCall):
		return http.StatusServiceUnavailable, "Model unavailable, please retry"
	case errors.As(err, &violation), errors.Is(err, ErrSchemaViolation):
		return http.StatusBadGateway, "Model returned an invalid reply, please retry"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Session is busy, please retry"
	default:
		return http.StatusInternalServerError, "Failed to process turn"
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
