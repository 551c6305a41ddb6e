package transport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/frahmantamala/repairshop/internal"
	"github.com/frahmantamala/repairshop/pkg/logger"
)

// BaseHandler provides common functionality for HTTP handlers
type BaseHandler struct {
	Logger *slog.Logger
}

// NewBaseHandler creates a base handler with logger
func NewBaseHandler(lg *slog.Logger) *BaseHandler {
	if lg == nil {
		lg = logger.LoggerWrapper()
		if lg == nil {
			lg = slog.Default()
		}
	}
	return &BaseHandler{Logger: lg}
}

// WriteJSON writes a JSON response
func (h *BaseHandler) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error("failed to encode JSON response", "error", err)
	}
}

// WriteError writes {"error": code, "message": ...}. Errors that are not an
// AppError become a 500 without leaking their text.
func (h *BaseHandler) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := internal.IsAppError(err)
	if !ok {
		appErr = internal.NewInternalError("Internal server error.", err)
	}

	status, body := appErr.ToHTTPResponse()
	lg := logger.From(r.Context())
	if status >= http.StatusInternalServerError {
		lg.Error("http error", "status", status, "code", appErr.Code, "error", err)
	} else {
		lg.Debug("http error", "status", status, "code", appErr.Code)
	}
	h.WriteJSON(w, status, body)
}

// DecodeJSON reads a single JSON object from the body into dst.
func (h *BaseHandler) DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return internal.ErrInvalidRequest
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return internal.NewValidationError("Request body too large.", internal.ErrCodeInvalidRequest)
		}
		return internal.ErrInvalidRequest.WithCause(err)
	}
	if dec.More() {
		return internal.ErrInvalidRequest
	}
	if _, err := dec.Token(); err != io.EOF {
		return internal.ErrInvalidRequest
	}
	return nil
}

// ExtractTokenFromHeader extracts Bearer token from Authorization header.
// The scheme is matched case-insensitively.
func (h *BaseHandler) ExtractTokenFromHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(authHeader[7:])
}
