package web

// errors.go turns handler errors into responses.
//
// The flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err)
//  3. importer.MapError picks the user message and code; the code picks the status
//  4. The technical error is logged with the request id for correlation
//  5. The user message is rendered as JSON, an HTMX partial, or plain text

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/drillplan/internal/importer"
	"github.com/JonMunkholm/drillplan/internal/web/templates"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// busyRetryAfter is sent with 503 responses when every import slot is taken.
const busyRetryAfter = 5

// statusForCode maps catalogue codes that need something other than the
// status implied by their prefix.
var statusForCode = map[string]int{
	"FILE001": http.StatusRequestEntityTooLarge,
	"FILE007": http.StatusRequestEntityTooLarge,
	"IMP001":  http.StatusServiceUnavailable,
	"IMP002":  499, // client closed request
	"IMP003":  http.StatusGatewayTimeout,
	"AUTH001": http.StatusUnauthorized,
	"RATE001": http.StatusTooManyRequests,
}

// statusFor returns the HTTP status for an error's catalogue code.
func statusFor(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	switch {
	case strings.HasPrefix(code, "VAL"), strings.HasPrefix(code, "FILE"):
		return http.StatusBadRequest
	case code == "DB001":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the user-facing message in the format
// the client asked for.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		err = importer.ErrFileTooLarge
	}

	userMsg := importer.MapError(err)
	status := statusFor(userMsg.Code)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(busyRetryAfter))
	}

	switch {
	case isHTMX(r):
		renderErrorPartial(w, r, userMsg, status)
	case wantsJSON(r):
		respondErrorJSON(w, userMsg, status)
	default:
		http.Error(w, userMsg.Message+" ("+userMsg.Code+")", status)
	}
}

func respondErrorJSON(w http.ResponseWriter, msg importer.UserMessage, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// renderErrorPartial renders an HTMX error fragment.
func renderErrorPartial(w http.ResponseWriter, r *http.Request, msg importer.UserMessage, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w); err != nil {
		slog.Error("render error partial", "error", err)
	}
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON reports whether the client prefers JSON. API routes default to JSON.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json") ||
		strings.HasPrefix(r.URL.Path, "/api/")
}
