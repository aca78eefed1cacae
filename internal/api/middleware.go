package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	apperrors "github.com/onaplatform/ona-api/internal/errors"
	"github.com/onaplatform/ona-api/internal/logging"
	"github.com/onaplatform/ona-api/internal/utils"
	"github.com/rs/zerolog/log"
)

// APIError represents a structured API error response
type APIError struct {
	ErrorMessage string            `json:"error"`
	Code         string            `json:"code,omitempty"`
	StatusCode   int               `json:"status_code"`
	Timestamp    int64             `json:"timestamp"`
	RequestID    string            `json:"request_id,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.ErrorMessage
}

// errorCodes maps the error taxonomy onto the codes clients see.
var errorCodes = map[apperrors.ErrorType]string{
	apperrors.ErrorTypeNotFound:   "not_found",
	apperrors.ErrorTypeValidation: "invalid_input",
	apperrors.ErrorTypeDependency: "dependency_failure",
	apperrors.ErrorTypeTimeout:    "timeout",
	apperrors.ErrorTypeAuth:       "unauthorized",
	apperrors.ErrorTypeForbidden:  "forbidden",
	apperrors.ErrorTypeLimit:      "limit_exceeded",
	apperrors.ErrorTypeQuota:      "quota_exceeded",
	apperrors.ErrorTypeAlgorithm:  "not_converged",
	apperrors.ErrorTypeInternal:   "internal_error",
}

// ErrorHandler is a middleware that handles panics and errors
func ErrorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" {
			r.URL.Path = "/"
		}

		incomingID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		ctxWithID, requestID := logging.WithRequestID(r.Context(), incomingID)
		r = r.WithContext(ctxWithID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		rw.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		routeLabel := normalizeRoute(r.URL.Path)
		method := r.Method

		defer func() {
			recordAPIRequest(method, routeLabel, rw.StatusCode(), time.Since(start))
		}()

		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Str("request_id", requestID).
					Bytes("stack", debug.Stack()).
					Msg("Panic recovered in API handler")

				writeErrorResponse(rw, http.StatusInternalServerError, "internal_error",
					"An unexpected error occurred", requestID, nil)
			}
		}()

		next.ServeHTTP(rw, r)

		if rw.statusCode >= 400 {
			log.Warn().
				Str("path", r.URL.Path).
				Str("method", r.Method).
				Int("status", rw.statusCode).
				Str("request_id", requestID).
				Dur("duration", time.Since(start)).
				Msg("Request failed")
		} else {
			log.Debug().
				Str("path", r.URL.Path).
				Str("method", r.Method).
				Int("status", rw.statusCode).
				Dur("duration", time.Since(start)).
				Msg("Request handled")
		}
	})
}

// securityHeaders adds the standard hardening headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeError converts err into the JSON error envelope. Client errors echo
// the underlying message; server-side failures are logged and replaced by
// a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// Client went away; nobody is listening for the envelope.
		return
	}

	errType := apperrors.TypeOf(err)
	status := apperrors.HTTPStatus(err)
	requestID := logging.RequestIDFromContext(r.Context())

	message := clientMessage(err)
	details := map[string]string{}
	var opErr *apperrors.OpError
	if errors.As(err, &opErr) {
		details["op"] = opErr.Op
		if opErr.Tenant != "" {
			details["tenant_id"] = opErr.Tenant
		}
		if opErr.Retryable {
			details["retryable"] = "true"
		}
	}

	switch errType {
	case apperrors.ErrorTypeDependency, apperrors.ErrorTypeTimeout, apperrors.ErrorTypeInternal:
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request error")
		message = genericMessage(errType)
	}
	if len(details) == 0 {
		details = nil
	}
	writeErrorResponse(w, status, errorCodes[errType], message, requestID, details)
}

func clientMessage(err error) string {
	var opErr *apperrors.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return opErr.Err.Error()
	}
	return err.Error()
}

func genericMessage(t apperrors.ErrorType) string {
	switch t {
	case apperrors.ErrorTypeDependency:
		return "An upstream dependency failed"
	case apperrors.ErrorTypeTimeout:
		return "The request timed out"
	default:
		return "An unexpected error occurred"
	}
}

// writeErrorResponse writes a consistent error response
func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message, requestID string, details map[string]string) {
	resp := APIError{
		ErrorMessage: message,
		Code:         code,
		StatusCode:   statusCode,
		Timestamp:    time.Now().Unix(),
		RequestID:    requestID,
		Details:      details,
	}
	if err := utils.WriteJSONResponse(w, statusCode, resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// writeJSON writes a success payload, falling back to a 500 envelope when
// the payload cannot be encoded.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if err := utils.WriteJSONResponse(w, status, data); err != nil {
		writeError(w, r, fmt.Errorf("encode response: %w", err))
	}
}

// responseWriter wraps http.ResponseWriter to capture status codes
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.ResponseWriter.WriteHeader(code)
		rw.written = true
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) StatusCode() int {
	if rw == nil {
		return http.StatusInternalServerError
	}
	return rw.statusCode
}

// Hijack implements http.Hijacker so websocket upgrades pass through.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("ResponseWriter does not implement http.Hijacker")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	rw.written = true
	return hijacker.Hijack()
}

// Flush implements http.Flusher when the underlying writer supports it.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
