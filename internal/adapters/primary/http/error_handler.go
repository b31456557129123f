package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	mw "github.com/teamgrid/realtime-hub/internal/adapters/primary/http/middleware"
	apperrors "github.com/teamgrid/realtime-hub/internal/core/errors"
)

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	return mw.GetRequestID(ctx)
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler creates a new error handler with the given logger
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle processes an error and writes the appropriate HTTP response
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	requestID := GetRequestID(r.Context())

	// Check for AppError first (our custom error type)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.logError(r, appErr.StatusCode, appErr.Err, requestID)
		WriteJSON(w, appErr.StatusCode, ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		})
		return
	}

	statusCode, response := h.mapDomainError(err)
	h.logError(r, statusCode, err, requestID)
	WriteJSON(w, statusCode, response)
}

// mapDomainError converts domain errors to HTTP status codes and responses
func (h *ErrorHandler) mapDomainError(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, apperrors.ErrMissingCredential),
		errors.Is(err, apperrors.ErrInvalidCredential),
		errors.Is(err, apperrors.ErrExpiredCredential):
		return http.StatusUnauthorized, ErrorResponse{
			Error: "Invalid or expired credential",
			Code:  "UNAUTHORIZED",
		}

	case errors.Is(err, apperrors.ErrUnknownEventType),
		errors.Is(err, apperrors.ErrMissingOrgScope),
		errors.Is(err, apperrors.ErrMissingProject),
		errors.Is(err, apperrors.ErrMissingChannel),
		errors.Is(err, apperrors.ErrMissingTarget),
		errors.Is(err, apperrors.ErrInvalidStatus):
		return http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(),
			Code:  "MALFORMED_EVENT",
		}

	case errors.Is(err, apperrors.ErrHubQueueFull):
		return http.StatusServiceUnavailable, ErrorResponse{
			Error: "Hub is overloaded, try again later",
			Code:  "OVERLOADED",
		}

	case errors.Is(err, apperrors.ErrHubStopped):
		return http.StatusServiceUnavailable, ErrorResponse{
			Error: "Hub is shutting down",
			Code:  "UNAVAILABLE",
		}

	default:
		return http.StatusInternalServerError, ErrorResponse{
			Error: "An unexpected error occurred",
			Code:  "INTERNAL_ERROR",
		}
	}
}

func (h *ErrorHandler) logError(r *http.Request, statusCode int, err error, requestID string) {
	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", err,
	}
	if requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}

	if statusCode >= 500 {
		h.logger.Error("request failed", attrs...)
	} else {
		h.logger.Warn("request rejected", attrs...)
	}
}
