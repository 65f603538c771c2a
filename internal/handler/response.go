package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"access-service/internal/service"
	"access-service/internal/util"
)

// maxJSONBody bounds every JSON request body.
const maxJSONBody = 1 << 20

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

func (h *AccessHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError writes the envelope for err. Internal errors are logged
// in full and reported to the caller without detail.
func (h *AccessHandler) respondWithError(w http.ResponseWriter, err error, message string) {
	statusCode := getStatusCode(err)
	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", statusCode),
			util.String("message", message),
		)
		h.respondWithJSON(w, statusCode, errorResponse(errors.New("internal error"), message))
		return
	}
	h.logger.Debug("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrPolicyDenied):
		return http.StatusForbidden
	case errors.Is(err, service.ErrQuotaExceeded), errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrAccountNotFound), errors.Is(err, service.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrChallengeInvalid), errors.Is(err, service.ErrChallengeRequired):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInvalidSignature), errors.Is(err, service.ErrOrderMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body into dst and validates it.
func (h *AccessHandler) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", service.ErrInvalidInput)
		}
		return fmt.Errorf("%w: malformed JSON: %v", service.ErrInvalidInput, err)
	}
	return h.validateStruct(dst)
}

func (h *AccessHandler) validateStruct(v interface{}) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("field %s failed on the '%s' tag", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", service.ErrInvalidInput, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", service.ErrInvalidInput, fmt.Sprintf(format, args...))
}
