package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

type contextKey string

const (
	contextSubjectKey contextKey = "sub"
	contextRoleKey    contextKey = "role"
)

// Stable machine-readable error codes surfaced next to the human message.
const (
	codeInvalidRequestBody       = "invalid_request_body"
	codeValidation               = "validation_error"
	codeDuplicateEmail           = "duplicate_email"
	codeInvalidCredentials       = "invalid_credentials"
	codeUnauthenticated          = "unauthenticated"
	codeForbidden                = "forbidden"
	codeNotFound                 = "not_found"
	codeAlreadyRegistered        = "already_registered"
	codeNotRegistered            = "not_registered"
	codeCancellationWindowClosed = "cancellation_window_closed"
	codeInvalidOrExpiredToken    = "invalid_or_expired_token"
	codeStorageUnavailable       = "storage_unavailable"
	codeInternalError            = "internal_error"
)

// ErrorResponse is the error payload for every failure path.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// MessageResponse is a plain confirmation payload.
type MessageResponse struct {
	Message string `json:"message"`
}

func userIDFromContext(ctx context.Context) (int, error) {
	value := ctx.Value(contextSubjectKey)
	switch subject := value.(type) {
	case int:
		if subject < 1 {
			return 0, errors.New("invalid subject")
		}
		return subject, nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(subject))
		if err != nil || parsed < 1 {
			return 0, errors.New("invalid subject")
		}
		return parsed, nil
	default:
		return 0, errors.New("missing subject")
	}
}

func roleFromContext(ctx context.Context) (string, error) {
	role, ok := ctx.Value(contextRoleKey).(string)
	if !ok || strings.TrimSpace(role) == "" {
		return "", errors.New("missing role")
	}
	return role, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func parsePagination(r *http.Request) (page, limit, offset int, err error) {
	page = defaultPage
	limit = defaultLimit

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, 0, errors.New("invalid page")
		}
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, 0, errors.New("invalid limit")
		}
	}

	if limit > maxLimit {
		limit = maxLimit
	}

	offset = (page - 1) * limit
	return page, limit, offset, nil
}
