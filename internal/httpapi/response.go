package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrEthical07/authcore"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail})
}

// statusFor maps an engine error kind onto an HTTP status.
func statusFor(err error) int {
	switch authcore.KindOf(err) {
	case authcore.KindInvalidRequest, authcore.KindInvalidCredentials:
		return http.StatusBadRequest
	case authcore.KindDuplicateAccount:
		return http.StatusConflict
	case authcore.KindInvalid, authcore.KindUnauthorized:
		return http.StatusUnauthorized
	case authcore.KindNotFound:
		return http.StatusNotFound
	case authcore.KindRateLimited:
		return http.StatusTooManyRequests
	case authcore.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError renders err without its cause. Only the kind, reason and fixed message
// reach the client.
func writeEngineError(w http.ResponseWriter, err error) {
	kind := authcore.KindOf(err)
	code := kind.String()
	detail := "internal error"

	var e *authcore.Error
	if errors.As(err, &e) {
		if e.Reason != "" {
			code = e.Reason
		}
		detail = (&authcore.Error{Kind: e.Kind, Reason: e.Reason}).Error()
	}

	switch kind {
	case authcore.KindInvalidCredentials:
		detail = "Incorrect email or password"
	case authcore.KindUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	case authcore.KindRateLimited:
		w.Header().Set("Retry-After", "60")
	}
	writeError(w, statusFor(err), code, detail)
}
