package server

import (
	"encoding/json"
	"net/http"

	"github.com/ahmethakanbesel/quotecache/internal/apperror"
)

type APIResponse[T any] struct {
	Message string        `json:"message"`
	Code    apperror.Code `json:"code,omitempty"`
	Data    T             `json:"data"`
}

func writeJSON[T any](w http.ResponseWriter, status int, data T) {
	writeEnvelope(w, status, APIResponse[T]{Message: "ok", Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, APIResponse[string]{Message: message})
}

func writeAppError(w http.ResponseWriter, ae *apperror.AppError) {
	writeEnvelope(w, ae.HTTPStatus(), APIResponse[string]{Message: ae.Message(), Code: ae.Code()})
}

func writeEnvelope[T any](w http.ResponseWriter, status int, body APIResponse[T]) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
