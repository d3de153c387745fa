package handlers

import (
	"encoding/json"
	"net/http"
)

const ServiceName = "ml-server"

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// StandardizeRequest is the documented request body. The handler decodes
// fields one by one so that wrong types can be told apart from bad JSON.
type StandardizeRequest struct {
	RawText      string  `json:"rawText"`
	ExperimentID *string `json:"experimentId,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}
