package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bz888/labchain-ml/internal/logger"
	"github.com/bz888/labchain-ml/internal/protocol"
)

var (
	errNotObject    = errors.New("request body must be a JSON object")
	errTrailingData = errors.New("unexpected data after JSON body")
)

type Handler struct {
	standardizer protocol.Standardizer
	log          *logger.Logger
	maxBodyBytes int64
	observeSteps func(int)
}

type Option func(*Handler)

// WithStepObserver is called with the step count of every successful
// standardization.
func WithStepObserver(fn func(int)) Option {
	return func(h *Handler) { h.observeSteps = fn }
}

// WithMaxBodyBytes caps the request body. Zero means no cap.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) { h.maxBodyBytes = n }
}

func NewHandler(standardizer protocol.Standardizer, log *logger.Logger, opts ...Option) *Handler {
	h := &Handler{
		standardizer: standardizer,
		log:          log.WithTag("handlers"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", Service: ServiceName})
}

func (h *Handler) StandardizeHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if h.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}

	body, err := decodeObject(r.Body)
	if err != nil {
		h.log.Warn("Failed to decode standardize body", "error", err)
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rawText, ok := stringField(body, "rawText")
	if !ok || strings.TrimSpace(rawText) == "" {
		WriteError(w, http.StatusBadRequest, protocol.ErrEmptyText.Error())
		return
	}

	req := protocol.Request{RawText: rawText}
	if id, ok := stringField(body, "experimentId"); ok {
		req.ExperimentID = &id
	}

	result, err := h.standardizer.Standardize(req)
	if err != nil {
		if errors.Is(err, protocol.ErrEmptyText) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("Standardize failed", "error", err)
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.observeSteps != nil {
		h.observeSteps(len(result.Protocol.Steps))
	}
	h.log.Debug("Standardized protocol", "steps", len(result.Protocol.Steps))
	WriteJSON(w, http.StatusOK, result)
}

func decodeObject(r io.Reader) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(r)
	var body map[string]json.RawMessage
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errNotObject
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errTrailingData
	}
	return body, nil
}

// stringField reports false when key is absent, null or not a JSON string.
// Callers treat all three as a missing field.
func stringField(body map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := body[key]
	if !ok || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
