// Package server exposes the engage API over HTTP: the visitor connect
// endpoint and engage message management.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/matt-riley/engage/internal/middleware"
	"github.com/matt-riley/engage/internal/repository"
	"github.com/matt-riley/engage/internal/service"
)

const defaultMaxJSONBodyBytes = 1 << 20

var errJSONBodyTooLarge = errors.New("json request body too large")

// Instrumentation receives per-request observations from the HTTP handler.
// The Prometheus implementation lives in internal/metrics.
type Instrumentation interface {
	ObserveHTTPRequest(method, route string, status int, seconds float64)
	Handler() http.Handler
}

type HTTPServer struct {
	service          Service
	instr            Instrumentation
	maxJSONBodyBytes int64
}

// HTTPOption configures the HTTP handler.
type HTTPOption func(*HTTPServer)

// WithMaxJSONBodySize bounds request body size in bytes.
func WithMaxJSONBodySize(n int64) HTTPOption {
	return func(s *HTTPServer) {
		if n > 0 {
			s.maxJSONBodyBytes = n
		}
	}
}

type connectJSONRequest struct {
	BrandCode  string              `json:"brand_code"`
	CustomerID string              `json:"customer_id"`
	Browser    service.BrowserInfo `json:"browser"`
}

type connectJSONResponse struct {
	Engagements []service.Engagement `json:"engagements"`
}

type setLiveJSONRequest struct {
	IsLive bool `json:"is_live"`
}

// NewHTTPHandler builds the HTTP routing for the engage API.
func NewHTTPHandler(svc Service, instr Instrumentation, opts ...HTTPOption) http.Handler {
	if svc == nil {
		panic("service is nil")
	}
	if instr == nil {
		panic("instrumentation is nil")
	}

	server := &HTTPServer{
		service:          svc,
		instr:            instr,
		maxJSONBodyBytes: defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/visitors/connect", server.handleConnect)
	mux.HandleFunc("POST /v1/engage-messages", server.handleCreateMessage)
	mux.HandleFunc("GET /v1/engage-messages", server.handleListMessages)
	mux.HandleFunc("GET /v1/engage-messages/{id}", server.handleGetMessage)
	mux.HandleFunc("PUT /v1/engage-messages/{id}", server.handleUpdateMessage)
	mux.HandleFunc("DELETE /v1/engage-messages/{id}", server.handleDeleteMessage)
	mux.HandleFunc("PUT /v1/engage-messages/{id}/live", server.handleSetLive)
	mux.HandleFunc("GET /healthz", server.handleHealthz)
	mux.Handle("GET /metrics", instr.Handler())

	return server.withInstrumentation(mux)
}

func (s *HTTPServer) withInstrumentation(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.instr.ObserveHTTPRequest(r.Method, route, recorder.status, time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	if !rec.written {
		rec.status = code
		rec.written = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if !rec.written {
		rec.status = http.StatusOK
		rec.written = true
	}
	return rec.ResponseWriter.Write(b)
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

func (s *HTTPServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	var request connectJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(request.BrandCode) == "" {
		writeJSONError(w, http.StatusBadRequest, "brand_code is required")
		return
	}
	if strings.TrimSpace(request.CustomerID) == "" {
		writeJSONError(w, http.StatusBadRequest, "customer_id is required")
		return
	}

	engagements, err := s.service.Connect(r.Context(), service.TriggerRequest{
		BrandCode:  request.BrandCode,
		CustomerID: request.CustomerID,
		Browser:    request.Browser,
		RemoteAddr: middleware.ClientIP(r),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, connectJSONResponse{Engagements: engagements})
}

func (s *HTTPServer) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var message repository.EngageMessage
	if err := s.decodeJSONBody(w, r, &message); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	created, err := s.service.CreateEngageMessage(r.Context(), message)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "id is required")
		return
	}

	message, err := s.service.GetEngageMessage(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, message)
}

func (s *HTTPServer) handleListMessages(w http.ResponseWriter, r *http.Request) {
	brandID := strings.TrimSpace(r.URL.Query().Get("brand_id"))
	if brandID == "" {
		writeJSONError(w, http.StatusBadRequest, "brand_id is required")
		return
	}

	messages, err := s.service.ListEngageMessages(r.Context(), brandID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

func (s *HTTPServer) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "id is required")
		return
	}

	var message repository.EngageMessage
	if err := s.decodeJSONBody(w, r, &message); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(message.ID) != "" && message.ID != id {
		writeJSONError(w, http.StatusBadRequest, "path id and body id must match")
		return
	}
	message.ID = id

	updated, err := s.service.UpdateEngageMessage(r.Context(), message)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := s.service.DeleteEngageMessage(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSetLive(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "id is required")
		return
	}

	var request setLiveJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	updated, err := s.service.SetEngageMessageLive(r.Context(), id, request.IsLive)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRules):
		writeJSONError(w, http.StatusBadRequest, serviceErrorMessage(err))
	case errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, service.ErrIntegrationNotFound),
		errors.Is(err, service.ErrCustomerNotFound):
		writeJSONError(w, http.StatusNotFound, serviceErrorMessage(err))
	case errors.Is(err, context.Canceled):
		writeJSONError(w, http.StatusRequestTimeout, serviceErrorMessage(err))
	default:
		writeJSONError(w, http.StatusInternalServerError, serviceErrorMessage(err))
	}
}

func serviceErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidRules):
		return "invalid rules"
	case errors.Is(err, service.ErrMessageNotFound):
		return "engage message not found"
	case errors.Is(err, service.ErrIntegrationNotFound):
		return "integration not found"
	case errors.Is(err, service.ErrCustomerNotFound):
		return "customer not found"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	default:
		return "internal server error"
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxJSONBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
