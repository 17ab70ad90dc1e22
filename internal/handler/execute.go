// Package handler contains the HTTP handlers for the coderunner API.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (URL params, query, JSON body)
// 2. Call the service layer
// 3. Write the HTTP response (status code, JSON body)
//
// Handlers hold no business logic. Validation and history live in the
// service package; status codes for failures are chosen in writeError.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coderscreen/coderunner/internal/apperror"
	"github.com/coderscreen/coderunner/internal/model"
)

// maxBodyBytes leaves room for JSON escaping on top of the service's code limit.
const maxBodyBytes = 1 << 20

// ExecutionService is the part of service.ExecutionService the handlers use.
// Declared here, where it is consumed, so tests can pass a fake.
type ExecutionService interface {
	Execute(ctx context.Context, roomID, language, code string) (*model.ExecutionResult, error)
	GetByID(ctx context.Context, roomID, id string) (*model.ExecutionRecord, error)
	ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]model.ExecutionRecord, error)
}

// ExecuteHandler serves code execution and the room's execution history.
type ExecuteHandler struct {
	svc    ExecutionService
	logger *slog.Logger
}

// NewExecuteHandler creates a new ExecuteHandler.
func NewExecuteHandler(svc ExecutionService, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		svc:    svc,
		logger: logger,
	}
}

// executeRequest is the body of POST /api/rooms/{roomID}/execute. The room
// comes from the URL, never from the body.
type executeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// HandleExecute runs code in the room's sandbox.
//
// HTTP: POST /api/rooms/{roomID}/execute
// REQUEST BODY: {"language": "python", "code": "print('hi')"}
//
// A program that fails to compile or exits non-zero is still a 200: the
// failure is in the result (success=false, stderr, exitCode).
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var req executeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	result, err := h.svc.Execute(r.Context(), roomID, req.Language, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleList returns the room's executions, newest first.
//
// HTTP: GET /api/rooms/{roomID}/executions?limit=20&offset=0
func (h *ExecuteHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := h.svc.ListByRoom(r.Context(), roomID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []model.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleGetByID returns one execution of the room.
//
// HTTP: GET /api/rooms/{roomID}/executions/{id}
func (h *ExecuteHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "roomID"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// queryInt reads an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be an integer")
	}
	return v, nil
}
