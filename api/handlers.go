/*
handlers.go - HTTP API handlers for the savings round engine

PURPOSE:
  Exposes the round lifecycle engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Rounds:
    POST   /api/groups/{groupID}/rounds   Create round
    GET    /api/groups/{groupID}/rounds   List group rounds
    PUT    /api/rounds/{id}               Edit upcoming round
    DELETE /api/rounds/{id}               Delete upcoming round

  Slots:
    POST   /api/rounds/{id}/slots         Generate slot set
    GET    /api/rounds/{id}/slots         List slots
    DELETE /api/rounds/{id}/slots         Reset slot set

  Contributions:
    POST   /api/slots/{id}/contributions  Submit contribution

  Admin:
    POST   /api/admin/tick                Run one tick pass now
    GET    /api/health                    Liveness probe

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate structural input (dates parse, amounts parse)
  3. Call the engine
  4. Serialize response
  5. Map domain errors to HTTP status

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Round/slot/rule not found
  - 409: Invariant conflicts (already generated, already settled,
         overlap, not editable, status regression)
  - 503: Transient store failures (safe to retry)
  - 500: Everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ikimina/engine.go: The operations behind these handlers
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/umusanzu/ikimina-engine/ikimina"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ikimina.Engine
	Log    *logrus.Logger
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *ikimina.Engine, log *logrus.Logger) *Handler {
	return &Handler{Engine: engine, Log: log}
}

// =============================================================================
// ROUND HANDLERS
// =============================================================================

// CreateRound creates a round for a group.
// POST /api/groups/{groupID}/rounds
func (h *Handler) CreateRound(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req CreateRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := ikimina.ParseCivilDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date, expected YYYY-MM-DD", err)
		return
	}

	round, err := h.Engine.CreateRound(r.Context(), ikimina.CreateRoundInput{
		GroupID:   ikimina.GroupID(groupID),
		StartDate: start,
		Frequency: ikimina.Frequency(req.Frequency),
		AllowedDays: ikimina.AllowedDays{
			Weekdays:    req.Weekdays,
			DaysOfMonth: req.DaysOfMonth,
		},
		CycleCount: req.CycleCount,
	})
	if err != nil {
		writeDomainError(w, "Failed to create round", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRoundDTO(*round))
}

// ListRounds returns a group's rounds ordered by start date.
// GET /api/groups/{groupID}/rounds
func (h *Handler) ListRounds(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	rounds, err := h.Engine.ListRounds(r.Context(), ikimina.GroupID(groupID))
	if err != nil {
		writeDomainError(w, "Failed to list rounds", err)
		return
	}

	dtos := make([]RoundDTO, len(rounds))
	for i, round := range rounds {
		dtos[i] = toRoundDTO(round)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// EditRound updates an upcoming round.
// PUT /api/rounds/{id}
func (h *Handler) EditRound(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req EditRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var input ikimina.EditRoundInput
	if req.StartDate != nil {
		start, err := ikimina.ParseCivilDate(*req.StartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start_date, expected YYYY-MM-DD", err)
			return
		}
		input.StartDate = &start
	}
	input.CycleCount = req.CycleCount
	if req.Weekdays != nil || req.DaysOfMonth != nil {
		input.AllowedDays = &ikimina.AllowedDays{
			Weekdays:    req.Weekdays,
			DaysOfMonth: req.DaysOfMonth,
		}
	}

	round, err := h.Engine.EditRound(r.Context(), ikimina.RoundID(id), input)
	if err != nil {
		writeDomainError(w, "Failed to edit round", err)
		return
	}
	writeJSON(w, http.StatusOK, toRoundDTO(*round))
}

// DeleteRound deletes an upcoming round and its slots.
// DELETE /api/rounds/{id}
func (h *Handler) DeleteRound(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Engine.DeleteRound(r.Context(), ikimina.RoundID(id)); err != nil {
		writeDomainError(w, "Failed to delete round", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SLOT HANDLERS
// =============================================================================

// GenerateSlots expands a round into its full slot set.
// POST /api/rounds/{id}/slots
func (h *Handler) GenerateSlots(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	slots, err := h.Engine.GenerateSlots(r.Context(), ikimina.RoundID(id))
	if err != nil {
		writeDomainError(w, "Failed to generate slots", err)
		return
	}

	dtos := make([]SlotDTO, len(slots))
	for i, slot := range slots {
		dtos[i] = toSlotDTO(slot)
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// ListSlots returns a round's slots ordered by date and time.
// GET /api/rounds/{id}/slots
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	slots, err := h.Engine.ListSlots(r.Context(), ikimina.RoundID(id))
	if err != nil {
		writeDomainError(w, "Failed to list slots", err)
		return
	}

	dtos := make([]SlotDTO, len(slots))
	for i, slot := range slots {
		dtos[i] = toSlotDTO(slot)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResetSlots deletes an upcoming round's slot set.
// DELETE /api/rounds/{id}/slots
func (h *Handler) ResetSlots(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Engine.ResetSlots(r.Context(), ikimina.RoundID(id)); err != nil {
		writeDomainError(w, "Failed to reset slots", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CONTRIBUTION HANDLERS
// =============================================================================

// SubmitContribution records a member's contribution against a slot.
// POST /api/slots/{id}/contributions
func (h *Handler) SubmitContribution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SubmitContributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	var submittedAt time.Time
	if req.SubmittedAt != "" {
		submittedAt, err = time.Parse(time.RFC3339, req.SubmittedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid submitted_at, expected RFC 3339", err)
			return
		}
	}

	activity, err := h.Engine.SubmitContribution(r.Context(),
		ikimina.SlotID(id), ikimina.MemberID(req.MemberID), amount, submittedAt)
	if err != nil {
		writeDomainError(w, "Failed to record contribution", err)
		return
	}
	writeJSON(w, http.StatusCreated, toActivityDTO(*activity))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerTick runs one tick pass immediately.
// POST /api/admin/tick
func (h *Handler) TriggerTick(w http.ResponseWriter, r *http.Request) {
	report := h.Engine.Tick(r.Context())
	writeJSON(w, http.StatusOK, TickReportDTO{
		Groups:       report.Groups,
		Skipped:      report.Skipped,
		Failed:       report.Failed,
		SlotsUpdated: report.SlotsUpdated,
	})
}

// Health is the liveness probe.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the engine's error taxonomy to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ikimina.IsValidation(err):
		writeError(w, http.StatusBadRequest, message, err)
	case ikimina.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ikimina.IsInvariantViolation(err):
		writeError(w, http.StatusConflict, message, err)
	case ikimina.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
