/*
handlers.go - HTTP API handlers for the feature-flag and experiment engine

PURPOSE:
  Exposes the flagging engine and experiment manager via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Flags:
    GET    /api/flags?tenant_id=        List flags for a tenant
    POST   /api/flags                   Create flag
    GET    /api/flags/{key}?tenant_id=  Get flag details
    PUT    /api/flags/{key}             Update flag definition
    POST   /api/flags/{key}/activate    Activate flag
    POST   /api/flags/{key}/deactivate  Deactivate flag
    POST   /api/flags/{key}/archive     Archive flag

  Evaluation:
    POST   /api/evaluate                Evaluate one flag
    POST   /api/evaluate/batch          Evaluate many flags for one subject

  Experiments:
    GET    /api/experiments?tenant_id=  List experiments
    POST   /api/experiments             Create experiment
    GET    /api/experiments/{id}        Get experiment
    POST   /api/experiments/{id}/start|pause|resume|stop|cancel
    POST   /api/experiments/{id}/assign     Assign participant
    POST   /api/experiments/{id}/convert    Track conversion
    GET    /api/experiments/{id}/results    Statistics snapshot
    GET    /api/experiments/{id}/participants Assignment breakdown

  Cache:
    POST   /api/cache/clear             Clear all cached evaluations
    POST   /api/cache/clear/{tenant}    Clear one tenant's evaluations

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Flag/experiment/participant not found
  - 409: Conflict (lifecycle state, duplicate assignment)
  - 500: Internal errors
  The evaluation endpoints never return domain errors: a broken store
  degrades to the fallback value with HTTP 200.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/feature-engine/experiments"
	"github.com/warp/feature-engine/factory"
	"github.com/warp/feature-engine/flagging"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *flagging.Engine
	Manager *experiments.Manager
	Factory *factory.DefinitionFactory
	Log     *zap.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(engine *flagging.Engine, manager *experiments.Manager, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Engine:  engine,
		Manager: manager,
		Factory: factory.NewDefinitionFactory(),
		Log:     log,
	}
}

// =============================================================================
// FLAG HANDLERS
// =============================================================================

// ListFlags returns all flags for a tenant.
func (h *Handler) ListFlags(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required", nil)
		return
	}

	flags, err := h.Engine.ListFlags(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list flags", err)
		return
	}

	dtos := make([]FlagDTO, len(flags))
	for i, f := range flags {
		dtos[i] = flagToDTO(h.Factory, f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetFlag returns a single flag definition.
func (h *Handler) GetFlag(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	key := chi.URLParam(r, "key")

	flag, err := h.Engine.GetFlag(r.Context(), tenantID, key)
	if err != nil {
		writeDomainError(w, "Failed to get flag", err)
		return
	}
	writeJSON(w, http.StatusOK, flagToDTO(h.Factory, flag))
}

// CreateFlag creates a new flag from its JSON definition.
func (h *Handler) CreateFlag(w http.ResponseWriter, r *http.Request) {
	var fj factory.FlagJSON
	if err := json.NewDecoder(r.Body).Decode(&fj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	flag, err := h.Factory.FlagFromJSON(fj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid flag definition", err)
		return
	}
	if err := h.Engine.CreateFlag(r.Context(), flag); err != nil {
		writeDomainError(w, "Failed to create flag", err)
		return
	}
	writeJSON(w, http.StatusCreated, flagToDTO(h.Factory, flag))
}

// UpdateFlag replaces a flag's definition.
func (h *Handler) UpdateFlag(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var fj factory.FlagJSON
	if err := json.NewDecoder(r.Body).Decode(&fj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	fj.Key = key

	flag, err := h.Factory.FlagFromJSON(fj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid flag definition", err)
		return
	}
	if err := h.Engine.UpdateFlag(r.Context(), flag); err != nil {
		writeDomainError(w, "Failed to update flag", err)
		return
	}
	writeJSON(w, http.StatusOK, flagToDTO(h.Factory, flag))
}

// ActivateFlag transitions a flag to active.
func (h *Handler) ActivateFlag(w http.ResponseWriter, r *http.Request) {
	h.setFlagStatus(w, r, h.Engine.ActivateFlag)
}

// DeactivateFlag transitions a flag to inactive.
func (h *Handler) DeactivateFlag(w http.ResponseWriter, r *http.Request) {
	h.setFlagStatus(w, r, h.Engine.DeactivateFlag)
}

// ArchiveFlag transitions a flag to archived.
func (h *Handler) ArchiveFlag(w http.ResponseWriter, r *http.Request) {
	h.setFlagStatus(w, r, h.Engine.ArchiveFlag)
}

func (h *Handler) setFlagStatus(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenantID, key string) error) {
	tenantID := r.URL.Query().Get("tenant_id")
	key := chi.URLParam(r, "key")

	if err := op(r.Context(), tenantID, key); err != nil {
		writeDomainError(w, "Failed to update flag status", err)
		return
	}
	flag, err := h.Engine.GetFlag(r.Context(), tenantID, key)
	if err != nil {
		writeDomainError(w, "Failed to reload flag", err)
		return
	}
	writeJSON(w, http.StatusOK, flagToDTO(h.Factory, flag))
}

// =============================================================================
// EVALUATION HANDLERS
// =============================================================================

// Evaluate resolves one flag for one subject. Always 200: store failures
// degrade to the fallback value.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TenantID == "" || req.FlagKey == "" || req.ContextID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id, flag_key and context_id are required", nil)
		return
	}

	result := h.Engine.Evaluate(r.Context(), toEvaluateRequest(req))
	writeJSON(w, http.StatusOK, result)
}

// EvaluateBatch resolves many flags for one subject in a single round trip.
func (h *Handler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchEvaluateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required", nil)
		return
	}

	reqs := make([]flagging.EvaluateRequest, len(req.Requests))
	for i, er := range req.Requests {
		er.TenantID = req.TenantID
		reqs[i] = toEvaluateRequest(er)
	}

	results := h.Engine.EvaluateMany(r.Context(), req.TenantID, reqs)
	writeJSON(w, http.StatusOK, results)
}

func toEvaluateRequest(dto EvaluateRequestDTO) flagging.EvaluateRequest {
	ctxType := flagging.ContextType(dto.ContextType)
	if ctxType == "" {
		ctxType = flagging.ContextUser
	}
	return flagging.EvaluateRequest{
		TenantID:    dto.TenantID,
		FlagKey:     dto.FlagKey,
		ContextType: ctxType,
		ContextID:   dto.ContextID,
		Data:        dto.Data,
		Fallback:    dto.Fallback,
	}
}

// =============================================================================
// EXPERIMENT HANDLERS
// =============================================================================

// ListExperiments returns experiments, optionally filtered by tenant/status.
func (h *Handler) ListExperiments(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	status := experiments.Status(r.URL.Query().Get("status"))

	exps, err := h.Manager.List(r.Context(), tenantID, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list experiments", err)
		return
	}

	dtos := make([]ExperimentDTO, len(exps))
	for i, exp := range exps {
		dtos[i] = experimentToDTO(h.Factory, exp)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetExperiment returns one experiment.
func (h *Handler) GetExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := h.Manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get experiment", err)
		return
	}
	writeJSON(w, http.StatusOK, experimentToDTO(h.Factory, exp))
}

// CreateExperiment creates a draft experiment from its JSON definition.
func (h *Handler) CreateExperiment(w http.ResponseWriter, r *http.Request) {
	var ej factory.ExperimentJSON
	if err := json.NewDecoder(r.Body).Decode(&ej); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	exp, err := h.Factory.ExperimentFromJSON(ej)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid experiment definition", err)
		return
	}
	if err := h.Manager.Create(r.Context(), exp); err != nil {
		writeDomainError(w, "Failed to create experiment", err)
		return
	}
	writeJSON(w, http.StatusCreated, experimentToDTO(h.Factory, exp))
}

// StartExperiment transitions draft -> running.
func (h *Handler) StartExperiment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Manager.Start)
}

// PauseExperiment transitions running -> paused.
func (h *Handler) PauseExperiment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Manager.Pause)
}

// ResumeExperiment transitions paused -> running.
func (h *Handler) ResumeExperiment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Manager.Resume)
}

// StopExperiment completes the experiment and freezes its results.
func (h *Handler) StopExperiment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Manager.Stop)
}

// CancelExperiment abandons the experiment without results.
func (h *Handler) CancelExperiment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Manager.Cancel)
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (*experiments.Experiment, error)) {
	exp, err := op(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to transition experiment", err)
		return
	}
	writeJSON(w, http.StatusOK, experimentToDTO(h.Factory, exp))
}

// AssignParticipant enrolls a subject, or returns the existing assignment.
func (h *Handler) AssignParticipant(w http.ResponseWriter, r *http.Request) {
	experimentID := chi.URLParam(r, "id")

	var req AssignRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "subject_id is required", nil)
		return
	}

	var session *experiments.SessionInfo
	if req.SessionID != "" || req.DeviceID != "" || len(req.UserAttributes) > 0 || len(req.DeviceInfo) > 0 {
		session = &experiments.SessionInfo{
			SessionID:      req.SessionID,
			DeviceID:       req.DeviceID,
			UserAttributes: req.UserAttributes,
			DeviceInfo:     req.DeviceInfo,
		}
	}

	p, err := h.Manager.AssignParticipant(r.Context(), experimentID, req.SubjectID, session)
	if err != nil {
		writeDomainError(w, "Failed to assign participant", err)
		return
	}

	exp, err := h.Manager.Get(r.Context(), experimentID)
	if err != nil {
		writeDomainError(w, "Failed to load experiment", err)
		return
	}
	writeJSON(w, http.StatusOK, participantToDTO(exp, p))
}

// TrackConversion records a conversion for an assigned subject. Unassigned
// or already-converted subjects are a silent no-op.
func (h *Handler) TrackConversion(w http.ResponseWriter, r *http.Request) {
	experimentID := chi.URLParam(r, "id")

	var req ConvertRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "subject_id is required", nil)
		return
	}

	var at time.Time
	if req.OccurredAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid occurred_at format (use RFC 3339)", err)
			return
		}
		at = parsed
	}

	if err := h.Manager.TrackConversion(r.Context(), experimentID, req.SubjectID, req.EventData, at); err != nil {
		writeDomainError(w, "Failed to track conversion", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "recorded"})
}

// ExperimentResults returns the statistics snapshot: frozen results for
// terminal experiments, a live computation otherwise.
func (h *Handler) ExperimentResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.Manager.Results(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to compute results", err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// ExperimentParticipants returns the per-status assignment breakdown.
func (h *Handler) ExperimentParticipants(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Manager.ParticipantStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get participant stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// =============================================================================
// CACHE HANDLERS
// =============================================================================

// ClearCache removes every cached evaluation.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.Engine.ClearCache(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

// ClearTenantCache removes one tenant's cached evaluations.
func (h *Handler) ClearTenantCache(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")
	h.Engine.ClearCacheForTenant(r.Context(), tenantID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "tenant_id": tenantID})
}

// =============================================================================
// RESPONSE HELPERS
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

// writeDomainError maps domain error classes to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case flagging.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case flagging.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case flagging.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
