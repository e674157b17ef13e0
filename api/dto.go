/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Defines the JSON shapes crossing the HTTP boundary, decoupled from the
  internal domain types. Handlers convert between DTOs and domain structs
  so the wire format can evolve independently of the engine.

CONVENTIONS:
  - Dates cross the wire as RFC 3339 strings ("2006-01-02" accepted on input)
  - Optional fields use omitempty
  - Error responses carry a stable "error" message plus optional "details"

SEE ALSO:
  - handlers.go: Conversion and validation logic
  - factory/definition.go: JSON definition schema shared with this layer
*/
package api

import (
	"time"

	"github.com/warp/feature-engine/experiments"
	"github.com/warp/feature-engine/factory"
	"github.com/warp/feature-engine/flagging"
)

// =============================================================================
// ERROR RESPONSE
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// FLAG DTOs
// =============================================================================

// FlagDTO is the API representation of a feature flag, including the
// running evaluation counters that the definition JSON omits.
type FlagDTO struct {
	factory.FlagJSON

	EvaluationCount         int64  `json:"evaluation_count"`
	PositiveEvaluationCount int64  `json:"positive_evaluation_count"`
	CreatedAt               string `json:"created_at,omitempty"`
	UpdatedAt               string `json:"updated_at,omitempty"`
}

func flagToDTO(fac *factory.DefinitionFactory, flag *flagging.FeatureFlag) FlagDTO {
	return FlagDTO{
		FlagJSON:                fac.FlagToJSON(flag),
		EvaluationCount:         flag.EvaluationCount,
		PositiveEvaluationCount: flag.PositiveEvaluationCount,
		CreatedAt:               flag.CreatedAt.Format(time.RFC3339),
		UpdatedAt:               flag.UpdatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// EVALUATION DTOs
// =============================================================================

// EvaluateRequestDTO asks for one flag decision.
type EvaluateRequestDTO struct {
	TenantID    string            `json:"tenant_id"`
	FlagKey     string            `json:"flag_key"`
	ContextType string            `json:"context_type,omitempty"` // defaults to user
	ContextID   string            `json:"context_id"`
	Data        map[string]string `json:"data,omitempty"`
	Fallback    any               `json:"fallback,omitempty"`
}

// BatchEvaluateRequestDTO asks for many flag decisions for one subject.
type BatchEvaluateRequestDTO struct {
	TenantID string               `json:"tenant_id"`
	Requests []EvaluateRequestDTO `json:"requests"`
}

// =============================================================================
// EXPERIMENT DTOs
// =============================================================================

// ExperimentDTO is the API representation of an experiment, including
// lifecycle timestamps and the frozen results snapshot when present.
type ExperimentDTO struct {
	factory.ExperimentJSON

	Status         string                       `json:"status"`
	StartDate      string                       `json:"start_date,omitempty"`
	EndDate        string                       `json:"end_date,omitempty"`
	PlannedEndDate string                       `json:"planned_end_date,omitempty"`
	Results        *experiments.ResultsSnapshot `json:"results,omitempty"`
	CreatedAt      string                       `json:"created_at,omitempty"`
	UpdatedAt      string                       `json:"updated_at,omitempty"`
}

func experimentToDTO(fac *factory.DefinitionFactory, exp *experiments.Experiment) ExperimentDTO {
	return ExperimentDTO{
		ExperimentJSON: fac.ExperimentToJSON(exp),
		Status:         string(exp.Status),
		StartDate:      formatTimePtr(exp.StartDate),
		EndDate:        formatTimePtr(exp.EndDate),
		PlannedEndDate: formatTimePtr(exp.PlannedEndDate),
		Results:        exp.Results,
		CreatedAt:      exp.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      exp.UpdatedAt.Format(time.RFC3339),
	}
}

// AssignRequestDTO enrolls a subject into an experiment.
type AssignRequestDTO struct {
	SubjectID      string            `json:"subject_id"`
	SessionID      string            `json:"session_id,omitempty"`
	DeviceID       string            `json:"device_id,omitempty"`
	UserAttributes map[string]string `json:"user_attributes,omitempty"`
	DeviceInfo     map[string]string `json:"device_info,omitempty"`
}

// ParticipantDTO is the API representation of one assignment.
type ParticipantDTO struct {
	ID           string         `json:"id"`
	ExperimentID string         `json:"experiment_id"`
	SubjectID    string         `json:"subject_id"`
	Variant      string         `json:"variant"`
	Status       string         `json:"status"`
	AssignedAt   string         `json:"assigned_at"`
	ConvertedAt  string         `json:"converted_at,omitempty"`
	Value        any            `json:"value,omitempty"`
	Conversion   map[string]any `json:"conversion_data,omitempty"`
}

func participantToDTO(exp *experiments.Experiment, p *experiments.Participant) ParticipantDTO {
	dto := ParticipantDTO{
		ID:           p.ID,
		ExperimentID: p.ExperimentID,
		SubjectID:    p.SubjectID,
		Variant:      p.Variant,
		Status:       string(p.Status),
		AssignedAt:   p.AssignedAt.Format(time.RFC3339),
		ConvertedAt:  formatTimePtr(p.ConvertedAt),
		Conversion:   p.ConversionData,
	}
	if exp != nil {
		dto.Value = exp.Variants[p.Variant]
	}
	return dto
}

// ConvertRequestDTO records a conversion event.
type ConvertRequestDTO struct {
	SubjectID string         `json:"subject_id"`
	EventData map[string]any `json:"event_data,omitempty"`
	// OccurredAt is optional; server time is used when absent.
	OccurredAt string `json:"occurred_at,omitempty"`
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
