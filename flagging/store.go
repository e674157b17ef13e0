/*
store.go - Collaborator interfaces for flag persistence

PURPOSE:
  Defines the narrow contracts the engine depends on. Persistence engine
  internals are out of scope; implementations live in store/sqlite (durable)
  and store/memory (tests and dev mode).

CONTRACTS:
  DefinitionStore: Flag definitions plus best-effort counter increments
  AuditStore:      Write-once evaluation records (best-effort)

NOT-FOUND CONVENTION:
  GetFlag returns (nil, nil) for a missing flag. The evaluation path treats
  absence as "fall back to default", not as an error.

COUNTERS:
  IncrementFlagCounters performs two explicit increments (total, and
  positive when the evaluation resolved to a non-default exposure), chosen
  in application code. Failures are logged, never propagated.
*/
package flagging

import "context"

// DefinitionStore persists and serves flag definitions.
type DefinitionStore interface {
	// GetFlag returns the flag for (tenantID, key), or (nil, nil) if absent.
	GetFlag(ctx context.Context, tenantID, key string) (*FeatureFlag, error)

	// SaveFlag creates or replaces a flag definition.
	SaveFlag(ctx context.Context, flag *FeatureFlag) error

	// ListFlags returns all flags for a tenant.
	ListFlags(ctx context.Context, tenantID string) ([]*FeatureFlag, error)

	// IncrementFlagCounters bumps the evaluation counter, and the positive
	// counter too when positive is true. Best-effort, eventually consistent.
	IncrementFlagCounters(ctx context.Context, tenantID, key string, positive bool) error
}

// AuditStore persists evaluation records. Writes are best-effort: a failure
// must never fail the evaluation that produced the record.
type AuditStore interface {
	SaveEvaluation(ctx context.Context, record *EvaluationRecord) error
}
