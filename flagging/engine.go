/*
engine.go - Flag evaluation orchestration

PURPOSE:
  The Engine resolves a flag's value for a context: cache lookup, definition
  load (bounded timeout), status and date-window checks, targeting, rollout
  with the per-subject bucket gate, then the best-effort audit write,
  counter increments, and cache fill.

EVALUATION NEVER FAILS:
  Evaluate returns a result, not an error. Store and audit failures are
  logged and degrade to the fallback (or the value type's zero value).
  Feature evaluation must never break the calling application.

ADMIN OPERATIONS:
  Flag create/update/activate/deactivate also live here because the engine
  owns the cache: every definition change invalidates the tenant's entries.

SEE ALSO:
  - targeting.go, rollout.go: The two evaluators
  - cache.go: Result memoization
  - store.go: Collaborator contracts
*/
package flagging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/feature-engine/metrics"
)

// DefaultStoreTimeout bounds the definition-store read on the evaluation
// path so a slow store cannot stall callers. On expiry the flag is treated
// as unavailable and the evaluation degrades to the fallback.
const DefaultStoreTimeout = 2 * time.Second

// Engine orchestrates flag evaluation. Construct one per process with
// NewEngine; it is safe for concurrent use.
type Engine struct {
	defs    DefinitionStore
	audit   AuditStore
	cache   Cache
	rollout *RolloutEvaluator
	log     *zap.Logger

	now          func() time.Time
	storeTimeout time.Duration
	recordTTL    time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source. Tests use this to pin gradual-ramp
// and window behavior.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStoreTimeout bounds definition-store reads on the evaluation path.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) { e.storeTimeout = d }
}

// WithAssignment injects the experiment-assignment function used by the
// ab_test rollout strategy.
func WithAssignment(fn AssignmentFunc) Option {
	return func(e *Engine) { e.rollout.Assign = fn }
}

// WithRecordTTL sets the ExpiresAt horizon on audit records. Defaults to
// the cache TTL convention (24h).
func WithRecordTTL(d time.Duration) Option {
	return func(e *Engine) { e.recordTTL = d }
}

// NewEngine wires an evaluation engine. audit may be nil (no audit trail);
// cache must not be nil - pass NewMemoryCache(0) for the default.
func NewEngine(defs DefinitionStore, audit AuditStore, cache Cache, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		defs:         defs,
		audit:        audit,
		cache:        cache,
		rollout:      &RolloutEvaluator{},
		log:          log,
		now:          time.Now,
		storeTimeout: DefaultStoreTimeout,
		recordTTL:    DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// EVALUATION
// =============================================================================

// EvaluateRequest identifies one flag resolution.
type EvaluateRequest struct {
	TenantID    string
	FlagKey     string
	ContextType ContextType
	ContextID   string
	Data        map[string]string

	// Fallback is returned when the flag is missing, inactive, or the store
	// is unavailable. When nil, the flag's value-type zero is used.
	Fallback any
}

// Evaluate resolves a flag's value for a context. It never returns an
// error: failures degrade to the fallback value.
func (e *Engine) Evaluate(ctx context.Context, req EvaluateRequest) EvaluationResult {
	key := CacheKey(req.TenantID, req.FlagKey, req.ContextType, req.ContextID)
	if result, ok := e.cache.Get(ctx, key); ok {
		metrics.CacheHits.Inc()
		return result
	}
	metrics.CacheMisses.Inc()

	flag, err := e.loadFlag(ctx, req.TenantID, req.FlagKey)
	if err != nil {
		e.log.Warn("flag definition unavailable, degrading to fallback",
			zap.String("tenant", req.TenantID),
			zap.String("flag", req.FlagKey),
			zap.Error(err))
		metrics.Evaluations.WithLabelValues(metrics.OutcomeDegraded).Inc()
		return e.fallbackResult(req, nil)
	}
	if flag == nil {
		// Absence is not cached: the next call re-resolves.
		metrics.Evaluations.WithLabelValues(metrics.OutcomeDefault).Inc()
		return e.fallbackResult(req, nil)
	}
	if flag.Status != FlagActive || !flag.InWindow(e.now()) {
		metrics.Evaluations.WithLabelValues(metrics.OutcomeDefault).Inc()
		return e.fallbackResult(req, flag)
	}

	evalCtx := EvaluationContext{
		TenantID: req.TenantID,
		FlagKey:  req.FlagKey,
		Type:     req.ContextType,
		ID:       req.ContextID,
		Data:     req.Data,
	}

	result := e.resolve(flag, evalCtx)
	positive := result.IsTargeted || result.RolloutPercentage > 0

	e.recordEvaluation(ctx, flag, evalCtx, result, positive)
	e.cache.Put(ctx, key, result)

	switch {
	case result.IsTargeted:
		metrics.Evaluations.WithLabelValues(metrics.OutcomeTargeted).Inc()
	case positive:
		metrics.Evaluations.WithLabelValues(metrics.OutcomeRollout).Inc()
	default:
		metrics.Evaluations.WithLabelValues(metrics.OutcomeDefault).Inc()
	}
	return result
}

// resolve runs targeting, then the rollout strategy plus the per-subject
// bucket gate, against an active in-window flag.
func (e *Engine) resolve(flag *FeatureFlag, ctx EvaluationContext) EvaluationResult {
	if match := EvaluateTargeting(flag.Targeting, ctx); match.IsTargeted {
		return EvaluationResult{
			FlagKey:           flag.Key,
			Value:             flag.VariantValue(match.Variant),
			Variant:           match.Variant,
			IsTargeted:        true,
			RolloutPercentage: 100,
			EvaluatedAt:       e.now(),
		}
	}

	decision := e.rollout.Evaluate(flag, ctx, e.now())
	if !InBucketRange(ctx.ID, ctx.FlagKey, decision.Percentage) {
		// Outside the rollout: the variant is discarded, not half-applied.
		return EvaluationResult{
			FlagKey:           flag.Key,
			Value:             flag.DefaultValue,
			RolloutPercentage: 0,
			EvaluatedAt:       e.now(),
		}
	}
	return EvaluationResult{
		FlagKey:           flag.Key,
		Value:             flag.VariantValue(decision.Variant),
		Variant:           decision.Variant,
		RolloutPercentage: decision.Percentage,
		EvaluatedAt:       e.now(),
	}
}

// EvaluateMany resolves a batch of flags for one tenant. Each evaluation is
// independent; there is no cross-flag atomicity.
func (e *Engine) EvaluateMany(ctx context.Context, tenantID string, reqs []EvaluateRequest) map[string]EvaluationResult {
	results := make(map[string]EvaluationResult, len(reqs))
	for _, req := range reqs {
		req.TenantID = tenantID
		results[req.FlagKey] = e.Evaluate(ctx, req)
	}
	return results
}

func (e *Engine) loadFlag(ctx context.Context, tenantID, key string) (*FeatureFlag, error) {
	tctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return e.defs.GetFlag(tctx, tenantID, key)
}

func (e *Engine) fallbackResult(req EvaluateRequest, flag *FeatureFlag) EvaluationResult {
	value := req.Fallback
	if value == nil && flag != nil {
		value = TypeDefault(flag.ValueType)
	}
	return EvaluationResult{
		FlagKey:     req.FlagKey,
		Value:       value,
		EvaluatedAt: e.now(),
	}
}

// recordEvaluation persists the audit row and bumps the flag counters.
// Both writes are best-effort: failures are logged and swallowed.
func (e *Engine) recordEvaluation(ctx context.Context, flag *FeatureFlag, evalCtx EvaluationContext, result EvaluationResult, positive bool) {
	if e.audit != nil {
		record := &EvaluationRecord{
			ID:                uuid.NewString(),
			FlagID:            flag.ID,
			TenantID:          flag.TenantID,
			FlagKey:           flag.Key,
			ContextType:       evalCtx.Type,
			ContextID:         evalCtx.ID,
			Value:             result.Value,
			Variant:           result.Variant,
			RolloutPercentage: result.RolloutPercentage,
			IsTargeted:        result.IsTargeted,
			ContextData:       evalCtx.Data,
			EvaluatedAt:       result.EvaluatedAt,
			ExpiresAt:         result.EvaluatedAt.Add(e.recordTTL),
		}
		if err := e.audit.SaveEvaluation(ctx, record); err != nil {
			e.log.Warn("audit write failed", zap.String("flag", flag.Key), zap.Error(err))
		}
	}
	if err := e.defs.IncrementFlagCounters(ctx, flag.TenantID, flag.Key, positive); err != nil {
		e.log.Warn("counter increment failed", zap.String("flag", flag.Key), zap.Error(err))
	}
}

// =============================================================================
// FLAG ADMINISTRATION
// =============================================================================

// CreateFlag validates and persists a new flag definition. Flags start in
// draft unless the caller sets a status explicitly.
func (e *Engine) CreateFlag(ctx context.Context, flag *FeatureFlag) error {
	if err := validateFlag(flag); err != nil {
		return err
	}
	if flag.ID == "" {
		flag.ID = uuid.NewString()
	}
	if flag.Status == "" {
		flag.Status = FlagDraft
	}
	now := e.now()
	flag.CreatedAt = now
	flag.UpdatedAt = now
	if err := e.defs.SaveFlag(ctx, flag); err != nil {
		return err
	}
	e.cache.ClearTenant(ctx, flag.TenantID)
	return nil
}

// UpdateFlag replaces an existing definition, preserving identity, counters
// and creation time, and invalidates the tenant's cached evaluations.
func (e *Engine) UpdateFlag(ctx context.Context, flag *FeatureFlag) error {
	if err := validateFlag(flag); err != nil {
		return err
	}
	existing, err := e.defs.GetFlag(ctx, flag.TenantID, flag.Key)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrFlagNotFound
	}
	flag.ID = existing.ID
	flag.CreatedAt = existing.CreatedAt
	flag.EvaluationCount = existing.EvaluationCount
	flag.PositiveEvaluationCount = existing.PositiveEvaluationCount
	flag.UpdatedAt = e.now()
	if err := e.defs.SaveFlag(ctx, flag); err != nil {
		return err
	}
	e.cache.ClearTenant(ctx, flag.TenantID)
	return nil
}

// ActivateFlag transitions a flag to active.
func (e *Engine) ActivateFlag(ctx context.Context, tenantID, key string) error {
	return e.setStatus(ctx, tenantID, key, FlagActive)
}

// DeactivateFlag transitions a flag to inactive. Evaluations return the
// default value from the next cache expiry (immediately for the tenant,
// since the transition clears its entries).
func (e *Engine) DeactivateFlag(ctx context.Context, tenantID, key string) error {
	return e.setStatus(ctx, tenantID, key, FlagInactive)
}

// ArchiveFlag retires a flag permanently.
func (e *Engine) ArchiveFlag(ctx context.Context, tenantID, key string) error {
	return e.setStatus(ctx, tenantID, key, FlagArchived)
}

func (e *Engine) setStatus(ctx context.Context, tenantID, key string, status FlagStatus) error {
	flag, err := e.defs.GetFlag(ctx, tenantID, key)
	if err != nil {
		return err
	}
	if flag == nil {
		return ErrFlagNotFound
	}
	flag.Status = status
	flag.UpdatedAt = e.now()
	if err := e.defs.SaveFlag(ctx, flag); err != nil {
		return err
	}
	e.cache.ClearTenant(ctx, tenantID)
	return nil
}

// GetFlag loads one definition, returning ErrFlagNotFound for absence
// (admin surface; the evaluation path wants (nil, nil) instead).
func (e *Engine) GetFlag(ctx context.Context, tenantID, key string) (*FeatureFlag, error) {
	flag, err := e.defs.GetFlag(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if flag == nil {
		return nil, ErrFlagNotFound
	}
	return flag, nil
}

// ListFlags returns a tenant's definitions.
func (e *Engine) ListFlags(ctx context.Context, tenantID string) ([]*FeatureFlag, error) {
	return e.defs.ListFlags(ctx, tenantID)
}

// ClearCache drops every cached evaluation.
func (e *Engine) ClearCache(ctx context.Context) {
	e.cache.ClearAll(ctx)
}

// ClearCacheForTenant drops one tenant's cached evaluations.
func (e *Engine) ClearCacheForTenant(ctx context.Context, tenantID string) {
	e.cache.ClearTenant(ctx, tenantID)
}

func validateFlag(flag *FeatureFlag) error {
	if flag.TenantID == "" {
		return &ValidationError{Field: "tenant_id", Detail: "required"}
	}
	if flag.Key == "" {
		return &ValidationError{Field: "key", Detail: "required"}
	}
	switch flag.ValueType {
	case ValueBoolean, ValueString, ValueNumber, ValueJSON:
	default:
		return &ValidationError{Field: "value_type", Detail: "must be boolean, string, number, or json"}
	}
	switch flag.Strategy {
	case StrategyImmediate, StrategyTargeted:
	case StrategyPercentage:
		if flag.Rollout.Percentage < 0 || flag.Rollout.Percentage > 100 {
			return &ValidationError{Field: "rollout.percentage", Detail: "must be in [0,100]"}
		}
	case StrategyGradual:
		if flag.Rollout.StartDate == nil || flag.Rollout.EndDate == nil {
			return &ValidationError{Field: "rollout", Detail: "gradual strategy requires start_date and end_date"}
		}
		if !flag.Rollout.EndDate.After(*flag.Rollout.StartDate) {
			return &ValidationError{Field: "rollout", Detail: "end_date must be after start_date"}
		}
		if flag.Rollout.MaxPercentage < 0 || flag.Rollout.MaxPercentage > 100 {
			return &ValidationError{Field: "rollout.max_percentage", Detail: "must be in [0,100]"}
		}
	case StrategyABTest:
		if flag.Rollout.ExperimentID == "" {
			return &ValidationError{Field: "rollout.experiment_id", Detail: "ab_test strategy requires an experiment"}
		}
	default:
		return &ValidationError{Field: "strategy", Detail: "unknown rollout strategy"}
	}
	if flag.Targeting != nil && (flag.Targeting.Percentage < 0 || flag.Targeting.Percentage > 100) {
		return &ValidationError{Field: "targeting.percentage", Detail: "must be in [0,100]"}
	}
	return nil
}
