/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements flagging.DefinitionStore, flagging.AuditStore,
  experiments.DefinitionStore and experiments.ParticipationStore using
  SQLite. In production the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

KEY TABLES:
  flags:        Flag definitions, unique per (tenant_id, key)
  experiments:  Experiment definitions with frozen results snapshots
  participants: One row per (experiment_id, subject_id) - the uniqueness
                constraint that makes first assignment race-safe
  evaluations:  Write-once audit records (superseded, never mutated)

RACE SAFETY:
  Concurrent first assignments converge on a single participant row: the
  unique index rejects the loser, the store maps the constraint violation
  to flagging.ErrAlreadyAssigned, and the assigner re-reads the winner.

COUNTERS:
  IncrementFlagCounters issues one of two explicit UPDATE statements chosen
  in application code (total only, or total plus positive) - never a
  conditional subquery against the audit table.

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers don't
  block, single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/feature-engine.db")
  if err != nil { ... }
  defer store.Close()

SEE ALSO:
  - flagging/store.go, experiments/types.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/feature-engine/experiments"
	"github.com/warp/feature-engine/flagging"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store at dbPath. Use ":memory:" for an in-memory
// database (tests).
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases from splitting
	// across pool connections.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS flags (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		key TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		value_type TEXT NOT NULL,
		status TEXT NOT NULL,
		strategy TEXT NOT NULL,
		default_value TEXT,
		rollout_config TEXT NOT NULL DEFAULT '{}',
		targeting TEXT,
		variants TEXT,
		start_date TEXT,
		end_date TEXT,
		evaluation_count INTEGER NOT NULL DEFAULT 0,
		positive_evaluation_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_flags_tenant_key ON flags(tenant_id, key);

	CREATE TABLE IF NOT EXISTS experiments (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		flag_key TEXT NOT NULL DEFAULT '',
		variant_order TEXT NOT NULL,
		variants TEXT NOT NULL,
		traffic_allocation TEXT NOT NULL,
		targeting TEXT,
		significance_level REAL NOT NULL DEFAULT 0.05,
		minimum_sample_size INTEGER NOT NULL DEFAULT 0,
		maximum_duration_days INTEGER NOT NULL DEFAULT 0,
		auto_stop_on_significance INTEGER NOT NULL DEFAULT 0,
		auto_apply_winner INTEGER NOT NULL DEFAULT 0,
		start_date TEXT,
		end_date TEXT,
		planned_end_date TEXT,
		results TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_experiments_tenant_status ON experiments(tenant_id, status);

	CREATE TABLE IF NOT EXISTS participants (
		id TEXT PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		variant TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_at TEXT NOT NULL,
		converted_at TEXT,
		dropped_at TEXT,
		conversion_data TEXT,
		session_id TEXT NOT NULL DEFAULT '',
		device_id TEXT NOT NULL DEFAULT '',
		user_attributes TEXT,
		device_info TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_experiment_subject
		ON participants(experiment_id, subject_id);
	CREATE INDEX IF NOT EXISTS idx_participants_experiment_variant
		ON participants(experiment_id, variant);

	CREATE TABLE IF NOT EXISTS evaluations (
		id TEXT PRIMARY KEY,
		flag_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		flag_key TEXT NOT NULL,
		context_type TEXT NOT NULL,
		context_id TEXT NOT NULL,
		value TEXT,
		variant TEXT NOT NULL DEFAULT '',
		rollout_percentage REAL NOT NULL DEFAULT 0,
		is_targeted INTEGER NOT NULL DEFAULT 0,
		context_data TEXT,
		evaluated_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_flag ON evaluations(flag_id, evaluated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// FLAG DEFINITIONS
// =============================================================================

func (s *Store) SaveFlag(ctx context.Context, f *flagging.FeatureFlag) error {
	defaultValue, err := marshalJSON(f.DefaultValue)
	if err != nil {
		return err
	}
	rollout, err := marshalJSON(f.Rollout)
	if err != nil {
		return err
	}
	targeting, err := marshalJSONNullable(f.Targeting)
	if err != nil {
		return err
	}
	variants, err := marshalJSONNullable(f.Variants)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flags (
			id, tenant_id, key, name, value_type, status, strategy,
			default_value, rollout_config, targeting, variants,
			start_date, end_date,
			evaluation_count, positive_evaluation_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, key) DO UPDATE SET
			name = excluded.name,
			value_type = excluded.value_type,
			status = excluded.status,
			strategy = excluded.strategy,
			default_value = excluded.default_value,
			rollout_config = excluded.rollout_config,
			targeting = excluded.targeting,
			variants = excluded.variants,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			updated_at = excluded.updated_at`,
		f.ID, f.TenantID, f.Key, f.Name, f.ValueType, f.Status, f.Strategy,
		defaultValue, rollout, targeting, variants,
		timeNullable(f.StartDate), timeNullable(f.EndDate),
		f.EvaluationCount, f.PositiveEvaluationCount,
		f.CreatedAt.Format(time.RFC3339Nano), f.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) GetFlag(ctx context.Context, tenantID, key string) (*flagging.FeatureFlag, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, key, name, value_type, status, strategy,
		       default_value, rollout_config, targeting, variants,
		       start_date, end_date,
		       evaluation_count, positive_evaluation_count,
		       created_at, updated_at
		FROM flags WHERE tenant_id = ? AND key = ?`, tenantID, key)

	flag, err := scanFlag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return flag, err
}

func (s *Store) ListFlags(ctx context.Context, tenantID string) ([]*flagging.FeatureFlag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, key, name, value_type, status, strategy,
		       default_value, rollout_config, targeting, variants,
		       start_date, end_date,
		       evaluation_count, positive_evaluation_count,
		       created_at, updated_at
		FROM flags WHERE tenant_id = ? ORDER BY key`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []*flagging.FeatureFlag
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		flags = append(flags, flag)
	}
	return flags, rows.Err()
}

// IncrementFlagCounters bumps the counters with one of two explicit UPDATE
// statements, chosen in application code from the evaluation result.
func (s *Store) IncrementFlagCounters(ctx context.Context, tenantID, key string, positive bool) error {
	query := `UPDATE flags SET evaluation_count = evaluation_count + 1
		WHERE tenant_id = ? AND key = ?`
	if positive {
		query = `UPDATE flags SET
			evaluation_count = evaluation_count + 1,
			positive_evaluation_count = positive_evaluation_count + 1
		WHERE tenant_id = ? AND key = ?`
	}
	_, err := s.db.ExecContext(ctx, query, tenantID, key)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlag(row rowScanner) (*flagging.FeatureFlag, error) {
	var (
		f                    flagging.FeatureFlag
		defaultValue         sql.NullString
		rollout              string
		targeting, variants  sql.NullString
		startDate, endDate   sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&f.ID, &f.TenantID, &f.Key, &f.Name, &f.ValueType, &f.Status, &f.Strategy,
		&defaultValue, &rollout, &targeting, &variants,
		&startDate, &endDate,
		&f.EvaluationCount, &f.PositiveEvaluationCount,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if defaultValue.Valid {
		if err := json.Unmarshal([]byte(defaultValue.String), &f.DefaultValue); err != nil {
			return nil, fmt.Errorf("decode default value: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(rollout), &f.Rollout); err != nil {
		return nil, fmt.Errorf("decode rollout config: %w", err)
	}
	if targeting.Valid {
		if err := json.Unmarshal([]byte(targeting.String), &f.Targeting); err != nil {
			return nil, fmt.Errorf("decode targeting: %w", err)
		}
	}
	if variants.Valid {
		if err := json.Unmarshal([]byte(variants.String), &f.Variants); err != nil {
			return nil, fmt.Errorf("decode variants: %w", err)
		}
	}
	if f.StartDate, err = parseTimeNullable(startDate); err != nil {
		return nil, err
	}
	if f.EndDate, err = parseTimeNullable(endDate); err != nil {
		return nil, err
	}
	if f.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if f.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// =============================================================================
// EXPERIMENT DEFINITIONS
// =============================================================================

func (s *Store) SaveExperiment(ctx context.Context, e *experiments.Experiment) error {
	variantOrder, err := marshalJSON(e.VariantOrder)
	if err != nil {
		return err
	}
	variants, err := marshalJSON(e.Variants)
	if err != nil {
		return err
	}
	allocation, err := marshalJSON(e.TrafficAllocation)
	if err != nil {
		return err
	}
	targeting, err := marshalJSONNullable(e.Targeting)
	if err != nil {
		return err
	}
	results, err := marshalJSONNullable(e.Results)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO experiments (
			id, tenant_id, name, description, status, flag_key,
			variant_order, variants, traffic_allocation, targeting,
			significance_level, minimum_sample_size, maximum_duration_days,
			auto_stop_on_significance, auto_apply_winner,
			start_date, end_date, planned_end_date, results,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			status = excluded.status,
			flag_key = excluded.flag_key,
			variant_order = excluded.variant_order,
			variants = excluded.variants,
			traffic_allocation = excluded.traffic_allocation,
			targeting = excluded.targeting,
			significance_level = excluded.significance_level,
			minimum_sample_size = excluded.minimum_sample_size,
			maximum_duration_days = excluded.maximum_duration_days,
			auto_stop_on_significance = excluded.auto_stop_on_significance,
			auto_apply_winner = excluded.auto_apply_winner,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			planned_end_date = excluded.planned_end_date,
			results = excluded.results,
			updated_at = excluded.updated_at`,
		e.ID, e.TenantID, e.Name, e.Description, e.Status, e.FlagKey,
		variantOrder, variants, allocation, targeting,
		e.SignificanceLevel, e.MinimumSampleSize, e.MaximumDurationDays,
		e.AutoStopOnSignificance, e.AutoApplyWinner,
		timeNullable(e.StartDate), timeNullable(e.EndDate), timeNullable(e.PlannedEndDate), results,
		e.CreatedAt.Format(time.RFC3339Nano), e.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) GetExperiment(ctx context.Context, id string) (*experiments.Experiment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, description, status, flag_key,
		       variant_order, variants, traffic_allocation, targeting,
		       significance_level, minimum_sample_size, maximum_duration_days,
		       auto_stop_on_significance, auto_apply_winner,
		       start_date, end_date, planned_end_date, results,
		       created_at, updated_at
		FROM experiments WHERE id = ?`, id)

	exp, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return exp, err
}

func (s *Store) ListExperiments(ctx context.Context, tenantID string, status experiments.Status) ([]*experiments.Experiment, error) {
	query := `
		SELECT id, tenant_id, name, description, status, flag_key,
		       variant_order, variants, traffic_allocation, targeting,
		       significance_level, minimum_sample_size, maximum_duration_days,
		       auto_stop_on_significance, auto_apply_winner,
		       start_date, end_date, planned_end_date, results,
		       created_at, updated_at
		FROM experiments WHERE 1=1`
	var args []any
	if tenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, tenantID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exps []*experiments.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		exps = append(exps, exp)
	}
	return exps, rows.Err()
}

func scanExperiment(row rowScanner) (*experiments.Experiment, error) {
	var (
		e                              experiments.Experiment
		variantOrder, variants         string
		allocation                     string
		targeting, results             sql.NullString
		startDate, endDate, plannedEnd sql.NullString
		createdAt, updatedAt           string
	)
	err := row.Scan(
		&e.ID, &e.TenantID, &e.Name, &e.Description, &e.Status, &e.FlagKey,
		&variantOrder, &variants, &allocation, &targeting,
		&e.SignificanceLevel, &e.MinimumSampleSize, &e.MaximumDurationDays,
		&e.AutoStopOnSignificance, &e.AutoApplyWinner,
		&startDate, &endDate, &plannedEnd, &results,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(variantOrder), &e.VariantOrder); err != nil {
		return nil, fmt.Errorf("decode variant order: %w", err)
	}
	if err := json.Unmarshal([]byte(variants), &e.Variants); err != nil {
		return nil, fmt.Errorf("decode variants: %w", err)
	}
	if err := json.Unmarshal([]byte(allocation), &e.TrafficAllocation); err != nil {
		return nil, fmt.Errorf("decode traffic allocation: %w", err)
	}
	if targeting.Valid {
		if err := json.Unmarshal([]byte(targeting.String), &e.Targeting); err != nil {
			return nil, fmt.Errorf("decode targeting: %w", err)
		}
	}
	if results.Valid {
		if err := json.Unmarshal([]byte(results.String), &e.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	if e.StartDate, err = parseTimeNullable(startDate); err != nil {
		return nil, err
	}
	if e.EndDate, err = parseTimeNullable(endDate); err != nil {
		return nil, err
	}
	if e.PlannedEndDate, err = parseTimeNullable(plannedEnd); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// =============================================================================
// PARTICIPATION
// =============================================================================

// SaveParticipant inserts a new participant row. The unique index on
// (experiment_id, subject_id) makes concurrent first assignments converge:
// the losing insert surfaces as flagging.ErrAlreadyAssigned.
func (s *Store) SaveParticipant(ctx context.Context, p *experiments.Participant) error {
	conversionData, err := marshalJSONNullable(p.ConversionData)
	if err != nil {
		return err
	}
	userAttrs, err := marshalJSONNullable(p.UserAttributes)
	if err != nil {
		return err
	}
	deviceInfo, err := marshalJSONNullable(p.DeviceInfo)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO participants (
			id, experiment_id, subject_id, variant, status,
			assigned_at, converted_at, dropped_at, conversion_data,
			session_id, device_id, user_attributes, device_info
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ExperimentID, p.SubjectID, p.Variant, p.Status,
		p.AssignedAt.Format(time.RFC3339Nano),
		timeNullable(p.ConvertedAt), timeNullable(p.DroppedAt), conversionData,
		p.SessionID, p.DeviceID, userAttrs, deviceInfo,
	)
	if isUniqueViolation(err) {
		return flagging.ErrAlreadyAssigned
	}
	return err
}

func (s *Store) UpdateParticipant(ctx context.Context, p *experiments.Participant) error {
	conversionData, err := marshalJSONNullable(p.ConversionData)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE participants SET
			variant = ?, status = ?,
			converted_at = ?, dropped_at = ?, conversion_data = ?
		WHERE experiment_id = ? AND subject_id = ?`,
		p.Variant, p.Status,
		timeNullable(p.ConvertedAt), timeNullable(p.DroppedAt), conversionData,
		p.ExperimentID, p.SubjectID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return flagging.ErrParticipantNotFound
	}
	return nil
}

func (s *Store) FindParticipant(ctx context.Context, experimentID, subjectID string) (*experiments.Participant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, experiment_id, subject_id, variant, status,
		       assigned_at, converted_at, dropped_at, conversion_data,
		       session_id, device_id, user_attributes, device_info
		FROM participants WHERE experiment_id = ? AND subject_id = ?`,
		experimentID, subjectID)

	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *Store) ListParticipants(ctx context.Context, experimentID string) ([]*experiments.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, experiment_id, subject_id, variant, status,
		       assigned_at, converted_at, dropped_at, conversion_data,
		       session_id, device_id, user_attributes, device_info
		FROM participants WHERE experiment_id = ? ORDER BY assigned_at`,
		experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []*experiments.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func scanParticipant(row rowScanner) (*experiments.Participant, error) {
	var (
		p                      experiments.Participant
		assignedAt             string
		convertedAt, droppedAt sql.NullString
		conversionData         sql.NullString
		userAttrs, deviceInfo  sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.ExperimentID, &p.SubjectID, &p.Variant, &p.Status,
		&assignedAt, &convertedAt, &droppedAt, &conversionData,
		&p.SessionID, &p.DeviceID, &userAttrs, &deviceInfo,
	)
	if err != nil {
		return nil, err
	}

	if p.AssignedAt, err = time.Parse(time.RFC3339Nano, assignedAt); err != nil {
		return nil, err
	}
	if p.ConvertedAt, err = parseTimeNullable(convertedAt); err != nil {
		return nil, err
	}
	if p.DroppedAt, err = parseTimeNullable(droppedAt); err != nil {
		return nil, err
	}
	if conversionData.Valid {
		if err := json.Unmarshal([]byte(conversionData.String), &p.ConversionData); err != nil {
			return nil, fmt.Errorf("decode conversion data: %w", err)
		}
	}
	if userAttrs.Valid {
		if err := json.Unmarshal([]byte(userAttrs.String), &p.UserAttributes); err != nil {
			return nil, fmt.Errorf("decode user attributes: %w", err)
		}
	}
	if deviceInfo.Valid {
		if err := json.Unmarshal([]byte(deviceInfo.String), &p.DeviceInfo); err != nil {
			return nil, fmt.Errorf("decode device info: %w", err)
		}
	}
	return &p, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (s *Store) SaveEvaluation(ctx context.Context, r *flagging.EvaluationRecord) error {
	value, err := marshalJSONNullable(r.Value)
	if err != nil {
		return err
	}
	contextData, err := marshalJSONNullable(r.ContextData)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evaluations (
			id, flag_id, tenant_id, flag_key, context_type, context_id,
			value, variant, rollout_percentage, is_targeted, context_data,
			evaluated_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FlagID, r.TenantID, r.FlagKey, r.ContextType, r.ContextID,
		value, r.Variant, r.RolloutPercentage, r.IsTargeted, contextData,
		r.EvaluatedAt.Format(time.RFC3339Nano), r.ExpiresAt.Format(time.RFC3339Nano),
	)
	return err
}

// CountEvaluations reports audit rows for a flag (analytics/test helper).
func (s *Store) CountEvaluations(ctx context.Context, flagID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evaluations WHERE flag_id = ?`, flagID).Scan(&n)
	return n, err
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(b), nil
}

func marshalJSONNullable(v any) (sql.NullString, error) {
	if isNil(v) {
		return sql.NullString{}, nil
	}
	s, err := marshalJSON(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

// isNil catches both untyped nil and the typed-nil pointers/maps that reach
// an any parameter.
func isNil(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case *flagging.TargetingRules:
		return t == nil
	case *experiments.ResultsSnapshot:
		return t == nil
	case map[string]any:
		return t == nil
	case map[string]string:
		return t == nil
	default:
		return false
	}
}

func timeNullable(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func parseTimeNullable(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
