// Package memory provides in-memory implementations of the engine's store
// interfaces, for tests and dev mode. It enforces the same
// (experiment, subject) uniqueness contract as the SQLite store, surfacing
// violations as flagging.ErrAlreadyAssigned.
package memory

import (
	"context"
	"sync"

	"github.com/warp/feature-engine/experiments"
	"github.com/warp/feature-engine/flagging"
)

// Store implements flagging.DefinitionStore, flagging.AuditStore,
// experiments.DefinitionStore and experiments.ParticipationStore with
// mutex-protected maps.
type Store struct {
	mu           sync.RWMutex
	flags        map[flagKey]*flagging.FeatureFlag
	exps         map[string]*experiments.Experiment
	participants map[participantKey]*experiments.Participant
	evaluations  []*flagging.EvaluationRecord
}

type flagKey struct {
	TenantID string
	Key      string
}

type participantKey struct {
	ExperimentID string
	SubjectID    string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		flags:        make(map[flagKey]*flagging.FeatureFlag),
		exps:         make(map[string]*experiments.Experiment),
		participants: make(map[participantKey]*experiments.Participant),
	}
}

// =============================================================================
// FLAG DEFINITIONS
// =============================================================================

func (s *Store) GetFlag(_ context.Context, tenantID, key string) (*flagging.FeatureFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flag, ok := s.flags[flagKey{tenantID, key}]
	if !ok {
		return nil, nil
	}
	cp := *flag
	return &cp, nil
}

func (s *Store) SaveFlag(_ context.Context, flag *flagging.FeatureFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *flag
	s.flags[flagKey{flag.TenantID, flag.Key}] = &cp
	return nil
}

func (s *Store) ListFlags(_ context.Context, tenantID string) ([]*flagging.FeatureFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*flagging.FeatureFlag
	for k, f := range s.flags {
		if k.TenantID == tenantID {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) IncrementFlagCounters(_ context.Context, tenantID, key string, positive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	flag, ok := s.flags[flagKey{tenantID, key}]
	if !ok {
		return flagging.ErrFlagNotFound
	}
	flag.EvaluationCount++
	if positive {
		flag.PositiveEvaluationCount++
	}
	return nil
}

// =============================================================================
// EXPERIMENT DEFINITIONS
// =============================================================================

func (s *Store) GetExperiment(_ context.Context, id string) (*experiments.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.exps[id]
	if !ok {
		return nil, nil
	}
	cp := *exp
	return &cp, nil
}

func (s *Store) SaveExperiment(_ context.Context, exp *experiments.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *exp
	s.exps[exp.ID] = &cp
	return nil
}

func (s *Store) ListExperiments(_ context.Context, tenantID string, status experiments.Status) ([]*experiments.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*experiments.Experiment
	for _, exp := range s.exps {
		if tenantID != "" && exp.TenantID != tenantID {
			continue
		}
		if status != "" && exp.Status != status {
			continue
		}
		cp := *exp
		out = append(out, &cp)
	}
	return out, nil
}

// =============================================================================
// PARTICIPATION
// =============================================================================

func (s *Store) FindParticipant(_ context.Context, experimentID, subjectID string) (*experiments.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[participantKey{experimentID, subjectID}]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// SaveParticipant inserts a new row. Mirrors the SQLite unique index on
// (experiment_id, subject_id): a second insert fails with
// flagging.ErrAlreadyAssigned.
func (s *Store) SaveParticipant(_ context.Context, p *experiments.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := participantKey{p.ExperimentID, p.SubjectID}
	if _, exists := s.participants[k]; exists {
		return flagging.ErrAlreadyAssigned
	}
	cp := *p
	s.participants[k] = &cp
	return nil
}

func (s *Store) UpdateParticipant(_ context.Context, p *experiments.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := participantKey{p.ExperimentID, p.SubjectID}
	if _, exists := s.participants[k]; !exists {
		return flagging.ErrParticipantNotFound
	}
	cp := *p
	s.participants[k] = &cp
	return nil
}

func (s *Store) ListParticipants(_ context.Context, experimentID string) ([]*experiments.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*experiments.Participant
	for k, p := range s.participants {
		if k.ExperimentID == experimentID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (s *Store) SaveEvaluation(_ context.Context, record *flagging.EvaluationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.evaluations = append(s.evaluations, &cp)
	return nil
}

// Evaluations returns the recorded audit rows (test helper).
func (s *Store) Evaluations() []*flagging.EvaluationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*flagging.EvaluationRecord, len(s.evaluations))
	copy(out, s.evaluations)
	return out
}
