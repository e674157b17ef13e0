/*
sweeper.go - Automated experiment duration sweeper

PURPOSE:
  Periodically checks for running experiments whose planned end date has
  passed and completes them, freezing results. This is the maximum-duration
  guard: the conversion-time auto-stop check only fires on conversion
  traffic, so an experiment that stops receiving events would otherwise run
  forever.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Delegates the actual work to Manager.CompleteOverdue
  - An immediate check runs on start, then on every tick

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewSweeper(manager, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - experiments/manager.go: CompleteOverdue, auto-stop check
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/feature-engine/experiments"
)

// Sweeper completes running experiments past their planned end date.
type Sweeper struct {
	Manager       *experiments.Manager
	CheckInterval time.Duration
	Enabled       bool

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a new sweeper.
func NewSweeper(manager *experiments.Manager, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		Manager:       manager,
		CheckInterval: time.Minute,
		Enabled:       true,
		log:           log,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("sweeper disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	s.log.Info("sweeper started", zap.Duration("check_interval", s.CheckInterval))
}

// Stop stops the sweeper.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.log.Info("sweeper stopped")
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	ctx := context.Background()

	completed, err := s.Manager.CompleteOverdue(ctx)
	if err != nil {
		s.log.Warn("sweep failed", zap.Error(err))
		return
	}
	if len(completed) > 0 {
		s.log.Info("completed overdue experiments",
			zap.Int("count", len(completed)),
			zap.Strings("experiment_ids", completed))
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (s *Sweeper) RunNow() {
	s.sweep()
}
