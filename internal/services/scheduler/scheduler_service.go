// -----------------------------------------------------------------------
// Last Modified: Tuesday, 25th August 2026
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/services/sessions"
	"github.com/ternarybob/arbor"
)

// Service runs the retention sweep on a cron schedule. Sessions idle longer
// than the configured max age are purged together with their uploads,
// artifacts, and vector index.
type Service struct {
	sessionService *sessions.Service
	config         *common.RetentionConfig
	cron           *cron.Cron
	maxAge         time.Duration
	logger         arbor.ILogger

	mu         sync.Mutex
	running    bool
	isSweeping bool
}

// NewService creates a retention scheduler. The max age is validated up front
// so a bad config fails at startup rather than on the first sweep.
func NewService(sessionService *sessions.Service, config *common.RetentionConfig, logger arbor.ILogger) (*Service, error) {
	maxAge, err := time.ParseDuration(config.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("invalid retention max_age %q: %w", config.MaxAge, err)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max_age must be positive, got %q", config.MaxAge)
	}

	return &Service{
		sessionService: sessionService,
		config:         config,
		cron:           cron.New(),
		maxAge:         maxAge,
		logger:         logger,
	}, nil
}

// Start registers the sweep with the cron runner and begins scheduling.
// When retention is disabled this is a no-op so callers can start the
// scheduler unconditionally.
func (s *Service) Start() error {
	if !s.config.Enabled {
		s.logger.Info().Msg("Retention scheduler disabled, idle sessions will not be purged")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("retention scheduler already running")
	}

	if err := common.ValidateRetentionSchedule(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.config.Schedule, err)
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, s.runSweep); err != nil {
		return fmt.Errorf("failed to register retention sweep: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.config.Schedule).
		Str("max_age", s.maxAge.String()).
		Msg("Retention scheduler started")

	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish, so
// storage can be closed safely afterwards.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Retention scheduler stopped")
}

// IsRunning reports whether the cron runner is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// runSweep purges sessions idle past the cutoff. Overlapping cycles are
// skipped rather than queued; the next tick picks up whatever remains.
func (s *Service) runSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("Recovered panic in retention sweep")
		}
	}()

	s.mu.Lock()
	if s.isSweeping {
		s.mu.Unlock()
		s.logger.Debug().Msg("Retention sweep already in progress, skipping cycle")
		return
	}
	s.isSweeping = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isSweeping = false
		s.mu.Unlock()
	}()

	start := time.Now()
	cutoff := start.Add(-s.maxAge)

	purged, err := s.sessionService.PurgeIdle(context.Background(), cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Retention sweep failed")
		return
	}

	if purged > 0 {
		s.logger.Info().
			Int("purged", purged).
			Str("cutoff", cutoff.UTC().Format(time.RFC3339)).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("Retention sweep purged idle sessions")
	} else {
		s.logger.Debug().Msg("Retention sweep found no idle sessions")
	}
}
