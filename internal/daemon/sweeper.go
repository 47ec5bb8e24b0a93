package daemon

import (
	"sync"
	"time"

	"github.com/hbruning/xgw/internal/config"
	"github.com/hbruning/xgw/internal/store"
	"go.uber.org/zap"
)

// sweepInterval is how often retention is enforced. Rows become
// eligible long after they stop mattering, so precision is not needed.
const sweepInterval = 12 * time.Hour

// Sweeper deletes archive and correlation rows older than the
// configured retention window.
type Sweeper struct {
	db        *store.DB
	retention time.Duration
	logger    *zap.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

func provideSweeper(cfg *config.Config, db *store.DB, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		db:        db,
		retention: cfg.RetentionD(),
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs the sweep loop in the background, sweeping once
// immediately so restarts do not defer overdue cleanup by half a day.
func (s *Sweeper) Start() {
	if s.retention <= 0 {
		s.logger.Info("retention sweeping disabled")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		s.sweep()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop terminates the loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	close(s.done)
	s.wg.Wait()
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().Add(-s.retention).UnixMilli()

	archived, err := s.db.SweepArchivedBefore(cutoff)
	if err != nil {
		s.logger.Error("sweep archive failed", zap.Error(err))
	}
	correlations, err := s.db.SweepCorrelationsBefore(cutoff)
	if err != nil {
		s.logger.Error("sweep correlations failed", zap.Error(err))
	}
	if archived > 0 || correlations > 0 {
		s.logger.Info("retention sweep",
			zap.Int64("archived_rows", archived),
			zap.Int64("correlation_rows", correlations))
	}
}
