package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bizledger/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// ErrSchedulerNotRunning is returned when a manual run is requested on a
// stopped scheduler
var ErrSchedulerNotRunning = errors.New("scheduler is not running")

// OverdueReconciler is the slice of the invoice service the scheduler needs:
// a single pass that promotes past-due invoices and reports how many moved.
type OverdueReconciler interface {
	ReconcileOverdueInvoices(ctx context.Context) (int, error)
}

// OverdueScheduler periodically promotes past-due invoices to OVERDUE so the
// status stays fresh even when nobody reads the invoice. Reconciliation also
// happens lazily on read; this loop just bounds the staleness window.
type OverdueScheduler struct {
	reconciler OverdueReconciler
	logger     *zap.Logger
	config     config.SchedulerConfig

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewOverdueScheduler creates a scheduler; call Start to begin the loop.
func NewOverdueScheduler(reconciler OverdueReconciler, cfg config.SchedulerConfig, logger *zap.Logger) *OverdueScheduler {
	return &OverdueScheduler{
		reconciler: reconciler,
		logger:     logger,
		config:     cfg,
	}
}

// Start launches the reconciliation loop. Calling Start on a running
// scheduler is a no-op.
func (s *OverdueScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Overdue reconciliation scheduler is disabled")
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("Overdue reconciliation scheduler started",
		zap.Duration("interval", s.config.ReconcileInterval),
		zap.Bool("run_on_startup", s.config.ReconcileOnStartup),
	)

	return nil
}

// Stop cancels the loop and waits for the in-flight pass to finish, bounded
// by the caller's context.
func (s *OverdueScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Overdue reconciliation scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Overdue reconciliation scheduler stop timed out")
		return ctx.Err()
	}
}

// RunOnce triggers a single reconciliation pass outside the schedule, e.g.
// from an operator command. The scheduler must be running.
func (s *OverdueScheduler) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()
	if !running {
		return 0, ErrSchedulerNotRunning
	}
	return s.reconcile(ctx)
}

func (s *OverdueScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	if s.config.ReconcileOnStartup {
		if _, err := s.reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Startup reconciliation pass failed", zap.Error(err))
		}
	}

	ticker := time.NewTicker(s.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Reconciliation loop stopping")
			return
		case <-ticker.C:
			if _, err := s.reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Reconciliation pass failed", zap.Error(err))
			}
		}
	}
}

func (s *OverdueScheduler) reconcile(ctx context.Context) (int, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	start := time.Now()
	transitioned, err := s.reconciler.ReconcileOverdueInvoices(runCtx)
	duration := time.Since(start)
	if err != nil {
		return 0, err
	}

	if transitioned > 0 {
		s.logger.Info("Reconciliation pass completed",
			zap.Int("transitioned", transitioned),
			zap.Duration("duration", duration),
		)
	} else {
		s.logger.Debug("Reconciliation pass found nothing due",
			zap.Duration("duration", duration),
		)
	}

	return transitioned, nil
}
