// Package worker runs long-lived background components alongside the HTTP server.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker is a component with its own goroutines. Start must return once the
// worker is accepting work; Stop must drain it.
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Status is a point-in-time view of one worker
type Status struct {
	Name      string
	Running   bool
	StartedAt time.Time
	LastError error
}

type slot struct {
	w         Worker
	running   bool
	startedAt time.Time
	lastErr   error
}

// WorkerManager owns an ordered set of workers. They start in registration
// order and stop in reverse, so a producer registered after its consumer is
// drained first.
type WorkerManager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	slots   []*slot
	running bool
	cancel  context.CancelFunc
}

// NewWorkerManager creates an empty manager
func NewWorkerManager(logger *zap.Logger) *WorkerManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerManager{logger: logger}
}

// Register appends w. Registering while running is ignored.
func (m *WorkerManager) Register(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.logger.Warn("Worker registered after start ignored", zap.String("worker_name", w.Name()))
		return
	}
	m.slots = append(m.slots, &slot{w: w})
}

// StartAll starts workers in order. On failure the ones already started are
// stopped again and the start error is returned.
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("workers already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	slots := m.slots
	m.mu.Unlock()

	for _, s := range slots {
		err := s.w.Start(runCtx)

		m.mu.Lock()
		s.lastErr = err
		if err == nil {
			s.running = true
			s.startedAt = time.Now()
		}
		m.mu.Unlock()

		if err != nil {
			m.logger.Error("Worker failed to start", zap.String("worker_name", s.w.Name()), zap.Error(err))
			_ = m.StopAll()
			return fmt.Errorf("start %s: %w", s.w.Name(), err)
		}
		m.logger.Info("Worker started", zap.String("worker_name", s.w.Name()))
	}
	return nil
}

// StopAll stops running workers in reverse order and joins their errors.
// Calling it when nothing runs is a no-op.
func (m *WorkerManager) StopAll() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	slots := m.slots
	m.mu.Unlock()

	var errs []error
	for i := len(slots) - 1; i >= 0; i-- {
		s := slots[i]
		m.mu.RLock()
		wasRunning := s.running
		m.mu.RUnlock()
		if !wasRunning {
			continue
		}

		err := s.w.Stop()

		m.mu.Lock()
		s.running = false
		if err != nil {
			s.lastErr = err
		}
		m.mu.Unlock()

		if err != nil {
			m.logger.Error("Worker failed to stop", zap.String("worker_name", s.w.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("stop %s: %w", s.w.Name(), err))
			continue
		}
		m.logger.Info("Worker stopped", zap.String("worker_name", s.w.Name()))
	}

	if cancel != nil {
		cancel()
	}
	return errors.Join(errs...)
}

// Statuses reports every registered worker in registration order
func (m *WorkerManager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, len(m.slots))
	for i, s := range m.slots {
		out[i] = Status{Name: s.w.Name(), Running: s.running, StartedAt: s.startedAt, LastError: s.lastErr}
	}
	return out
}

// GetWorkerCount returns the number of registered workers
func (m *WorkerManager) GetWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.slots)
}

// IsRunning reports whether StartAll succeeded and StopAll has not run
func (m *WorkerManager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
