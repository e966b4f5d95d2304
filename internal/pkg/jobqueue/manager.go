package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuelReschke/LicenseFox/internal/pkg/env"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/logging"
)

// Expirer marks licenses past their expiry as expired.
type Expirer interface {
	ExpireOverdue(ctx context.Context) (int64, error)
}

// CounterFlusher moves buffered verification counts into the database.
type CounterFlusher interface {
	Flush(ctx context.Context) (int, error)
}

type Config struct {
	ExpirySweepInterval  time.Duration
	CounterFlushInterval time.Duration
	// TaskTimeout bounds a single sweep or flush.
	TaskTimeout time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		ExpirySweepInterval:  env.GetEnvDuration("LICENSE_EXPIRY_SWEEP_INTERVAL", 15*time.Minute),
		CounterFlushInterval: env.GetEnvDuration("LICENSE_COUNTER_FLUSH_INTERVAL", 5*time.Second),
		TaskTimeout:          30 * time.Second,
	}
}

// Manager runs the periodic license maintenance tasks.
type Manager struct {
	expirer Expirer
	flusher CounterFlusher
	cfg     Config
	logger  zerolog.Logger

	expiryTicker       *time.Ticker
	counterFlushTicker *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

// NewManager builds a manager. A nil flusher disables the counter task.
func NewManager(expirer Expirer, flusher CounterFlusher, cfg Config) *Manager {
	if cfg.ExpirySweepInterval <= 0 {
		cfg.ExpirySweepInterval = 15 * time.Minute
	}
	if cfg.CounterFlushInterval <= 0 {
		cfg.CounterFlushInterval = 5 * time.Second
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	return &Manager{
		expirer: expirer,
		flusher: flusher,
		cfg:     cfg,
		logger:  logging.Component("jobqueue"),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true

	if m.expirer != nil {
		m.expiryTicker = time.NewTicker(m.cfg.ExpirySweepInterval)
		m.wg.Add(1)
		go m.expiryWorker(m.stopCh, m.expiryTicker.C)
	}

	if m.flusher != nil {
		m.counterFlushTicker = time.NewTicker(m.cfg.CounterFlushInterval)
		m.wg.Add(1)
		go m.counterFlushWorker(m.stopCh, m.counterFlushTicker.C)
	}

	m.logger.Info().
		Dur("expiry_sweep_interval", m.cfg.ExpirySweepInterval).
		Dur("counter_flush_interval", m.cfg.CounterFlushInterval).
		Msg("job manager started")
}

// Stop stops the background tasks and flushes pending counters once more.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	if m.expiryTicker != nil {
		m.expiryTicker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	if m.flusher != nil {
		if _, err := m.flushCountersOnce(); err != nil {
			m.logger.Error().Err(err).Msg("final counter flush failed")
		}
	}
	m.logger.Info().Msg("job manager stopped")
}

func (m *Manager) expiryWorker(stop <-chan struct{}, tick <-chan time.Time) {
	defer m.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-tick:
			if _, err := m.RunExpirySweepOnce(); err != nil {
				m.logger.Error().Err(err).Msg("expiry sweep failed")
			}
		}
	}
}

func (m *Manager) counterFlushWorker(stop <-chan struct{}, tick <-chan time.Time) {
	defer m.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-tick:
			if _, err := m.flushCountersOnce(); err != nil {
				m.logger.Error().Err(err).Msg("counter flush failed")
			}
		}
	}
}

// RunExpirySweepOnce exposes a manual trigger for a single expiry sweep.
func (m *Manager) RunExpirySweepOnce() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TaskTimeout)
	defer cancel()

	n, err := m.expirer.ExpireOverdue(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info().Int64("expired", n).Msg("expired overdue licenses")
	}
	return n, nil
}

func (m *Manager) flushCountersOnce() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TaskTimeout)
	defer cancel()
	return m.flusher.Flush(ctx)
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
