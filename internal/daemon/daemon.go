// Package daemon runs the sync engine forever.
//
// The daemon:
//  1. Ticks the engine every TickInterval (drain queue, then maybe reconcile)
//  2. Wakes early when a producer enqueues an action
//  3. Absorbs every tick error and panic so the loop never dies
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/szagi3891/notatki-panel/internal/engine"
	"github.com/szagi3891/notatki-panel/internal/queue"
)

// DefaultTickInterval is the pause between ticks.
const DefaultTickInterval = 100 * time.Millisecond

// Ticker is the engine surface the loop drives.
type Ticker interface {
	Tick(ctx context.Context) (engine.TickResult, error)
	Queue() *queue.Queue
}

// Config holds configuration for the daemon.
type Config struct {
	// TickInterval is the pause after each tick
	TickInterval time.Duration

	// Logger for loop activity
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TickInterval: DefaultTickInterval,
		Logger:       slog.Default().With("component", "daemon"),
	}
}

// Stats counts loop iterations.
type Stats struct {
	Ticks     uint64 `json:"ticks"`
	Failures  uint64 `json:"failures"`
	LastError string `json:"last_error,omitempty"`
}

// Daemon drives a Ticker until stopped.
type Daemon struct {
	engine Ticker
	config *Config

	ticks    atomic.Uint64
	failures atomic.Uint64
	lastErr  atomic.Value // string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

// New creates a daemon with default configuration.
func New(eng Ticker) (*Daemon, error) {
	return NewWithConfig(eng, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(eng Ticker, config *Config) (*Daemon, error) {
	if eng == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default().With("component", "daemon")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine: eng,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start runs the loop. It blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("daemon already started")
	}

	d.config.Logger.Info("Starting sync loop", "tick_interval", d.config.TickInterval)

	d.wg.Add(1)
	go d.loop()

	select {
	case <-ctx.Done():
		d.config.Logger.Info("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		d.wg.Wait()
		return nil
	}
}

// Stop gracefully shuts down the loop and waits for the current tick.
func (d *Daemon) Stop() error {
	d.cancel()
	d.wg.Wait()
	d.config.Logger.Info("Sync loop stopped", "ticks", d.ticks.Load(), "failures", d.failures.Load())
	return nil
}

// Stats returns loop counters.
func (d *Daemon) Stats() Stats {
	s := Stats{Ticks: d.ticks.Load(), Failures: d.failures.Load()}
	if v, ok := d.lastErr.Load().(string); ok {
		s.LastError = v
	}
	return s
}

func (d *Daemon) loop() {
	defer d.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()
	wake := d.engine.Queue().Wait()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-timer.C:
		case _, ok := <-wake:
			if !ok {
				// Queue closed; fall back to the timer alone
				wake = nil
				continue
			}
			timer.Stop()
		}

		d.tickOnce()
		timer.Reset(d.config.TickInterval)
	}
}

// tickOnce runs one tick and absorbs any failure.
func (d *Daemon) tickOnce() {
	d.ticks.Add(1)

	err := d.safeTick()
	if err == nil {
		return
	}
	if d.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return
	}

	d.failures.Add(1)
	d.lastErr.Store(err.Error())
	d.config.Logger.Error("Sync tick failed", "error", err)
}

func (d *Daemon) safeTick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v\n%s", r, debug.Stack())
		}
	}()
	_, err = d.engine.Tick(d.ctx)
	return err
}
