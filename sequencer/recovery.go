package sequencer

import (
	"context"
	"sync"
	"time"

	"go-gridbeat/debug"
)

// RecoveryConfig bounds the coordinator's retry policy
type RecoveryConfig struct {
	// MaxAudioRetries before falling back to degraded no-audio mode
	MaxAudioRetries int
	// RetryBackoff between audio hand-off retries
	RetryBackoff time.Duration
	// DriftAlertCount of drift faults within DriftAlertWindow before the
	// condition is surfaced to the user
	DriftAlertCount  int
	DriftAlertWindow time.Duration
}

// DefaultRecoveryConfig returns the stock policy
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxAudioRetries:  3,
		RetryBackoff:     25 * time.Millisecond,
		DriftAlertCount:  5,
		DriftAlertWindow: 10 * time.Second,
	}
}

// StatusFunc publishes a user-visible recovery status change
type StatusFunc func(degraded bool, message string)

// ClockFallbackFunc reverts the tempo source to the internal clock
type ClockFallbackFunc func()

// Coordinator classifies runtime faults and applies recovery. Reports are
// non-blocking for the timing thread; all retry and backoff work happens
// on the coordinator's own goroutine. Transient faults stay invisible;
// sustained ones surface a status, never a silent stall.
type Coordinator struct {
	cfg      RecoveryConfig
	faults   chan Fault
	onStatus StatusFunc
	onClock  ClockFallbackFunc

	mu            sync.Mutex
	driftTimes    []time.Time
	driftAlerted  bool
	audioFailures int
	degraded      bool

	// counters for monitoring
	driftCount   uint64
	droppedHits  uint64
	audioRetries uint64
}

// NewCoordinator wires the coordinator. onStatus and onClock may be nil.
func NewCoordinator(cfg RecoveryConfig, onStatus StatusFunc, onClock ClockFallbackFunc) *Coordinator {
	if cfg.MaxAudioRetries <= 0 {
		cfg.MaxAudioRetries = DefaultRecoveryConfig().MaxAudioRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRecoveryConfig().RetryBackoff
	}
	if cfg.DriftAlertCount <= 0 {
		cfg.DriftAlertCount = DefaultRecoveryConfig().DriftAlertCount
	}
	if cfg.DriftAlertWindow <= 0 {
		cfg.DriftAlertWindow = DefaultRecoveryConfig().DriftAlertWindow
	}
	return &Coordinator{
		cfg:      cfg,
		faults:   make(chan Fault, 64),
		onStatus: onStatus,
		onClock:  onClock,
	}
}

// Report submits a fault without blocking. Reports beyond the buffer are
// dropped and counted; losing a report is better than stalling the
// timing thread.
func (c *Coordinator) Report(f Fault) {
	select {
	case c.faults <- f:
	default:
		c.mu.Lock()
		c.droppedHits++
		c.mu.Unlock()
	}
}

// Run processes fault reports until ctx is cancelled (run in goroutine)
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.faults:
			c.handle(f)
		}
	}
}

func (c *Coordinator) handle(f Fault) {
	switch f.Kind {
	case FaultTimingDrift:
		c.handleDrift(f)
	case FaultAudioHandoff:
		c.handleAudio(f)
	case FaultClockSyncLost:
		c.handleClockLost(f)
	}
}

// handleDrift logs every drift but only surfaces repeated drift within
// the alert window
func (c *Coordinator) handleDrift(f Fault) {
	debug.Log("recover", "timing drift: %s", f.Detail)

	c.mu.Lock()
	c.driftCount++
	cutoff := f.At.Add(-c.cfg.DriftAlertWindow)
	kept := c.driftTimes[:0]
	for _, t := range c.driftTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.driftTimes = append(kept, f.At)
	alert := len(c.driftTimes) >= c.cfg.DriftAlertCount && !c.driftAlerted
	if alert {
		c.driftAlerted = true
	}
	c.mu.Unlock()

	if alert {
		c.status(false, "sustained timing drift, engine in catch-up mode")
	}
}

// handleAudio retries the hand-off with backoff; exhausting the retries
// drops to degraded no-audio mode
func (c *Coordinator) handleAudio(f Fault) {
	debug.Log("recover", "audio hand-off failed: %v", f.Err)
	if f.Retry == nil {
		return
	}

	for i := 0; i < c.cfg.MaxAudioRetries; i++ {
		time.Sleep(c.cfg.RetryBackoff << uint(i))
		c.mu.Lock()
		c.audioRetries++
		c.mu.Unlock()
		if err := f.Retry(); err == nil {
			c.mu.Lock()
			c.audioFailures = 0
			c.mu.Unlock()
			return
		}
	}

	c.mu.Lock()
	c.audioFailures++
	already := c.degraded
	c.degraded = true
	c.mu.Unlock()

	if !already {
		c.status(true, "audio engine unavailable, continuing without audio")
	}
}

// handleClockLost falls back to the internal clock and surfaces the change
func (c *Coordinator) handleClockLost(f Fault) {
	debug.Log("recover", "external clock lost: %s", f.Detail)
	if c.onClock != nil {
		c.onClock()
	}
	c.status(false, "external clock lost, reverted to internal clock")
}

// ClearDegraded re-arms audio after the collaborator recovers
func (c *Coordinator) ClearDegraded() {
	c.mu.Lock()
	was := c.degraded
	c.degraded = false
	c.audioFailures = 0
	c.mu.Unlock()
	if was {
		c.status(false, "audio engine recovered")
	}
}

// Counters returns monitoring totals: drift faults, dropped reports and
// audio retries
func (c *Coordinator) Counters() (drift, dropped, retries uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.driftCount, c.droppedHits, c.audioRetries
}

func (c *Coordinator) status(degraded bool, msg string) {
	debug.Log("recover", "status: degraded=%v %s", degraded, msg)
	if c.onStatus != nil {
		c.onStatus(degraded, msg)
	}
}
