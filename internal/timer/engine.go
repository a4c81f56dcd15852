// Package timer implements the persistable one-second countdown that
// drives automatic session completion. The engine owns no session
// semantics: it counts, persists, and fires callbacks; the controller
// decides what completion means.
package timer

import (
	"errors"
	"log"
	"sync"
	"time"

	"focusmate/internal/schedule"
	"focusmate/pkg/types"
)

// ErrNotResumable is returned when resuming a timer that already
// completed; a completed timer must be reset before it can run again.
var ErrNotResumable = errors.New("timer already completed; reset to restart")

// notifyThresholds are the remaining-seconds marks that fire discrete
// notification events for UI and sound cues.
var notifyThresholds = []int{300, 60, 30, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}

// Persistence stores countdown snapshots keyed by session id. The SQLite
// store satisfies this; tests substitute an in-memory one.
type Persistence interface {
	Save(snap *types.TimerSnapshot) error
	Load(sessionID string) (*types.TimerSnapshot, error)
}

// Callbacks are fired from the tick goroutine, one at a time, outside
// the engine lock. They must not block for long.
type Callbacks struct {
	OnTick        func(remainingSeconds int)
	OnPhaseChange func(phase schedule.TimerPhase, urgency schedule.Urgency)
	OnThreshold   func(secondsLeft int)
	OnComplete    func()
}

// Engine is a countdown for one session.
type Engine struct {
	mu        sync.Mutex
	key       string
	persist   Persistence
	callbacks Callbacks

	total     int
	remaining int
	running   bool
	completed bool
	fired     bool // OnComplete fired; completion is exactly-once
	lastPhase schedule.TimerPhase

	interval time.Duration
	now      func() time.Time

	loopDone chan struct{}
	loopOnce sync.Once
	loopUp   bool
}

// New creates an engine. key and persist may be zero when the countdown
// should not survive a reload.
func New(key string, persist Persistence, callbacks Callbacks) *Engine {
	return &Engine{
		key:       key,
		persist:   persist,
		callbacks: callbacks,
		interval:  time.Second,
		now:       time.Now,
		loopDone:  make(chan struct{}),
	}
}

// SetTickInterval overrides the one-second tick. Call it before Start;
// tests use it to compress countdowns.
func (e *Engine) SetTickInterval(d time.Duration) {
	e.mu.Lock()
	e.interval = d
	e.mu.Unlock()
}

// SetClock overrides the wall-clock source used for restore arithmetic
// and snapshot timestamps.
func (e *Engine) SetClock(fn func() time.Time) {
	e.mu.Lock()
	e.now = fn
	e.mu.Unlock()
}

// Start seeds the countdown and begins ticking.
func (e *Engine) Start(totalSeconds int) {
	e.StartAt(totalSeconds, totalSeconds)
}

// StartAt seeds the countdown mid-flight, for a viewer joining after
// the scheduled start: total keeps the phase fractions honest while
// remaining reflects the wall clock. remaining never exceeds total.
func (e *Engine) StartAt(totalSeconds, remainingSeconds int) {
	if remainingSeconds > totalSeconds {
		remainingSeconds = totalSeconds
	}
	if remainingSeconds < 0 {
		remainingSeconds = 0
	}

	e.mu.Lock()
	e.total = totalSeconds
	e.remaining = remainingSeconds
	e.completed = false
	e.fired = false
	e.running = remainingSeconds > 0
	e.lastPhase, _ = schedule.ComputeTimerPhase(e.remaining, e.total, e.running)
	e.mu.Unlock()

	if remainingSeconds <= 0 {
		e.finish()
		return
	}

	e.persistState()
	e.startLoop()
}

// Restore seeds the countdown from the persisted snapshot, charging the
// timer for the wall-clock time that passed since the last persisted
// tick. Returns the remaining seconds after the adjustment. A timer
// whose time ran out while away completes immediately.
func (e *Engine) Restore() (int, error) {
	if e.persist == nil || e.key == "" {
		return 0, types.ErrSessionNotFound
	}
	snap, err := e.persist.Load(e.key)
	if err != nil {
		return 0, err
	}

	remaining := snap.RemainingSeconds
	if snap.IsRunning {
		elapsed := int(e.now().Sub(snap.LastTick) / time.Second)
		if elapsed > 0 {
			remaining -= elapsed
		}
	}
	if remaining < 0 {
		remaining = 0
	}

	e.mu.Lock()
	e.total = snap.TotalSeconds
	e.remaining = remaining
	e.completed = false
	e.fired = false
	e.running = snap.IsRunning && remaining > 0
	e.lastPhase, _ = schedule.ComputeTimerPhase(e.remaining, e.total, e.running)
	e.mu.Unlock()

	if remaining == 0 {
		e.finish()
		return 0, nil
	}

	e.persistState()
	if snap.IsRunning {
		e.startLoop()
	}
	return remaining, nil
}

// Pause stops ticking without losing position.
func (e *Engine) Pause() {
	e.mu.Lock()
	changed := e.running && !e.completed
	e.running = false
	e.mu.Unlock()

	if changed {
		e.persistState()
		e.firePhaseChange()
	}
}

// Resume continues a paused countdown. A completed timer refuses.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.completed {
		e.mu.Unlock()
		return ErrNotResumable
	}
	changed := !e.running
	e.running = true
	e.mu.Unlock()

	if changed {
		e.persistState()
		e.firePhaseChange()
	}
	e.startLoop()
	return nil
}

// Reset returns the countdown to its full duration, stopped.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.remaining = e.total
	e.running = false
	e.completed = false
	e.fired = false
	e.lastPhase, _ = schedule.ComputeTimerPhase(e.remaining, e.total, false)
	e.mu.Unlock()

	e.persistState()
}

// Stop halts the tick loop for teardown. It fires nothing and does not
// wait for the loop goroutine: completion callbacks run on that
// goroutine and may themselves call Stop.
func (e *Engine) Stop() {
	e.loopOnce.Do(func() { close(e.loopDone) })
}

// Total returns the seeded duration in seconds.
func (e *Engine) Total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

// Remaining returns the seconds left.
func (e *Engine) Remaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remaining
}

// IsRunning reports whether the countdown is ticking.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Completed reports whether the countdown reached zero.
func (e *Engine) Completed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

// Phase classifies the current position.
func (e *Engine) Phase() (schedule.TimerPhase, schedule.Urgency) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return schedule.ComputeTimerPhase(e.remaining, e.total, e.running)
}

// Snapshot returns the persistable state.
func (e *Engine) Snapshot() types.TimerSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return types.TimerSnapshot{
		SessionID:        e.key,
		TotalSeconds:     e.total,
		RemainingSeconds: e.remaining,
		IsRunning:        e.running,
		LastTick:         e.now(),
	}
}

// startLoop launches the tick goroutine if it is not already up.
func (e *Engine) startLoop() {
	e.mu.Lock()
	if e.interval <= 0 || e.loopUp {
		// Manual stepping (tests drive step directly), or already ticking.
		e.mu.Unlock()
		return
	}
	e.loopUp = true
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			e.loopUp = false
			e.mu.Unlock()
		}()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if e.step() {
					return
				}
			case <-e.loopDone:
				return
			}
		}
	}()
}

// step advances the countdown by one second. Returns true once the
// countdown has finished and the loop should exit.
func (e *Engine) step() bool {
	e.mu.Lock()
	if !e.running || e.completed {
		done := e.completed
		e.mu.Unlock()
		return done
	}

	e.remaining--
	remaining := e.remaining

	crossed := 0
	for _, th := range notifyThresholds {
		if remaining == th {
			crossed = th
			break
		}
	}

	phase, urgency := schedule.ComputeTimerPhase(remaining, e.total, e.running)
	phaseChanged := phase != e.lastPhase
	e.lastPhase = phase

	finished := remaining <= 0
	if finished {
		e.running = false
		e.completed = true
	}
	e.mu.Unlock()

	if e.callbacks.OnTick != nil {
		e.callbacks.OnTick(remaining)
	}
	if crossed > 0 && e.callbacks.OnThreshold != nil {
		e.callbacks.OnThreshold(crossed)
	}
	if phaseChanged && !finished && e.callbacks.OnPhaseChange != nil {
		e.callbacks.OnPhaseChange(phase, urgency)
	}

	e.persistState()

	if finished {
		e.finish()
		return true
	}
	return false
}

// finish fires OnComplete exactly once.
func (e *Engine) finish() {
	e.mu.Lock()
	if e.fired {
		e.mu.Unlock()
		return
	}
	e.fired = true
	e.running = false
	e.completed = true
	e.remaining = 0
	e.lastPhase = schedule.PhaseEnded
	e.mu.Unlock()

	e.persistState()
	if e.callbacks.OnPhaseChange != nil {
		e.callbacks.OnPhaseChange(schedule.PhaseEnded, schedule.UrgencyCritical)
	}
	if e.callbacks.OnComplete != nil {
		e.callbacks.OnComplete()
	}
}

func (e *Engine) firePhaseChange() {
	if e.callbacks.OnPhaseChange == nil {
		return
	}
	phase, urgency := e.Phase()
	e.mu.Lock()
	e.lastPhase = phase
	e.mu.Unlock()
	e.callbacks.OnPhaseChange(phase, urgency)
}

// persistState writes the current snapshot; persistence failures are
// logged and absorbed since a lost snapshot only costs reload accuracy.
func (e *Engine) persistState() {
	if e.persist == nil || e.key == "" {
		return
	}
	snap := e.Snapshot()
	if err := e.persist.Save(&snap); err != nil {
		log.Printf("timer: failed to persist state for %s: %v", e.key, err)
	}
}
