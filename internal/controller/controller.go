// Package controller runs the live-session state machine, one instance
// per connected participant. The controller owns the viewer's countdown
// and video attach; the session record in the store stays the single
// shared resource, mutated only through conditional and idempotent
// writes, never held under a lock across participants.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"focusmate/internal/schedule"
	"focusmate/internal/timer"
	"focusmate/pkg/interfaces"
	"focusmate/pkg/types"
)

// State is the controller's top-level position. Video readiness is a
// sub-flag of Active, never a state: session liveness does not depend
// on the widget.
type State string

const (
	StateLoading State = "loading"
	StateActive  State = "active"
	StateEnded   State = "ended"
	StateError   State = "error"
)

const (
	// videoAttachTimeout bounds the background room attach; past it the
	// session proceeds without live video.
	videoAttachTimeout = 8 * time.Second

	// completeRetryDelay spaces the single retry of a transient
	// completion-write failure.
	completeRetryDelay = 500 * time.Millisecond
)

// Snapshot is the client-facing view of one controller, pushed on every
// observable change.
type Snapshot struct {
	State            State               `json:"state"`
	Session          *types.Session      `json:"session,omitempty"`
	Role             string              `json:"role,omitempty"`
	RemainingSeconds int                 `json:"remaining_seconds"`
	TimerRunning     bool                `json:"timer_running"`
	Phase            schedule.TimerPhase `json:"phase"`
	Urgency          schedule.Urgency    `json:"urgency"`
	VideoDegraded    bool                `json:"video_degraded"`
	ParticipantCount int                 `json:"participant_count"`
	Error            string              `json:"error,omitempty"`
}

// Events carries the controller's outbound notifications. Callbacks
// fire outside the controller lock and may arrive from the tick, video,
// and subscription goroutines; consumers serialize their own writes.
type Events struct {
	// OnUpdate fires after every state or snapshot-visible change.
	OnUpdate func(Snapshot)

	// OnThreshold relays countdown marks for sound/UI cues.
	OnThreshold func(secondsLeft int)

	// OnVideoDegraded fires once if the room attach fails or times out.
	OnVideoDegraded func(err error)

	// OnEnded fires once when the controller reaches Ended, with the
	// final record if known.
	OnEnded func(*types.Session)
}

// Controller drives one participant's view of one session.
type Controller struct {
	store    interfaces.SessionStore
	attacher interfaces.VideoAttacher
	events   Events

	sessionID   string
	viewerID    string
	displayName string

	mu            sync.Mutex
	state         State
	sess          *types.Session
	role          string
	countdown     *timer.Engine
	unsubscribe   func()
	video         interfaces.VideoHandle
	videoDegraded bool
	participants  int
	lastErr       error
	closed        bool
	endedFired    bool

	now           func() time.Time
	attachTimeout time.Duration
	retryDelay    time.Duration
	tickInterval  time.Duration
	wg            sync.WaitGroup
}

// New creates a controller for viewerID's view of sessionID. Start must
// be called before anything else.
func New(store interfaces.SessionStore, attacher interfaces.VideoAttacher, sessionID, viewerID, displayName string, events Events) *Controller {
	return &Controller{
		store:         store,
		attacher:      attacher,
		events:        events,
		sessionID:     sessionID,
		viewerID:      viewerID,
		displayName:   displayName,
		state:         StateLoading,
		now:           time.Now,
		attachTimeout: videoAttachTimeout,
		retryDelay:    completeRetryDelay,
	}
}

// Start loads the record, verifies access, and either transitions to
// Active (subscribing and seeding the countdown) or Ended (record
// already terminal) or Error. It never waits for the video room: the
// attach runs in the background, time-boxed.
func (c *Controller) Start(ctx context.Context) error {
	c.setState(StateLoading, nil)

	sess, err := c.store.GetSession(ctx, c.sessionID)
	if err != nil {
		c.setState(StateError, err)
		return err
	}
	if !sess.InvolvesUser(c.viewerID) {
		err := fmt.Errorf("%w: user %s is not part of session %s", types.ErrAccessDenied, c.viewerID, c.sessionID)
		c.setState(StateError, err)
		return err
	}

	c.mu.Lock()
	c.sess = sess
	c.role = sess.RoleOf(c.viewerID)
	c.mu.Unlock()

	if sess.IsTerminal() {
		// Someone else already closed the record; nothing to write.
		c.transitionEnded()
		return nil
	}

	c.mu.Lock()
	if c.closed {
		// Torn down while the load was in flight.
		c.mu.Unlock()
		return nil
	}
	c.countdown = c.newCountdown()
	c.unsubscribe = c.store.Subscribe(c.sessionID, c.onRecordChange)
	c.mu.Unlock()

	c.seedCountdown(sess)

	c.mu.Lock()
	ended := c.state == StateEnded
	c.mu.Unlock()
	if ended {
		// The restored countdown had already elapsed; completion ran
		// during seeding.
		return nil
	}
	c.setState(StateActive, nil)

	if err := c.store.MarkActive(ctx, c.sessionID); err != nil {
		if errors.Is(err, types.ErrConflict) {
			// The record went terminal between the load and the
			// activation write; re-read and close out now instead of
			// running active on a dead record.
			if latest, getErr := c.store.GetSession(ctx, c.sessionID); getErr == nil && latest.IsTerminal() {
				c.mu.Lock()
				c.sess = latest
				c.mu.Unlock()
				c.transitionEnded()
				return nil
			}
		} else {
			log.Printf("controller: failed to mark session %s active: %v", c.sessionID, err)
		}
	}

	c.startVideoAttach()
	return nil
}

// Retry re-runs Start from the Error state.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateError {
		c.mu.Unlock()
		return fmt.Errorf("%w: retry only applies to a failed load", types.ErrConflict)
	}
	c.lastErr = nil
	c.state = StateLoading
	c.mu.Unlock()
	return c.Start(ctx)
}

// EndSession is the owner's manual end. Non-owners get AccessDenied;
// they Leave instead.
func (c *Controller) EndSession(ctx context.Context) error {
	c.mu.Lock()
	role := c.role
	c.mu.Unlock()
	if role != types.RoleOwner {
		return fmt.Errorf("%w: only the session owner may end it", types.ErrAccessDenied)
	}
	return c.finish(ctx, types.CompletedByOwner)
}

// Leave tears the controller down without mutating session status; the
// remaining participant's session continues.
func (c *Controller) Leave() {
	c.teardown()
	c.fireEnded()
}

// Close releases everything. Safe to call more than once; async
// callbacks landing afterwards are no-ops.
func (c *Controller) Close() {
	c.teardown()
}

// PauseTimer and ResumeTimer expose the viewer's countdown controls.
func (c *Controller) PauseTimer() {
	if cd := c.activeCountdown(); cd != nil {
		cd.Pause()
		c.pushUpdate()
	}
}

func (c *Controller) ResumeTimer() error {
	cd := c.activeCountdown()
	if cd == nil {
		return fmt.Errorf("%w: no running session", types.ErrConflict)
	}
	if err := cd.Resume(); err != nil {
		return err
	}
	c.pushUpdate()
	return nil
}

// Snapshot assembles the current client-facing view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the current top-level state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:            c.state,
		Session:          c.sess,
		Role:             c.role,
		VideoDegraded:    c.videoDegraded,
		ParticipantCount: c.participants,
	}
	if c.countdown != nil {
		snap.RemainingSeconds = c.countdown.Remaining()
		snap.TimerRunning = c.countdown.IsRunning()
		snap.Phase, snap.Urgency = c.countdown.Phase()
	}
	if c.state == StateEnded {
		snap.Phase = schedule.PhaseEnded
		snap.Urgency = schedule.UrgencyCritical
		snap.TimerRunning = false
	}
	if c.lastErr != nil {
		snap.Error = c.lastErr.Error()
	}
	return snap
}

// newCountdown builds the per-viewer engine wired to the store's timer
// persistence and the controller's completion path.
func (c *Controller) newCountdown() *timer.Engine {
	eng := timer.New(c.sessionID, &storePersistence{store: c.store}, timer.Callbacks{
		OnTick: func(int) { c.pushUpdate() },
		OnPhaseChange: func(schedule.TimerPhase, schedule.Urgency) {
			c.pushUpdate()
		},
		OnThreshold: func(s int) {
			if c.isClosed() {
				return
			}
			if c.events.OnThreshold != nil {
				c.events.OnThreshold(s)
			}
		},
		OnComplete: func() {
			if c.isClosed() {
				return
			}
			if err := c.finish(context.Background(), types.CompletedByTimer); err != nil {
				log.Printf("controller: timer completion write for %s: %v", c.sessionID, err)
			}
		},
	})
	eng.SetClock(c.now)
	if c.tickInterval > 0 {
		eng.SetTickInterval(c.tickInterval)
	}
	return eng
}

// seedCountdown starts the countdown with the wall-clock remaining
// time, so a late join never extends the session. A persisted snapshot
// is honored only if it shows less time than the wall clock allows
// (a pause survives reconnect; a stale value never adds time back).
func (c *Controller) seedCountdown(sess *types.Session) {
	c.mu.Lock()
	cd := c.countdown
	c.mu.Unlock()
	if cd == nil {
		return
	}

	total := sess.DurationMinutes * 60
	wallRemaining := schedule.RemainingSeconds(sess.StartTime, sess.DurationMinutes, c.now())

	if restored, err := cd.Restore(); err == nil && restored <= wallRemaining {
		return
	}
	cd.StartAt(total, wallRemaining)
}

// startVideoAttach runs the time-boxed background attach. Failure
// degrades the session, never ends or errors it.
func (c *Controller) startVideoAttach() {
	if c.attacher == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.attachTimeout)
		defer cancel()

		handle, err := c.attacher.Attach(ctx, c.sessionID, c.displayName, interfaces.VideoEvents{
			OnJoined:            func() { c.onPresenceChange() },
			OnParticipantJoined: func(string) { c.onPresenceChange() },
			OnParticipantLeft:   func(string) { c.onPresenceChange() },
			OnReadyToClose:      func() { c.onWidgetReadyToClose() },
		})

		c.mu.Lock()
		if c.closed || c.state != StateActive {
			c.mu.Unlock()
			if handle != nil {
				handle.Dispose()
			}
			return
		}
		if err != nil {
			c.videoDegraded = true
			c.mu.Unlock()
			degraded := fmt.Errorf("%w: %v", types.ErrVideoUnavailable, err)
			log.Printf("controller: video attach for %s degraded: %v", c.sessionID, err)
			if c.events.OnVideoDegraded != nil {
				c.events.OnVideoDegraded(degraded)
			}
			c.pushUpdate()
			return
		}
		c.video = handle
		c.participants = handle.ParticipantCount()
		c.mu.Unlock()
		c.pushUpdate()
	}()
}

func (c *Controller) onPresenceChange() {
	c.mu.Lock()
	if c.closed || c.video == nil {
		c.mu.Unlock()
		return
	}
	c.participants = c.video.ParticipantCount()
	c.mu.Unlock()
	c.pushUpdate()
}

// onWidgetReadyToClose treats the widget's own close signal as a manual
// end attributed to whichever participant this controller serves.
func (c *Controller) onWidgetReadyToClose() {
	c.mu.Lock()
	if c.closed || c.state != StateActive {
		c.mu.Unlock()
		return
	}
	role := c.role
	c.mu.Unlock()

	by := types.CompletedByOwner
	if role == types.RolePartner {
		by = types.CompletedByPartner
	}
	if err := c.finish(context.Background(), by); err != nil {
		log.Printf("controller: widget-close completion for %s: %v", c.sessionID, err)
	}
}

// onRecordChange reacts to committed store mutations. A terminal status
// written by the other participant moves this controller to Ended with
// no write of its own.
func (c *Controller) onRecordChange(sess *types.Session) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.sess = sess
	c.role = sess.RoleOf(c.viewerID)
	active := c.state == StateActive
	c.mu.Unlock()

	if sess.IsTerminal() && active {
		c.transitionEnded()
		return
	}
	c.pushUpdate()
}

// finish performs the idempotent terminal write and transitions to
// Ended. actual minutes never exceed the booked duration. A transient
// store failure is retried once; when the other side already closed the
// record the write is skipped and that is success.
func (c *Controller) finish(ctx context.Context, completedBy string) error {
	c.mu.Lock()
	if c.closed || c.state == StateEnded {
		c.mu.Unlock()
		return nil
	}
	cd := c.countdown
	sess := c.sess
	c.mu.Unlock()

	actual := 0
	if sess != nil {
		actual = sess.DurationMinutes
		if cd != nil {
			cd.Pause()
			elapsed := cd.Total() - cd.Remaining()
			if m := elapsed / 60; m < actual {
				actual = m
			}
		}
	}

	_, err := c.store.CompleteSession(ctx, c.sessionID, actual, completedBy)
	if err != nil && errors.Is(err, types.ErrStoreUnavailable) {
		time.Sleep(c.retryDelay)
		_, err = c.store.CompleteSession(ctx, c.sessionID, actual, completedBy)
	}
	if err != nil && !errors.Is(err, types.ErrConflict) {
		// The session still ends locally; the record write is the part
		// that failed, and the other participant's controller or a later
		// reconnect can complete it.
		log.Printf("controller: completion write for %s failed: %v", c.sessionID, err)
	}

	c.refreshRecord(ctx)
	c.transitionEnded()
	return nil
}

// refreshRecord best-effort reloads the record so Ended snapshots carry
// the terminal fields.
func (c *Controller) refreshRecord(ctx context.Context) {
	sess, err := c.store.GetSession(ctx, c.sessionID)
	if err != nil {
		return
	}
	c.mu.Lock()
	if !c.closed {
		c.sess = sess
	}
	c.mu.Unlock()
}

func (c *Controller) transitionEnded() {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	c.state = StateEnded
	c.lastErr = nil
	cd := c.countdown
	unsub := c.unsubscribe
	c.unsubscribe = nil
	video := c.video
	c.video = nil
	c.mu.Unlock()

	if cd != nil {
		cd.Pause()
		cd.Stop()
	}
	if unsub != nil {
		unsub()
	}
	if video != nil {
		video.Dispose()
	}

	c.pushUpdate()
	c.fireEnded()
}

func (c *Controller) fireEnded() {
	c.mu.Lock()
	if c.endedFired {
		c.mu.Unlock()
		return
	}
	c.endedFired = true
	sess := c.sess
	c.mu.Unlock()
	if c.events.OnEnded != nil {
		c.events.OnEnded(sess)
	}
}

// teardown releases resources and flags the instance so in-flight async
// callbacks become no-ops.
func (c *Controller) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cd := c.countdown
	unsub := c.unsubscribe
	c.unsubscribe = nil
	video := c.video
	c.video = nil
	c.mu.Unlock()

	if cd != nil {
		cd.Stop()
	}
	if unsub != nil {
		unsub()
	}
	if video != nil {
		video.Dispose()
	}
	c.wg.Wait()
}

func (c *Controller) setState(s State, err error) {
	c.mu.Lock()
	if c.closed || c.state == StateEnded {
		// Ended is terminal for the controller instance.
		c.mu.Unlock()
		return
	}
	c.state = s
	c.lastErr = err
	c.mu.Unlock()
	c.pushUpdate()
}

func (c *Controller) pushUpdate() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	if c.events.OnUpdate != nil {
		c.events.OnUpdate(snap)
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) activeCountdown() *timer.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return nil
	}
	return c.countdown
}

// storePersistence adapts the SessionStore timer-state methods to the
// countdown engine's Persistence interface.
type storePersistence struct {
	store interfaces.SessionStore
}

func (p *storePersistence) Save(snap *types.TimerSnapshot) error {
	return p.store.SaveTimerState(context.Background(), snap)
}

func (p *storePersistence) Load(sessionID string) (*types.TimerSnapshot, error) {
	return p.store.LoadTimerState(context.Background(), sessionID)
}
