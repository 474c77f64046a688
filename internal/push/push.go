// Package push implements the push/alive-timer throttle engine shared
// by every input that notifies the vdSM of state changes: binary
// inputs, sensor inputs and buttons all push through an Engine rather
// than writing to the session directly.
package push

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds the three throttling knobs exposed as vDC API
// properties on every pushing input.
type Config struct {
	// MinPushInterval rate-limits pushes: a push arriving sooner than
	// this after the previous one is deferred, not dropped.
	MinPushInterval time.Duration
	// ChangesOnlyInterval suppresses a push that repeats the same
	// state within this window of the previous push.
	ChangesOnlyInterval time.Duration
	// AliveSignInterval is the heartbeat period: if no push happens
	// within this long, the engine forces one so the vdSM can tell
	// the input is still alive.
	AliveSignInterval time.Duration
}

// Sender performs the actual wire push and reports whether it
// succeeded. Errors are logged and swallowed by the engine — a failed
// push still reschedules the alive timer, mirroring the source
// behaviour of never letting a transient send failure silence the
// heartbeat.
type Sender[K comparable] interface {
	// CurrentKey returns a comparable snapshot of the state that would
	// be pushed right now, used to detect unchanged values.
	CurrentKey() K
	// IsAnnounced reports whether the owning entity is currently
	// announced to the vdSM; unannounced entities never push.
	IsAnnounced() bool
	// Push sends the current state as a notification. force is true
	// when called from the alive timer or a deferred/forced push and
	// should bypass any additional throttling the sender itself might
	// otherwise apply.
	Push(force bool) error
}

// Engine runs the push/alive-timer state machine for a single input.
// It is safe for concurrent use.
type Engine[K comparable] struct {
	mu     sync.Mutex
	cfg    Config
	sender Sender[K]

	active bool

	havePushed    bool
	lastPushTime  time.Time
	lastPushedKey K

	deferredTimer *time.Timer
	aliveTimer    *time.Timer
}

// New creates an Engine for sender using cfg's throttle intervals.
func New[K comparable](cfg Config, sender Sender[K]) *Engine[K] {
	return &Engine[K]{cfg: cfg, sender: sender}
}

// SetConfig updates the throttle intervals, e.g. after a vdSM
// SetProperty request changes minPushInterval or changesOnlyInterval.
func (e *Engine[K]) SetConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	if e.aliveTimer == nil {
		e.rescheduleAliveTimerLocked()
	}
}

// PushState pushes the sender's current state, honouring throttling
// unless force is true. Call this whenever the underlying value
// changes; the alive timer calls it internally with force=true.
func (e *Engine[K]) PushState(force bool) {
	e.mu.Lock()

	if !e.sender.IsAnnounced() {
		e.mu.Unlock()
		return
	}

	now := time.Now()
	currentKey := e.sender.CurrentKey()

	if !force && e.havePushed {
		elapsed := now.Sub(e.lastPushTime)

		if e.cfg.ChangesOnlyInterval > 0 &&
			currentKey == e.lastPushedKey &&
			elapsed < e.cfg.ChangesOnlyInterval {
			e.mu.Unlock()
			return
		}

		if e.cfg.MinPushInterval > 0 && elapsed < e.cfg.MinPushInterval {
			delay := e.cfg.MinPushInterval - elapsed
			e.scheduleDeferredPushLocked(delay)
			e.mu.Unlock()
			return
		}
	}

	e.mu.Unlock()
	e.doPush(force)
}

// doPush performs the unconditional send-and-track step, then always
// reschedules the alive timer, whether or not the send succeeded.
func (e *Engine[K]) doPush(force bool) {
	err := e.sender.Push(force)

	e.mu.Lock()
	if err != nil {
		log.Warn().Err(err).Msg("push: failed to send state notification")
	} else {
		e.havePushed = true
		e.lastPushTime = time.Now()
		e.lastPushedKey = e.sender.CurrentKey()
	}
	e.rescheduleAliveTimerLocked()
	e.mu.Unlock()
}

func (e *Engine[K]) scheduleDeferredPushLocked(delay time.Duration) {
	e.cancelDeferredTimerLocked()
	e.deferredTimer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		e.deferredTimer = nil
		announced := e.sender.IsAnnounced()
		e.mu.Unlock()
		if announced {
			e.doPush(true)
		}
	})
}

func (e *Engine[K]) cancelDeferredTimerLocked() {
	if e.deferredTimer != nil {
		e.deferredTimer.Stop()
		e.deferredTimer = nil
	}
}

// StartAliveTimer begins periodic alive re-pushes; it is called when
// the owning entity becomes announced. If AliveSignInterval is zero
// the timer never fires, but the engine still tracks that it is
// active so a later SetConfig can start it.
func (e *Engine[K]) StartAliveTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = true
	e.rescheduleAliveTimerLocked()
}

// StopAliveTimer cancels the alive timer and any deferred push; it is
// called when the owning entity vanishes or the session disconnects.
func (e *Engine[K]) StopAliveTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = false
	e.cancelAliveTimerLocked()
	e.cancelDeferredTimerLocked()
}

// rescheduleAliveTimerLocked resets the alive timer so it fires only
// if no push happens within AliveSignInterval of the last one.
func (e *Engine[K]) rescheduleAliveTimerLocked() {
	e.cancelAliveTimerLocked()
	if !e.active || e.cfg.AliveSignInterval <= 0 {
		return
	}
	e.aliveTimer = time.AfterFunc(e.cfg.AliveSignInterval, e.onAliveTimerFired)
}

func (e *Engine[K]) cancelAliveTimerLocked() {
	if e.aliveTimer != nil {
		e.aliveTimer.Stop()
		e.aliveTimer = nil
	}
}

func (e *Engine[K]) onAliveTimerFired() {
	e.mu.Lock()
	e.aliveTimer = nil
	active := e.active
	announced := e.sender.IsAnnounced()
	e.mu.Unlock()

	if active && announced {
		e.PushState(true)
	}
}
