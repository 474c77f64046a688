// Package click turns raw physical button press/release events into
// resolved vDC API click types, discriminating short taps from holds
// and counting multi-click sequences.
package click

import (
	"sync"
	"time"

	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

// Default timing constants, seconds expressed as durations.
const (
	DefaultTipTimeout         = 250 * time.Millisecond
	DefaultMultiClickWindow   = 300 * time.Millisecond
	DefaultHoldRepeatInterval = time.Second
)

type state int

const (
	idle state = iota
	pressed
	tipWait
	holding
)

// Callback receives a resolved click type. value is true while the
// button is physically down (hold events), false once released
// (click/tip events).
type Callback func(clickType vdcapi.ButtonClickType, value bool)

// Config holds the per-button timing parameters and click-vs-tip mode.
type Config struct {
	TipTimeout         time.Duration
	MultiClickWindow   time.Duration
	HoldRepeatInterval time.Duration
	UseTipEvents       bool
}

// DefaultConfig returns the timing parameters used when none are set.
func DefaultConfig() Config {
	return Config{
		TipTimeout:         DefaultTipTimeout,
		MultiClickWindow:   DefaultMultiClickWindow,
		HoldRepeatInterval: DefaultHoldRepeatInterval,
	}
}

// Detector is the click-detection state machine: IDLE -> PRESSED ->
// TIP_WAIT/HOLDING -> IDLE. It is safe for concurrent use; Press and
// Release are expected to be called from whatever goroutine observes
// the physical input.
type Detector struct {
	mu       sync.Mutex
	cfg      Config
	onClick  Callback
	state    state
	tipCount int

	tipTimer         *time.Timer
	multiClickTimer  *time.Timer
	holdRepeatTimer  *time.Timer
}

// New creates a Detector that invokes onClick whenever a press/release
// sequence resolves to a click type.
func New(cfg Config, onClick Callback) *Detector {
	return &Detector{cfg: cfg, onClick: onClick, state: idle}
}

// State reports the current FSM state as a lowercase string, useful
// for diagnostics and tests.
func (d *Detector) State() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case pressed:
		return "pressed"
	case tipWait:
		return "tip_wait"
	case holding:
		return "holding"
	default:
		return "idle"
	}
}

// TipCount returns the short-press count accumulated in the current
// multi-click sequence.
func (d *Detector) TipCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tipCount
}

// Press signals a hardware button-down event. Ignored if the button
// is already pressed or holding.
func (d *Detector) Press() {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case idle:
		d.tipCount = 0
		d.state = pressed
		d.scheduleTipTimerLocked()
	case tipWait:
		d.cancelMultiClickTimerLocked()
		d.state = pressed
		d.scheduleTipTimerLocked()
	}
}

// Release signals a hardware button-up event. Ignored if the button
// is not currently pressed or holding.
func (d *Detector) Release() {
	d.mu.Lock()

	switch d.state {
	case pressed:
		d.cancelTipTimerLocked()
		d.tipCount++
		d.state = tipWait
		d.scheduleMultiClickTimerLocked()
		d.mu.Unlock()
	case holding:
		d.cancelHoldRepeatTimerLocked()
		d.state = idle
		d.tipCount = 0
		d.mu.Unlock()
		d.emit(vdcapi.ClickHoldEnd, false)
	default:
		d.mu.Unlock()
	}
}

// Stop cancels every pending timer and resets the detector to IDLE.
// Call when the button is removed, the vdSD vanishes, or the session
// disconnects.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelTipTimerLocked()
	d.cancelMultiClickTimerLocked()
	d.cancelHoldRepeatTimerLocked()
	d.state = idle
	d.tipCount = 0
}

func (d *Detector) emit(clickType vdcapi.ButtonClickType, value bool) {
	if d.onClick != nil {
		d.onClick(clickType, value)
	}
}

// ---- tip timer: discriminates a short tap from the start of a hold ----

func (d *Detector) scheduleTipTimerLocked() {
	d.cancelTipTimerLocked()
	d.tipTimer = time.AfterFunc(d.cfg.TipTimeout, d.onTipTimeout)
}

func (d *Detector) cancelTipTimerLocked() {
	if d.tipTimer != nil {
		d.tipTimer.Stop()
		d.tipTimer = nil
	}
}

func (d *Detector) onTipTimeout() {
	d.mu.Lock()
	d.tipTimer = nil
	if d.state != pressed {
		d.mu.Unlock()
		return
	}
	d.state = holding
	tipCount := d.tipCount
	d.scheduleHoldRepeatTimerLocked()
	d.mu.Unlock()

	switch {
	case tipCount == 0:
		d.emit(vdcapi.ClickHoldStart, true)
	case tipCount == 1:
		d.emit(vdcapi.ClickShortLong, true)
	default:
		d.emit(vdcapi.ClickShortShortLong, true)
	}
}

// ---- multi-click window: resolves the accumulated tip count --------

func (d *Detector) scheduleMultiClickTimerLocked() {
	d.cancelMultiClickTimerLocked()
	d.multiClickTimer = time.AfterFunc(d.cfg.MultiClickWindow, d.onMultiClickTimeout)
}

func (d *Detector) cancelMultiClickTimerLocked() {
	if d.multiClickTimer != nil {
		d.multiClickTimer.Stop()
		d.multiClickTimer = nil
	}
}

func (d *Detector) onMultiClickTimeout() {
	d.mu.Lock()
	d.multiClickTimer = nil
	if d.state != tipWait {
		d.mu.Unlock()
		return
	}
	d.state = idle
	tipCount := d.tipCount
	useTip := d.cfg.UseTipEvents
	d.tipCount = 0
	d.mu.Unlock()

	d.emit(resolveClickType(tipCount, useTip), false)
}

func resolveClickType(tipCount int, useTip bool) vdcapi.ButtonClickType {
	if useTip {
		switch tipCount {
		case 1:
			return vdcapi.ClickTip1x
		case 2:
			return vdcapi.ClickTip2x
		case 3:
			return vdcapi.ClickTip3x
		default:
			return vdcapi.ClickTip4x
		}
	}
	switch tipCount {
	case 1:
		return vdcapi.ClickClick1x
	case 2:
		return vdcapi.ClickClick2x
	default:
		return vdcapi.ClickClick3x
	}
}

// ---- hold-repeat timer: periodic events while the button is held ----

func (d *Detector) scheduleHoldRepeatTimerLocked() {
	d.cancelHoldRepeatTimerLocked()
	d.holdRepeatTimer = time.AfterFunc(d.cfg.HoldRepeatInterval, d.onHoldRepeatTimeout)
}

func (d *Detector) cancelHoldRepeatTimerLocked() {
	if d.holdRepeatTimer != nil {
		d.holdRepeatTimer.Stop()
		d.holdRepeatTimer = nil
	}
}

func (d *Detector) onHoldRepeatTimeout() {
	d.mu.Lock()
	d.holdRepeatTimer = nil
	if d.state != holding {
		d.mu.Unlock()
		return
	}
	d.scheduleHoldRepeatTimerLocked()
	d.mu.Unlock()

	d.emit(vdcapi.ClickHoldRepeat, true)
}
