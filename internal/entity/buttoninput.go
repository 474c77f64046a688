package entity

import (
	"strconv"
	"sync"
	"time"

	"github.com/digitalstrom/vdchost/internal/click"
	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

// ButtonInput is a physical button component of a vdSD. State pushes
// from a button are never throttled — every resolved click, hold or
// action event is sent immediately.
type ButtonInput struct {
	mu sync.Mutex

	DsIndex              int
	ButtonType           vdcapi.ButtonType
	ButtonElementID      vdcapi.ButtonElementID
	ButtonID             int
	SupportsLocalKeyMode bool

	// writable settings
	Group            vdcapi.ButtonGroup
	Function         vdcapi.ButtonFunction
	Mode             vdcapi.ButtonMode
	Channel          vdcapi.OutputChannelType
	SetsLocalPriority bool
	CallsPresent      bool

	// volatile: click-mode shape
	value       *bool
	clickType   *vdcapi.ButtonClickType
	// volatile: action-mode shape
	actionID    *int64
	actionMode  *int64
	actionShape bool

	lastUpdate time.Time
	hasUpdate  bool
	Error      vdcapi.InputError

	detector  *click.Detector
	announced func() bool
	sender    NotificationSender
	dsuid     func() string
}

// NewButtonInput creates a button input with its click detector wired
// to push every resolved event immediately.
func NewButtonInput(dsIndex int, announced func() bool, sender NotificationSender, dsuidFn func() string) *ButtonInput {
	b := &ButtonInput{DsIndex: dsIndex, announced: announced, sender: sender, dsuid: dsuidFn}
	b.detector = click.New(click.DefaultConfig(), b.onClick)
	return b
}

func (b *ButtonInput) onClick(clickType vdcapi.ButtonClickType, value bool) {
	b.mu.Lock()
	b.value = &value
	b.clickType = &clickType
	b.actionShape = false
	b.lastUpdate = time.Now()
	b.hasUpdate = true
	b.mu.Unlock()
	b.push()
}

// Press signals a hardware button-down event through the click
// detector.
func (b *ButtonInput) Press() { b.detector.Press() }

// Release signals a hardware button-up event through the click
// detector.
func (b *ButtonInput) Release() { b.detector.Release() }

// Stop cancels the detector's pending timers, called on vanish.
func (b *ButtonInput) Stop() { b.detector.Stop() }

// UpdateClick bypasses the detector with a direct, already-resolved
// click event (§4.6's "update_click" escape hatch).
func (b *ButtonInput) UpdateClick(clickType vdcapi.ButtonClickType, value bool) {
	b.onClick(clickType, value)
}

// UpdateAction reports a scene-trigger style action event instead of
// a click, switching this input's volatile state to the action shape.
func (b *ButtonInput) UpdateAction(actionID, actionMode int64) {
	b.mu.Lock()
	b.actionID = &actionID
	b.actionMode = &actionMode
	b.actionShape = true
	b.lastUpdate = time.Now()
	b.hasUpdate = true
	b.mu.Unlock()
	b.push()
}

func (b *ButtonInput) push() {
	if !b.IsAnnounced() || b.sender == nil {
		return
	}
	tree := map[string]interface{}{
		"buttonInputStates": map[string]interface{}{
			strconv.Itoa(b.DsIndex): b.StateProperties(),
		},
	}
	_ = b.sender.PushProperty(b.dsuid(), vdcapi.DictToElements(tree))
}

// IsAnnounced reports whether the owning vdSD is announced.
func (b *ButtonInput) IsAnnounced() bool {
	return b.announced != nil && b.announced()
}

func (b *ButtonInput) StateProperties() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := map[string]interface{}{"error": int64(b.Error)}
	if b.hasUpdate {
		state["age"] = time.Since(b.lastUpdate).Seconds()
	}
	if b.actionShape {
		if b.actionID != nil {
			state["actionId"] = *b.actionID
		}
		if b.actionMode != nil {
			state["actionMode"] = *b.actionMode
		}
		return state
	}
	if b.value != nil {
		state["value"] = *b.value
	}
	if b.clickType != nil {
		state["clickType"] = int64(*b.clickType)
	}
	return state
}

func (b *ButtonInput) DescriptionProperties() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"dsIndex":              int64(b.DsIndex),
		"buttonType":           int64(b.ButtonType),
		"buttonElementID":      int64(b.ButtonElementID),
		"buttonID":             int64(b.ButtonID),
		"supportsLocalKeyMode": b.SupportsLocalKeyMode,
	}
}

func (b *ButtonInput) SettingsProperties() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"group":             int64(b.Group),
		"function":          int64(b.Function),
		"mode":              int64(b.Mode),
		"channel":           int64(b.Channel),
		"setsLocalPriority": b.SetsLocalPriority,
		"callsPresent":      b.CallsPresent,
	}
}
