package entity

import (
	"strconv"
	"sync"
	"time"

	"github.com/digitalstrom/vdchost/internal/push"
	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

// BinaryInput is a two-state sensor component of a vdSD: presence,
// smoke, window-open, and so on.
type BinaryInput struct {
	mu sync.Mutex

	DsIndex           int
	Name              string
	InputType         vdcapi.BinaryInputType
	InputUsage        vdcapi.BinaryInputUsage
	HardwiredFunction vdcapi.BinaryInputType
	UpdateInterval    time.Duration
	AliveSignInterval time.Duration

	// writable settings
	Group               vdcapi.ColorGroup
	SensorFunction      vdcapi.BinaryInputType
	MinPushInterval     time.Duration
	ChangesOnlyInterval time.Duration

	// volatile
	value         *bool
	extendedValue *int64
	lastUpdate    time.Time
	hasUpdate     bool
	Error         vdcapi.InputError

	engine    *push.Engine[binaryStateKey]
	announced func() bool
	sender    NotificationSender
	dsuid     func() string
}

type binaryStateKey struct {
	value    bool
	hasValue bool
	extended int64
}

// NotificationSender is the minimal session surface a pushing input
// needs: sending a PushProperty notification for one vdSD's dSUID.
type NotificationSender interface {
	PushProperty(vdsdDSUID string, properties []vdcapi.PropertyElement) error
}

// NewBinaryInput creates a binary input wired to its push engine.
// announced reports whether the owning vdSD is currently announced;
// sender performs the actual wire push; dsuid returns the owning
// vdSD's dSUID string, captured lazily since it may not be fixed yet
// at construction time.
func NewBinaryInput(dsIndex int, announced func() bool, sender NotificationSender, dsuidFn func() string) *BinaryInput {
	b := &BinaryInput{DsIndex: dsIndex, announced: announced, sender: sender, dsuid: dsuidFn}
	b.engine = push.New(push.Config{}, b)
	return b
}

// CurrentKey implements push.Sender.
func (b *BinaryInput) CurrentKey() binaryStateKey {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := binaryStateKey{}
	if b.value != nil {
		key.hasValue = true
		key.value = *b.value
	}
	if b.extendedValue != nil {
		key.extended = *b.extendedValue
	}
	return key
}

// IsAnnounced implements push.Sender.
func (b *BinaryInput) IsAnnounced() bool {
	return b.announced != nil && b.announced()
}

// Push implements push.Sender: sends the current binaryInputStates
// subtree for this input's dsIndex.
func (b *BinaryInput) Push(force bool) error {
	if b.sender == nil {
		return nil
	}
	tree := map[string]interface{}{
		"binaryInputStates": map[string]interface{}{
			strconv.Itoa(b.DsIndex): b.StateProperties(),
		},
	}
	elements := vdcapi.DictToElements(tree)
	return b.sender.PushProperty(b.dsuid(), elements)
}

// ApplyConfig refreshes the push engine's throttle intervals from the
// writable settings; call after SetProperty changes them.
func (b *BinaryInput) ApplyConfig() {
	b.mu.Lock()
	cfg := push.Config{
		MinPushInterval:     b.MinPushInterval,
		ChangesOnlyInterval: b.ChangesOnlyInterval,
		AliveSignInterval:   b.AliveSignInterval,
	}
	b.mu.Unlock()
	b.engine.SetConfig(cfg)
}

// StartAliveTimer begins this input's heartbeat, called on announce.
func (b *BinaryInput) StartAliveTimer() {
	b.ApplyConfig()
	b.engine.StartAliveTimer()
}

// StopAliveTimer stops the heartbeat and deferred pushes, called on
// vanish or session end.
func (b *BinaryInput) StopAliveTimer() {
	b.engine.StopAliveTimer()
}

// UpdateValue sets the input's value from the device side and pushes
// (subject to throttling) if the owning vdSD is announced.
func (b *BinaryInput) UpdateValue(value bool) {
	b.mu.Lock()
	b.value = &value
	b.extendedValue = nil
	b.lastUpdate = time.Now()
	b.hasUpdate = true
	b.mu.Unlock()
	b.engine.PushState(false)
}

// UpdateExtendedValue sets the extended (multi-bit) value, clearing
// the plain binary value: setting one clears the other.
func (b *BinaryInput) UpdateExtendedValue(extended int64) {
	b.mu.Lock()
	b.extendedValue = &extended
	b.value = nil
	b.mu.Unlock()
	b.engine.PushState(false)
}

// StateProperties returns the volatile state subtree.
func (b *BinaryInput) StateProperties() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := map[string]interface{}{"error": int64(b.Error)}
	if b.value != nil {
		state["value"] = *b.value
	}
	if b.extendedValue != nil {
		state["extendedValue"] = *b.extendedValue
	}
	if b.hasUpdate {
		state["age"] = time.Since(b.lastUpdate).Seconds()
	}
	return state
}

// DescriptionProperties returns the read-only description subtree.
func (b *BinaryInput) DescriptionProperties() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"dsIndex":           int64(b.DsIndex),
		"name":              b.Name,
		"inputType":         int64(b.InputType),
		"inputUsage":        int64(b.InputUsage),
		"hardwiredFunction": int64(b.HardwiredFunction),
		"updateInterval":    b.UpdateInterval.Seconds(),
		"aliveSignInterval": b.AliveSignInterval.Seconds(),
	}
}

// SettingsProperties returns the writable settings subtree.
func (b *BinaryInput) SettingsProperties() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"group":               int64(b.Group),
		"sensorFunction":      int64(b.SensorFunction),
		"minPushInterval":     b.MinPushInterval.Seconds(),
		"changesOnlyInterval": b.ChangesOnlyInterval.Seconds(),
	}
}
