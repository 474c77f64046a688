package entity

import (
	"sync"
	"time"

	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

// ChannelSpec describes the standard min/max/resolution and display
// name for a well-known OutputChannelType.
type ChannelSpec struct {
	Name       string
	Min        float64
	Max        float64
	Resolution float64
}

// channelSpecs mirrors the vDC API's standard channel metadata table.
var channelSpecs = map[vdcapi.OutputChannelType]ChannelSpec{
	vdcapi.ChannelBrightness:       {"brightness", 0, 100, 100.0 / 255},
	vdcapi.ChannelHue:              {"hue", 0, 360, 360.0 / 255},
	vdcapi.ChannelSaturation:       {"saturation", 0, 100, 100.0 / 255},
	vdcapi.ChannelColorTemperature: {"colortemp", 100, 1000, 900.0 / 255},
	vdcapi.ChannelCIEX:             {"x", 0, 10000, 10000.0 / 255},
	vdcapi.ChannelCIEY:             {"y", 0, 10000, 10000.0 / 255},
}

// ChannelSpecFor looks up the standard metadata for channelType.
// The bool is false for device-specific channel types with no entry.
func ChannelSpecFor(channelType vdcapi.OutputChannelType) (ChannelSpec, bool) {
	spec, ok := channelSpecs[channelType]
	return spec, ok
}

// OutputChannel is one controllable dimension of a device's output —
// brightness, hue, shade position, heating power, and so on.
type OutputChannel struct {
	mu sync.Mutex

	ChannelType vdcapi.OutputChannelType
	DsIndex     int
	Name        string
	Min         float64
	Max         float64
	Resolution  float64

	// volatile, not persisted
	value      *float64
	pending    *float64
	lastUpdate time.Time
	hasUpdate  bool

	// pushFn is invoked (with this channel's dsIndex) whenever a value
	// becomes confirmed, so the owning Output can push channelStates to
	// the vdSM if pushChanges is enabled. Set by Output at channel
	// creation time; nil for a bare channel with no owner.
	pushFn func(dsIndex int)
}

// NewOutputChannel builds a channel, taking defaults from the standard
// spec table for channelType unless overridden.
func NewOutputChannel(channelType vdcapi.OutputChannelType, dsIndex int, name string, min, max, resolution *float64) *OutputChannel {
	spec, hasSpec := ChannelSpecFor(channelType)

	oc := &OutputChannel{ChannelType: channelType, DsIndex: dsIndex}

	switch {
	case name != "":
		oc.Name = name
	case hasSpec:
		oc.Name = spec.Name
	default:
		oc.Name = "channel"
	}

	oc.Min = resolveOverride(min, hasSpec, spec.Min, 0)
	oc.Max = resolveOverride(max, hasSpec, spec.Max, 100)
	oc.Resolution = resolveOverride(resolution, hasSpec, spec.Resolution, 1)
	return oc
}

func resolveOverride(override *float64, hasSpec bool, specValue, fallback float64) float64 {
	if override != nil {
		return *override
	}
	if hasSpec {
		return specValue
	}
	return fallback
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Value returns the current confirmed value, or nil if unknown.
func (oc *OutputChannel) Value() *float64 {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.value
}

// Age returns how long ago the value was confirmed by hardware, or
// nil if the value is new and unconfirmed.
func (oc *OutputChannel) Age() *time.Duration {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if !oc.hasUpdate {
		return nil
	}
	d := time.Since(oc.lastUpdate)
	return &d
}

// SetValueFromVdsm buffers a vdSM-driven write, clamped to the
// channel's range, as the pending value (replacing any value buffered
// before it); the caller (Output) is responsible for invoking the
// hardware callback and then calling ConfirmApplied.
func (oc *OutputChannel) SetValueFromVdsm(value float64) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	clamped := clamp(value, oc.Min, oc.Max)
	oc.pending = &clamped
	oc.hasUpdate = false
}

// PendingValue returns the most recently buffered vdSM value, if any.
func (oc *OutputChannel) PendingValue() *float64 {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.pending
}

// ConfirmApplied flushes the pending value into the confirmed value
// and stamps age=now, called once the hardware callback has run for
// every pending channel in a setOutputChannelValue batch.
func (oc *OutputChannel) ConfirmApplied() {
	oc.mu.Lock()
	if oc.pending == nil {
		oc.mu.Unlock()
		return
	}
	oc.value = oc.pending
	oc.pending = nil
	oc.lastUpdate = time.Now()
	oc.hasUpdate = true
	push := oc.pushFn
	oc.mu.Unlock()

	if push != nil {
		push(oc.DsIndex)
	}
}

// UpdateValue sets the channel value from the device side (a local
// change confirmed by hardware immediately), clamping to range and
// stamping age=now, then pushes the new value to the vdSM if the
// owning output has pushChanges enabled.
func (oc *OutputChannel) UpdateValue(value float64) {
	oc.mu.Lock()
	clamped := clamp(value, oc.Min, oc.Max)
	oc.value = &clamped
	oc.lastUpdate = time.Now()
	oc.hasUpdate = true
	push := oc.pushFn
	oc.mu.Unlock()

	if push != nil {
		push(oc.DsIndex)
	}
}

// currentValue returns the confirmed value and whether one is set; the
// output's scene.ChannelAccess adapter reads channels through it.
func (oc *OutputChannel) currentValue() (float64, bool) {
	v := oc.Value()
	if v == nil {
		return 0, false
	}
	return *v, true
}

// DescriptionProperties returns the persisted description fields.
func (oc *OutputChannel) DescriptionProperties() map[string]interface{} {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return map[string]interface{}{
		"channelType": int64(oc.ChannelType),
		"dsIndex":     int64(oc.DsIndex),
		"name":        oc.Name,
		"min":         oc.Min,
		"max":         oc.Max,
		"resolution":  oc.Resolution,
	}
}

// StateProperties returns the volatile value/age pair.
func (oc *OutputChannel) StateProperties() map[string]interface{} {
	state := map[string]interface{}{}
	if v := oc.Value(); v != nil {
		state["value"] = *v
	}
	if age := oc.Age(); age != nil {
		state["age"] = age.Seconds()
	}
	return state
}
