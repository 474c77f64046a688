package entity

import (
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/digitalstrom/vdchost/internal/scene"
	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

// OnChannelApplied is invoked once per setOutputChannelValue batch
// that ends with apply=true, after every pending channel value in the
// batch has been buffered. updates maps channel type to its new
// value. A non-nil error is logged by the caller; the channels are
// confirmed (age advanced) regardless, so a misbehaving callback can
// never leave a channel permanently pending.
type OnChannelApplied func(updates map[vdcapi.OutputChannelType]float64) error

// Output is a vdSD's single controllable output: a function (on/off,
// dimmer, full-color dimmer, ...), a set of channels and a 128-entry
// scene table.
type Output struct {
	mu sync.Mutex

	Function          vdcapi.OutputFunction
	OutputUsage       vdcapi.OutputUsage
	DefaultGroup      vdcapi.ColorGroup
	VariableRamp      bool
	MaxPower          float64
	ActiveCoolingMode bool

	// writable settings
	Mode             vdcapi.OutputMode
	ActiveGroup      vdcapi.ColorGroup
	Groups           map[vdcapi.ColorGroup]bool
	PushChanges      bool
	OnThreshold      float64
	MinBrightness    float64
	DimTimeUp        float64
	DimTimeDown      float64
	DimTimeUpAlt1    float64
	DimTimeDownAlt1  float64
	DimTimeUpAlt2    float64
	DimTimeDownAlt2  float64
	HeatingSystemCapability vdcapi.HeatingSystemCapability
	HeatingSystemType       vdcapi.HeatingSystemType

	// volatile state
	LocalPriority bool
	Error         vdcapi.OutputError

	channels  map[int]*OutputChannel
	order     []int
	scenes    *scene.Table
	applied   OnChannelApplied
	autoSaver AutoSaver

	announced func() bool
	sender    NotificationSender
	dsuid     func() string
}

// NewOutput builds an Output for the given function, auto-creating
// the channels that function requires (ON_OFF/DIMMER: brightness;
// DIMMER_COLOR_TEMP: brightness+colortemp; FULL_COLOR_DIMMER:
// brightness+hue+saturation+colortemp+cieX+cieY). POSITIONAL, BIPOLAR
// and INTERNALLY_CTRL require the integrator to call AddChannel.
func NewOutput(function vdcapi.OutputFunction, applied OnChannelApplied) *Output {
	o := &Output{
		Function: function,
		Groups:   make(map[vdcapi.ColorGroup]bool),
		channels: make(map[int]*OutputChannel),
		applied:  applied,
	}
	o.autoCreateChannels(function)
	o.rebuildSceneTable()
	return o
}

func (o *Output) autoCreateChannels(function vdcapi.OutputFunction) {
	switch function {
	case vdcapi.FunctionOnOff, vdcapi.FunctionDimmer:
		o.addChannelLocked(vdcapi.ChannelBrightness, 0)
	case vdcapi.FunctionDimmerColorTemp:
		o.addChannelLocked(vdcapi.ChannelBrightness, 0)
		o.addChannelLocked(vdcapi.ChannelColorTemperature, 1)
	case vdcapi.FunctionFullColorDimmer:
		o.addChannelLocked(vdcapi.ChannelBrightness, 0)
		o.addChannelLocked(vdcapi.ChannelHue, 1)
		o.addChannelLocked(vdcapi.ChannelSaturation, 2)
		o.addChannelLocked(vdcapi.ChannelColorTemperature, 3)
		o.addChannelLocked(vdcapi.ChannelCIEX, 4)
		o.addChannelLocked(vdcapi.ChannelCIEY, 5)
	}
}

func (o *Output) addChannelLocked(channelType vdcapi.OutputChannelType, dsIndex int) {
	ch := NewOutputChannel(channelType, dsIndex, "", nil, nil, nil)
	ch.pushFn = o.pushChannelState
	o.channels[dsIndex] = ch
	o.order = append(o.order, dsIndex)
}

// AddChannel adds a channel to an output whose function does not
// auto-create channels (POSITIONAL/BIPOLAR/INTERNALLY_CTRL).
func (o *Output) AddChannel(channelType vdcapi.OutputChannelType, dsIndex int, name string, min, max, resolution *float64) {
	o.mu.Lock()
	ch := NewOutputChannel(channelType, dsIndex, name, min, max, resolution)
	ch.pushFn = o.pushChannelState
	o.channels[dsIndex] = ch
	o.order = append(o.order, dsIndex)
	o.mu.Unlock()
	o.rebuildSceneTable()
	o.notifyMutation()
}

// SetNotifier wires the vdSM push path, mirroring NewBinaryInput's
// announced/sender/dsuid parameters: announced reports whether the
// owning vdSD is currently announced, sender performs the actual wire
// push, and dsuidFn returns the owning vdSD's dSUID string.
func (o *Output) SetNotifier(announced func() bool, sender NotificationSender, dsuidFn func() string) {
	o.mu.Lock()
	o.announced = announced
	o.sender = sender
	o.dsuid = dsuidFn
	o.mu.Unlock()
}

// pushChannelState sends channelStates[dsIndex] to the vdSM when this
// output has pushChanges enabled and is currently announced, called by
// OutputChannel whenever the device side confirms a new value.
func (o *Output) pushChannelState(dsIndex int) {
	o.mu.Lock()
	push := o.PushChanges
	sender := o.sender
	announced := o.announced
	dsuidFn := o.dsuid
	ch := o.channels[dsIndex]
	o.mu.Unlock()

	if !push || sender == nil || dsuidFn == nil || ch == nil {
		return
	}
	if announced != nil && !announced() {
		return
	}
	tree := map[string]interface{}{
		"channelStates": map[string]interface{}{
			strconv.Itoa(dsIndex): ch.StateProperties(),
		},
	}
	_ = sender.PushProperty(dsuidFn(), vdcapi.DictToElements(tree))
}

// Channels returns the channels in dsIndex creation order.
func (o *Output) Channels() []*OutputChannel {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*OutputChannel, 0, len(o.order))
	for _, idx := range o.order {
		out = append(out, o.channels[idx])
	}
	return out
}

func (o *Output) channelAccess() *outputChannelAccess {
	return &outputChannelAccess{output: o}
}

type outputChannelAccess struct {
	output *Output
}

func (a *outputChannelAccess) CurrentValue(dsIndex int) (float64, bool) {
	a.output.mu.Lock()
	ch := a.output.channels[dsIndex]
	a.output.mu.Unlock()
	if ch == nil {
		return 0, false
	}
	return ch.currentValue()
}

func (a *outputChannelAccess) ApplyValue(dsIndex int, value float64) {
	a.output.mu.Lock()
	ch := a.output.channels[dsIndex]
	a.output.mu.Unlock()
	if ch == nil {
		return
	}
	ch.UpdateValue(value)
}

func (o *Output) rebuildSceneTable() {
	o.mu.Lock()
	dsIndices := make([]int, len(o.order))
	copy(dsIndices, o.order)
	var min, max float64 = 0, 100
	if len(o.order) > 0 {
		if ch, ok := o.channels[o.order[0]]; ok {
			min, max = ch.Min, ch.Max
		}
	}
	o.mu.Unlock()
	o.scenes = scene.NewTable(o.channelAccess(), dsIndices, min, max)
}

// Scenes exposes the 128-entry scene table.
func (o *Output) Scenes() *scene.Table {
	return o.scenes
}

// CallScene applies scene n (no-op if dontCare).
func (o *Output) CallScene(n int) {
	o.scenes.Call(n, o.channelAccess())
	o.notifyMutation()
}

// SaveScene snapshots current channel values into scene n.
func (o *Output) SaveScene(n int) {
	o.mu.Lock()
	dsIndices := make([]int, len(o.order))
	copy(dsIndices, o.order)
	o.mu.Unlock()
	o.scenes.Save(n, dsIndices, o.channelAccess())
	o.notifyMutation()
}

// UndoScene reverts the channels touched by the last CallScene.
func (o *Output) UndoScene() {
	o.scenes.Undo(o.channelAccess())
}

// SetOutputChannelValue buffers a vdSM-driven write for one channel.
// When apply is true, every currently buffered channel on this output
// is applied via the OnChannelApplied callback and then confirmed
// (age advanced), even if the callback returns an error — this avoids
// a channel staying permanently in the pending state because of a
// flaky hardware integration.
func (o *Output) SetOutputChannelValue(dsIndex int, value float64, apply bool) {
	o.mu.Lock()
	ch := o.channels[dsIndex]
	o.mu.Unlock()
	if ch == nil {
		return
	}
	ch.SetValueFromVdsm(value)

	if !apply {
		return
	}
	o.flushPending()
}

func (o *Output) flushPending() {
	o.mu.Lock()
	updates := make(map[vdcapi.OutputChannelType]float64)
	pending := make([]*OutputChannel, 0)
	for _, idx := range o.order {
		ch := o.channels[idx]
		if v := ch.PendingValue(); v != nil {
			updates[ch.ChannelType] = *v
			pending = append(pending, ch)
		}
	}
	cb := o.applied
	o.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	if cb != nil {
		if err := cb(updates); err != nil {
			log.Warn().Err(err).Msg("entity: output channel apply callback failed")
		}
	}
	for _, ch := range pending {
		ch.ConfirmApplied()
	}
	o.notifyMutation()
}

// SetAutoSaver wires the owning tree's auto-save propagation.
func (o *Output) SetAutoSaver(saver AutoSaver) {
	o.mu.Lock()
	o.autoSaver = saver
	o.mu.Unlock()
}

func (o *Output) notifyMutation() {
	o.mu.Lock()
	saver := o.autoSaver
	o.mu.Unlock()
	if saver != nil {
		saver.ScheduleAutoSave()
	}
}

// DescriptionProperties returns the read-only, persisted description,
// including the channel list: channel values themselves are volatile
// and excluded, but shape (type, index, name, range) is structural.
func (o *Output) DescriptionProperties() map[string]interface{} {
	o.mu.Lock()
	channels := make([]interface{}, 0, len(o.order))
	for _, idx := range o.order {
		channels = append(channels, o.channels[idx].DescriptionProperties())
	}
	desc := map[string]interface{}{
		"function":          int64(o.Function),
		"outputUsage":       int64(o.OutputUsage),
		"defaultGroup":      int64(o.DefaultGroup),
		"variableRamp":      o.VariableRamp,
		"maxPower":          o.MaxPower,
		"activeCoolingMode": o.ActiveCoolingMode,
		"channels":          channels,
	}
	o.mu.Unlock()

	desc["scenes"] = o.Scenes().PersistedEntries()
	return desc
}

// SettingsProperties returns the writable settings subtree.
func (o *Output) SettingsProperties() map[string]interface{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	groups := make([]int64, 0, len(o.Groups))
	for g, on := range o.Groups {
		if on {
			groups = append(groups, int64(g))
		}
	}
	return map[string]interface{}{
		"mode":                    int64(o.Mode),
		"activeGroup":             int64(o.ActiveGroup),
		"groups":                  groups,
		"pushChanges":             o.PushChanges,
		"onThreshold":             o.OnThreshold,
		"minBrightness":           o.MinBrightness,
		"dimTimeUp":               o.DimTimeUp,
		"dimTimeDown":             o.DimTimeDown,
		"dimTimeUpAlt1":           o.DimTimeUpAlt1,
		"dimTimeDownAlt1":         o.DimTimeDownAlt1,
		"dimTimeUpAlt2":           o.DimTimeUpAlt2,
		"dimTimeDownAlt2":         o.DimTimeDownAlt2,
		"heatingSystemCapability": int64(o.HeatingSystemCapability),
		"heatingSystemType":       int64(o.HeatingSystemType),
	}
}

// StateProperties returns the volatile local priority and error.
func (o *Output) StateProperties() map[string]interface{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return map[string]interface{}{
		"localPriority": o.LocalPriority,
		"error":         int64(o.Error),
	}
}
