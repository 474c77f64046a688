package entity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/digitalstrom/vdchost/internal/session"
	"github.com/digitalstrom/vdchost/pkg/dsuid"
	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

// Vdsd is one virtual device sub-device: a single logical unit of
// functionality exposed under a Device (inputs plus at most one
// output). Its dSUID is always the owning Device's base dSUID with
// this vdSD's subdevice index.
type Vdsd struct {
	Common

	mu sync.RWMutex

	PrimaryGroup  vdcapi.ColorGroup
	ZoneID        int
	ModelFeatures map[string]bool

	binaryInputs []*BinaryInput
	sensorInputs []*SensorInput
	buttonInputs []*ButtonInput
	output       *Output

	subdeviceIndex byte
	device         *Device
	announced      bool
	sess           *session.Session
}

// NewVdsd creates a vdSD under device at the given subdevice index.
// The dSUID is derived immediately from the device's base dSUID.
func NewVdsd(device *Device, subdeviceIndex byte, primaryGroup vdcapi.ColorGroup) *Vdsd {
	v := &Vdsd{
		PrimaryGroup:   primaryGroup,
		ModelFeatures:  make(map[string]bool),
		subdeviceIndex: subdeviceIndex,
		device:         device,
	}
	v.Active = true
	v.DSUID = device.DSUID.DeriveSubdevice(subdeviceIndex)
	return v
}

// DSUIDString returns this vdSD's dSUID as its canonical hex string,
// used as the NotificationSender target for its inputs.
func (v *Vdsd) DSUIDString() string {
	return v.Common.DSUID.String()
}

// rederiveDSUID recomputes this vdSD's dSUID from the device's
// current base, called whenever the device's base dSUID changes.
func (v *Vdsd) rederiveDSUID() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Common.DSUID = v.device.DSUID.DeriveSubdevice(v.subdeviceIndex)
}

// IsAnnounced reports whether this vdSD is currently announced.
func (v *Vdsd) IsAnnounced() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.announced
}

// AddBinaryInput appends a binary input at the next dsIndex.
func (v *Vdsd) AddBinaryInput() *BinaryInput {
	v.mu.Lock()
	idx := len(v.binaryInputs)
	bi := NewBinaryInput(idx, v.IsAnnounced, v, v.DSUIDString)
	v.binaryInputs = append(v.binaryInputs, bi)
	v.mu.Unlock()
	v.notifyMutation()
	return bi
}

// AddSensorInput appends a sensor input at the next dsIndex.
func (v *Vdsd) AddSensorInput() *SensorInput {
	v.mu.Lock()
	idx := len(v.sensorInputs)
	si := NewSensorInput(idx, v.IsAnnounced, v, v.DSUIDString)
	v.sensorInputs = append(v.sensorInputs, si)
	v.mu.Unlock()
	v.notifyMutation()
	return si
}

// AddButtonInput appends a button input at the next dsIndex.
func (v *Vdsd) AddButtonInput() *ButtonInput {
	v.mu.Lock()
	idx := len(v.buttonInputs)
	bt := NewButtonInput(idx, v.IsAnnounced, v, v.DSUIDString)
	v.buttonInputs = append(v.buttonInputs, bt)
	v.mu.Unlock()
	v.notifyMutation()
	return bt
}

// SetOutput installs the vdSD's single output. A vdSD has at most one
// output; independent outputs must live on separate vdSDs.
func (v *Vdsd) SetOutput(o *Output) {
	v.mu.Lock()
	v.output = o
	v.mu.Unlock()
	o.SetAutoSaver(autoSaverFunc(v.notifyMutation))
	o.SetNotifier(v.IsAnnounced, v, v.DSUIDString)
	v.notifyMutation()
}

// Output returns the vdSD's output, or nil if it has none.
func (v *Vdsd) Output() *Output {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.output
}

func (v *Vdsd) BinaryInputs() []*BinaryInput {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*BinaryInput, len(v.binaryInputs))
	copy(out, v.binaryInputs)
	return out
}

func (v *Vdsd) SensorInputs() []*SensorInput {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*SensorInput, len(v.sensorInputs))
	copy(out, v.sensorInputs)
	return out
}

func (v *Vdsd) ButtonInputs() []*ButtonInput {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*ButtonInput, len(v.buttonInputs))
	copy(out, v.buttonInputs)
	return out
}

// PushProperty implements NotificationSender by forwarding to the
// active session, if any.
func (v *Vdsd) PushProperty(vdsdDSUID string, properties []vdcapi.PropertyElement) error {
	v.mu.RLock()
	sess := v.sess
	v.mu.RUnlock()
	if sess == nil {
		return nil
	}
	target, err := dsuid.FromString(vdsdDSUID)
	if err != nil {
		return err
	}
	return sess.SendNotification(&vdcapi.Message{
		Kind: vdcapi.VdcSendPushProperty,
		PushProperty: &vdcapi.PushPropertyMsg{
			DSUID:      target,
			Properties: properties,
		},
	})
}

// Announce sends VDC_SEND_ANNOUNCE_DEVICE for this vdSD and, on
// ERR_OK, marks it announced and starts every input's alive timer.
func (v *Vdsd) Announce(sess *session.Session, vdcDSUID dsuid.DsUid) bool {
	resp, err := sess.SendRequest(context.Background(), &vdcapi.Message{
		Kind: vdcapi.VdcSendAnnounceDevice,
		AnnounceDevice: &vdcapi.AnnounceDeviceMsg{
			DSUID:    v.Common.DSUID,
			VdcDSUID: vdcDSUID,
		},
	}, 0)
	if err != nil {
		v.mu.Lock()
		v.announced = false
		v.mu.Unlock()
		return false
	}
	if resp.GenericResponse == nil || resp.GenericResponse.Code != vdcapi.ErrOK {
		v.mu.Lock()
		v.announced = false
		v.mu.Unlock()
		return false
	}

	v.mu.Lock()
	v.announced = true
	v.sess = sess
	v.mu.Unlock()

	for _, bi := range v.BinaryInputs() {
		bi.StartAliveTimer()
	}
	for _, si := range v.SensorInputs() {
		si.StartAliveTimer()
	}
	return true
}

// Vanish sends VDC_SEND_VANISH as a notification and marks this vdSD
// unannounced, stopping every input's timers.
func (v *Vdsd) Vanish(sess *session.Session) {
	_ = sess.SendNotification(&vdcapi.Message{
		Kind:   vdcapi.VdcSendVanish,
		Vanish: &vdcapi.VanishMsg{DSUID: v.Common.DSUID},
	})
	v.ResetAnnouncement()
}

// ResetAnnouncement marks this vdSD unannounced and stops every
// input's timers, without notifying the vdSM (used on session end).
func (v *Vdsd) ResetAnnouncement() {
	v.mu.Lock()
	v.announced = false
	v.sess = nil
	v.mu.Unlock()

	for _, bi := range v.BinaryInputs() {
		bi.StopAliveTimer()
	}
	for _, si := range v.SensorInputs() {
		si.StopAliveTimer()
	}
	for _, bt := range v.ButtonInputs() {
		bt.Stop()
	}
}

func (v *Vdsd) notifyMutation() {
	if v.device != nil {
		v.device.ScheduleAutoSave()
	}
}

// Properties assembles this vdSD's full property tree: common
// properties plus primaryGroup/zoneID/modelFeatures/inputs/output.
func (v *Vdsd) Properties() map[string]interface{} {
	props := v.Common.Properties(vdcapi.EntityVdsd)

	v.mu.RLock()
	props["primaryGroup"] = int64(v.PrimaryGroup)
	props["zoneID"] = int64(v.ZoneID)
	if len(v.ModelFeatures) > 0 {
		features := make(map[string]interface{}, len(v.ModelFeatures))
		names := make([]string, 0, len(v.ModelFeatures))
		for f := range v.ModelFeatures {
			names = append(names, f)
		}
		sort.Strings(names)
		for _, f := range names {
			features[f] = true
		}
		props["modelFeatures"] = features
	}
	v.mu.RUnlock()

	binaryDescs := make([]interface{}, 0)
	for _, bi := range v.BinaryInputs() {
		entry := bi.DescriptionProperties()
		for k, val := range bi.SettingsProperties() {
			entry[k] = val
		}
		binaryDescs = append(binaryDescs, entry)
	}
	props["binaryInputDescriptions"] = binaryDescs

	sensorDescs := make([]interface{}, 0)
	for _, si := range v.SensorInputs() {
		entry := si.DescriptionProperties()
		for k, val := range si.SettingsProperties() {
			entry[k] = val
		}
		sensorDescs = append(sensorDescs, entry)
	}
	props["sensorDescriptions"] = sensorDescs

	buttonDescs := make([]interface{}, 0)
	for _, bt := range v.ButtonInputs() {
		entry := bt.DescriptionProperties()
		for k, val := range bt.SettingsProperties() {
			entry[k] = val
		}
		buttonDescs = append(buttonDescs, entry)
	}
	props["buttonInputDescriptions"] = buttonDescs

	if out := v.Output(); out != nil {
		outputProps := out.DescriptionProperties()
		for k, val := range out.SettingsProperties() {
			outputProps[k] = val
		}
		props["output"] = outputProps
	}

	return props
}

func (v *Vdsd) String() string {
	return fmt.Sprintf("Vdsd(dsuid=%s, name=%q)", v.Common.DSUID.String(), v.Common.Name)
}

type autoSaverFunc func()

func (f autoSaverFunc) ScheduleAutoSave() { f() }
