package entity

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/digitalstrom/vdchost/internal/session"
	"github.com/digitalstrom/vdchost/pkg/dsuid"
)

// Device groups one or more Vdsd sub-devices that share a base dSUID.
// Most devices have exactly one vdSD; multi-function hardware (e.g. a
// combined switch/sensor module) gets one vdSD per sub-device index.
type Device struct {
	mu sync.RWMutex

	DSUID dsuid.DsUid
	Name  string

	vdsds     map[byte]*Vdsd
	announced bool

	vdc *Vdc
}

// NewDevice creates a device with the given base dSUID under vdc.
func NewDevice(vdc *Vdc, base dsuid.DsUid) *Device {
	return &Device{
		DSUID: base.DeviceBase(),
		vdsds: make(map[byte]*Vdsd),
		vdc:   vdc,
	}
}

// ScheduleAutoSave implements AutoSaver by forwarding to the owning
// Vdc, which forwards in turn to the VdcHost that owns the actual
// debounce timer.
func (d *Device) ScheduleAutoSave() {
	d.mu.RLock()
	vdc := d.vdc
	d.mu.RUnlock()
	if vdc != nil {
		vdc.ScheduleAutoSave()
	}
}

// SetBaseDSUID changes the device's base dSUID (e.g. a hardware
// replacement that keeps the same logical device) and re-derives
// every contained vdSD's dSUID from it, since a vdSD's identity is
// always its device's base plus its own sub-device index.
func (d *Device) SetBaseDSUID(base dsuid.DsUid) {
	d.mu.Lock()
	d.DSUID = base.DeviceBase()
	vdsds := make([]*Vdsd, 0, len(d.vdsds))
	for _, v := range d.vdsds {
		vdsds = append(vdsds, v)
	}
	d.mu.Unlock()

	for _, v := range vdsds {
		v.rederiveDSUID()
	}
	d.ScheduleAutoSave()
}

// IsAnnounced reports whether every contained vdSD is announced.
func (d *Device) IsAnnounced() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.announced
}

// AddVdsd registers a vdSD, indexed by its sub-device index. Adding a
// vdSD to an already-announced device is forbidden; use Update to
// change structure after announcement.
func (d *Device) AddVdsd(v *Vdsd) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.announced {
		return fmt.Errorf("device %s: cannot add vdSD to an announced device, use Update", d.DSUID)
	}
	if !v.Common.DSUID.SameDevice(d.DSUID) {
		return fmt.Errorf("vdSD dSUID %s does not share the same base as device %s", v.Common.DSUID, d.DSUID)
	}
	idx := v.subdeviceIndex
	d.vdsds[idx] = v
	return nil
}

// RemoveVdsd removes a vdSD by sub-device index, returning it if
// present. Forbidden while the device is announced.
func (d *Device) RemoveVdsd(subdeviceIndex byte) (*Vdsd, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.announced {
		return nil, fmt.Errorf("device %s: cannot remove vdSD from an announced device, use Update", d.DSUID)
	}
	v, ok := d.vdsds[subdeviceIndex]
	if !ok {
		return nil, nil
	}
	delete(d.vdsds, subdeviceIndex)
	return v, nil
}

// Vdsds returns the contained vdSDs ordered by sub-device index.
func (d *Device) Vdsds() []*Vdsd {
	d.mu.RLock()
	defer d.mu.RUnlock()
	indices := make([]byte, 0, len(d.vdsds))
	for idx := range d.vdsds {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	out := make([]*Vdsd, 0, len(indices))
	for _, idx := range indices {
		out = append(out, d.vdsds[idx])
	}
	return out
}

// VdsdByDSUID looks up a contained vdSD by its full dSUID string.
func (d *Device) VdsdByDSUID(id string) *Vdsd {
	for _, v := range d.Vdsds() {
		if v.DSUIDString() == id {
			return v
		}
	}
	return nil
}

// Announce announces every contained vdSD to the vdSM. Call this only
// once every vdSD's inputs and output have been fully defined; the
// vdSM does not handle structural changes to an already-announced
// device gracefully, so further changes must go through Update.
func (d *Device) Announce(sess *session.Session, vdcDSUID dsuid.DsUid) (int, error) {
	d.mu.Lock()
	if len(d.vdsds) == 0 {
		d.mu.Unlock()
		return 0, fmt.Errorf("device %s: cannot announce a device with no vdSDs", d.DSUID)
	}
	if d.announced {
		d.mu.Unlock()
		return 0, fmt.Errorf("device %s: already announced, use Update to re-announce", d.DSUID)
	}
	d.mu.Unlock()

	vdsds := d.Vdsds()
	count := 0
	for _, v := range vdsds {
		if v.Announce(sess, vdcDSUID) {
			count++
		}
	}

	d.mu.Lock()
	d.announced = count == len(vdsds)
	d.mu.Unlock()
	log.Info().Str("device", d.DSUID.String()).Int("announced", count).Int("total", len(vdsds)).Msg("entity: device announced")
	return count, nil
}

// Vanish notifies the vdSM that every contained vdSD has vanished.
func (d *Device) Vanish(sess *session.Session) {
	for _, v := range d.Vdsds() {
		v.Vanish(sess)
	}
	d.mu.Lock()
	d.announced = false
	d.mu.Unlock()
}

// ResetAnnouncement marks the device and its vdSDs unannounced without
// notifying the vdSM, used when the session simply ends.
func (d *Device) ResetAnnouncement() {
	for _, v := range d.Vdsds() {
		v.ResetAnnouncement()
	}
	d.mu.Lock()
	d.announced = false
	d.mu.Unlock()
}

// Update performs the structural-update sequence required to change a
// device's shape after it has already been announced: vanish every
// vdSD, clear the announced flag, run modify against the device, then
// re-announce and trigger an auto-save.
func (d *Device) Update(sess *session.Session, vdcDSUID dsuid.DsUid, modify func(*Device)) (int, error) {
	if d.IsAnnounced() {
		d.Vanish(sess)
	}

	modify(d)

	count, err := d.Announce(sess, vdcDSUID)
	d.ScheduleAutoSave()
	return count, err
}

func (d *Device) String() string {
	return fmt.Sprintf("Device(dsuid=%s, vdsds=%d)", d.DSUID, len(d.vdsds))
}
