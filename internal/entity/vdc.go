package entity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/digitalstrom/vdchost/internal/session"
	"github.com/digitalstrom/vdchost/pkg/dsuid"
	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

// VdcCapabilities are the boolean capability flags a vDC advertises.
type VdcCapabilities struct {
	Metering           bool
	Identification     bool
	DynamicDefinitions bool
}

func (c VdcCapabilities) toMap() map[string]interface{} {
	return map[string]interface{}{
		"metering":           c.Metering,
		"identification":     c.Identification,
		"dynamicDefinitions": c.DynamicDefinitions,
	}
}

// Vdc is a logical virtual Device Connector: a named group of devices
// sharing one implementation and one set of capabilities. A vDC
// cannot be vanished mid-session; it disappears only when the session
// that announced it ends.
type Vdc struct {
	Common

	mu sync.RWMutex

	ImplementationID string
	Capabilities     VdcCapabilities
	ZoneID           int

	devices   []*Device
	announced bool

	host *VdcHost
}

// DeriveVdcDSUID computes a vDC's dSUID from its implementation ID via
// UUIDv5 hashing in the VDC namespace, so the same implementation ID
// always yields the same dSUID across restarts.
func DeriveVdcDSUID(implementationID string) dsuid.DsUid {
	return dsuid.FromNameInSpace(dsuid.NamespaceVDC, implementationID, 0)
}

// NewVdc creates a vDC under host with the given implementation ID.
// Non-digitalSTROM implementations must use an "x-"-prefixed id.
func NewVdc(host *VdcHost, implementationID string) *Vdc {
	v := &Vdc{
		ImplementationID: implementationID,
		host:             host,
	}
	v.Active = true
	v.DSUID = DeriveVdcDSUID(implementationID)
	return v
}

// ScheduleAutoSave implements AutoSaver by forwarding to the host.
func (v *Vdc) ScheduleAutoSave() {
	v.mu.RLock()
	host := v.host
	v.mu.RUnlock()
	if host != nil {
		host.ScheduleAutoSave()
	}
}

// AddDevice registers a device under this vDC.
func (v *Vdc) AddDevice(d *Device) {
	v.mu.Lock()
	d.vdc = v
	v.devices = append(v.devices, d)
	v.mu.Unlock()
	v.ScheduleAutoSave()
}

// Devices returns the registered devices in registration order.
func (v *Vdc) Devices() []*Device {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*Device, len(v.devices))
	copy(out, v.devices)
	return out
}

// DeviceByDSUID looks up a device by its base dSUID string.
func (v *Vdc) DeviceByDSUID(id string) *Device {
	for _, d := range v.Devices() {
		if d.DSUID.String() == id {
			return d
		}
	}
	return nil
}

// VdsdByDSUID looks up a contained vdSD by its full dSUID string
// across every device of this vDC.
func (v *Vdc) VdsdByDSUID(id string) *Vdsd {
	for _, d := range v.Devices() {
		if vd := d.VdsdByDSUID(id); vd != nil {
			return vd
		}
	}
	return nil
}

// IsAnnounced reports whether this vDC has been announced.
func (v *Vdc) IsAnnounced() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.announced
}

// Announce sends VDC_SEND_ANNOUNCE_VDC for this vDC and, on success,
// announces every contained device in turn.
func (v *Vdc) Announce(sess *session.Session) error {
	resp, err := sess.SendRequest(context.Background(), &vdcapi.Message{
		Kind: vdcapi.VdcSendAnnounceVdc,
		AnnounceVdc: &vdcapi.AnnounceVdcMsg{
			DSUID: v.Common.DSUID,
		},
	}, 0)
	if err != nil {
		return fmt.Errorf("announce vdc %s: %w", v.Common.DSUID, err)
	}
	if resp.GenericResponse == nil || resp.GenericResponse.Code != vdcapi.ErrOK {
		v.mu.Lock()
		v.announced = false
		v.mu.Unlock()
		return fmt.Errorf("vdc %s: vdSM rejected announcement", v.Common.DSUID)
	}

	v.mu.Lock()
	v.announced = true
	v.mu.Unlock()
	log.Info().Str("vdc", v.Common.DSUID.String()).Str("implementationId", v.ImplementationID).Msg("entity: vdc announced")

	for _, d := range v.Devices() {
		if _, err := d.Announce(sess, v.Common.DSUID); err != nil {
			continue
		}
	}
	return nil
}

// ResetAnnouncement marks this vDC and every device unannounced,
// called when the session ends.
func (v *Vdc) ResetAnnouncement() {
	v.mu.Lock()
	v.announced = false
	v.mu.Unlock()
	for _, d := range v.Devices() {
		d.ResetAnnouncement()
	}
}

// Properties assembles this vDC's property tree.
func (v *Vdc) Properties() map[string]interface{} {
	props := v.Common.Properties(vdcapi.EntityVdc)

	v.mu.RLock()
	props["implementationId"] = v.ImplementationID
	props["capabilities"] = v.Capabilities.toMap()
	props["zoneID"] = int64(v.ZoneID)
	v.mu.RUnlock()

	devices := v.Devices()
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].DSUID.String() < devices[j].DSUID.String()
	})
	devProps := make([]interface{}, 0, len(devices))
	for _, d := range devices {
		vdsdProps := make([]interface{}, 0)
		for _, vd := range d.Vdsds() {
			vdsdProps = append(vdsdProps, vd.Properties())
		}
		devProps = append(devProps, map[string]interface{}{
			"dSUID": d.DSUID.String(),
			"vdsds": vdsdProps,
		})
	}
	props["devices"] = devProps

	return props
}

func (v *Vdc) String() string {
	return fmt.Sprintf("Vdc(dsuid=%s, implementationId=%q, devices=%d)", v.Common.DSUID, v.ImplementationID, len(v.devices))
}
