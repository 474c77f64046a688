package entity

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/digitalstrom/vdchost/internal/session"
	"github.com/digitalstrom/vdchost/pkg/dsuid"
	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

// AutoSaveDelay is how long the host waits after the last mutation
// before writing the property tree to disk, coalescing bursts of
// changes into a single write.
const AutoSaveDelay = time.Second

// Store persists and restores the host's property tree. It is
// implemented by the persistence package; kept as an interface here so
// the entity tree does not need to know about file layout.
type Store interface {
	Save(tree map[string]interface{}) error
	Load() (map[string]interface{}, bool, error)
}

// VdcHost is the root of the entity tree: one vdc host process exposes
// a TCP endpoint to exactly one vdSM at a time and owns every vDC,
// device and vdSD beneath it, plus the debounced auto-save timer.
type VdcHost struct {
	Common

	mu sync.RWMutex

	Mac  string
	Port int

	vdcs  []*Vdc
	store Store

	saveMu    sync.Mutex
	saveTimer *time.Timer

	sess *session.Session
}

// NewVdcHost creates the host's dSUID from its MAC address.
func NewVdcHost(mac string, port int) (*VdcHost, error) {
	id, err := dsuid.FromVDCMac(mac, 0)
	if err != nil {
		return nil, fmt.Errorf("derive host dSUID from mac %q: %w", mac, err)
	}
	h := &VdcHost{Mac: mac, Port: port}
	h.Active = true
	h.DSUID = id
	h.HardwareGuid = "macaddress:" + mac
	h.ScheduleAutoSave()
	return h, nil
}

// SetStore wires the persistence backend used by Save/Load/auto-save.
func (h *VdcHost) SetStore(store Store) {
	h.mu.Lock()
	h.store = store
	h.mu.Unlock()
}

// AddVdc registers a vDC under this host.
func (h *VdcHost) AddVdc(v *Vdc) {
	h.mu.Lock()
	v.host = h
	h.vdcs = append(h.vdcs, v)
	h.mu.Unlock()
	h.ScheduleAutoSave()
}

// Vdcs returns the registered vDCs in registration order.
func (h *VdcHost) Vdcs() []*Vdc {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Vdc, len(h.vdcs))
	copy(out, h.vdcs)
	return out
}

// VdcByDSUID looks up a vDC by its dSUID string.
func (h *VdcHost) VdcByDSUID(id string) *Vdc {
	for _, v := range h.Vdcs() {
		if v.Common.DSUID.String() == id {
			return v
		}
	}
	return nil
}

// VdsdByDSUID searches every vDC's devices for a vdSD with the given
// full dSUID, used to route a notification or SetProperty call.
func (h *VdcHost) VdsdByDSUID(id string) *Vdsd {
	for _, v := range h.Vdcs() {
		if vd := v.VdsdByDSUID(id); vd != nil {
			return vd
		}
	}
	return nil
}

// SetSession records the currently active session, used by
// AnnounceVdcs and by property lookups that need to push replies.
func (h *VdcHost) SetSession(sess *session.Session) {
	h.mu.Lock()
	h.sess = sess
	h.mu.Unlock()
}

// AnnounceVdcs announces every registered vDC over the active
// session, called once the session hello handshake completes, before
// any device announcement.
func (h *VdcHost) AnnounceVdcs() (int, error) {
	h.mu.RLock()
	sess := h.sess
	h.mu.RUnlock()
	if sess == nil || sess.State() != session.Active {
		return 0, fmt.Errorf("cannot announce vDCs: no active session")
	}

	count := 0
	for _, v := range h.Vdcs() {
		if err := v.Announce(sess); err == nil {
			count++
		}
	}
	log.Info().Int("announced", count).Int("total", len(h.Vdcs())).Msg("entity: announced vdcs")
	return count, nil
}

// ResetAnnouncement marks every vDC, device and vdSD unannounced,
// called when the session ends.
func (h *VdcHost) ResetAnnouncement() {
	h.mu.Lock()
	h.sess = nil
	h.mu.Unlock()
	for _, v := range h.Vdcs() {
		v.ResetAnnouncement()
	}
}

// Properties assembles the full host property tree.
func (h *VdcHost) Properties() map[string]interface{} {
	props := h.Common.Properties(vdcapi.EntityVdcHost)
	h.mu.RLock()
	props["mac"] = h.Mac
	props["port"] = int64(h.Port)
	h.mu.RUnlock()
	return props
}

// PropertyTree returns the nested tree suitable for YAML persistence:
// {"vdcHost": {...common fields..., "vdcs": [...]}}.
func (h *VdcHost) PropertyTree() map[string]interface{} {
	h.mu.RLock()
	node := map[string]interface{}{
		"dSUID":              h.Common.DSUID.String(),
		"mac":                h.Mac,
		"port":               int64(h.Port),
		"name":               h.Common.Name,
		"model":              h.Common.Model,
		"modelVersion":       h.Common.ModelVersion,
		"modelUID":           h.Common.ModelUID,
		"hardwareVersion":    h.Common.HardwareVersion,
		"hardwareGuid":       h.Common.HardwareGuid,
		"hardwareModelGuid":  h.Common.HardwareModelGuid,
		"vendorName":         h.Common.VendorName,
		"vendorGuid":         h.Common.VendorGuid,
		"oemGuid":            h.Common.OemGuid,
		"oemModelGuid":       h.Common.OemModelGuid,
		"configURL":          h.Common.ConfigURL,
		"deviceIconName":     h.Common.DeviceIconName,
		"deviceClass":        h.Common.DeviceClass,
		"deviceClassVersion": h.Common.DeviceClassVersion,
	}
	vdcs := make([]*Vdc, len(h.vdcs))
	copy(vdcs, h.vdcs)
	h.mu.RUnlock()

	if len(vdcs) > 0 {
		tree := make([]interface{}, 0, len(vdcs))
		for _, v := range vdcs {
			tree = append(tree, v.Properties())
		}
		node["vdcs"] = tree
	}
	return map[string]interface{}{"vdcHost": node}
}

// ScheduleAutoSave (debounced) implements AutoSaver: it is the one
// place in the entity tree that owns a real timer, everything else
// propagates up to here.
func (h *VdcHost) ScheduleAutoSave() {
	h.saveMu.Lock()
	defer h.saveMu.Unlock()
	if h.saveTimer != nil {
		h.saveTimer.Stop()
	}
	h.saveTimer = time.AfterFunc(AutoSaveDelay, h.doAutoSave)
}

func (h *VdcHost) doAutoSave() {
	h.saveMu.Lock()
	h.saveTimer = nil
	h.saveMu.Unlock()
	if err := h.Save(); err != nil {
		log.Warn().Err(err).Msg("entity: auto-save failed")
	}
}

// LoadFromStore reads persisted state through the configured store
// and rebuilds the vDC/device/vdSD tree from it. The bool reports
// whether any persisted state was found; false with a nil error means
// the host starts with an empty tree.
func (h *VdcHost) LoadFromStore() (bool, error) {
	h.mu.RLock()
	store := h.store
	h.mu.RUnlock()
	if store == nil {
		return false, nil
	}

	tree, ok, err := store.Load()
	if err != nil {
		return false, fmt.Errorf("entity: load persisted state: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := h.RestoreTree(tree); err != nil {
		return false, fmt.Errorf("entity: restore persisted tree: %w", err)
	}
	return true, nil
}

// Save writes the property tree through the configured store
// immediately, cancelling any pending debounced auto-save.
func (h *VdcHost) Save() error {
	h.saveMu.Lock()
	if h.saveTimer != nil {
		h.saveTimer.Stop()
		h.saveTimer = nil
	}
	h.saveMu.Unlock()

	h.mu.RLock()
	store := h.store
	h.mu.RUnlock()
	if store == nil {
		return nil
	}
	return store.Save(h.PropertyTree())
}

// Flush saves immediately if an auto-save is currently pending. Call
// this before shutdown so no property change is lost.
func (h *VdcHost) Flush() error {
	h.saveMu.Lock()
	pending := h.saveTimer != nil
	h.saveMu.Unlock()
	if !pending {
		return nil
	}
	return h.Save()
}

func (h *VdcHost) String() string {
	return fmt.Sprintf("VdcHost(dsuid=%s, mac=%s, vdcs=%d)", h.Common.DSUID, h.Mac, len(h.vdcs))
}
