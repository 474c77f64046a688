// Package entity implements the vDC API entity hierarchy: VdcHost,
// Vdc, Device, Vdsd and their inputs/output, property exposure,
// announcement lifecycle and scene tables.
package entity

import (
	"sync"

	"github.com/digitalstrom/vdchost/pkg/dsuid"
	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

// AutoSaver is implemented by anything that can be asked to schedule
// a debounced persistence write. Devices and every level above them
// propagate mutation notifications up to the host, which owns the
// actual debounce timer.
type AutoSaver interface {
	ScheduleAutoSave()
}

// Common holds the property set shared by every entity kind (§3.2 of
// the entity model): identity, description and the active flag.
type Common struct {
	mu sync.RWMutex

	DSUID              dsuid.DsUid
	Name               string
	Model              string
	ModelVersion       string
	ModelUID           string
	HardwareVersion    string
	HardwareGuid       string
	HardwareModelGuid  string
	VendorName         string
	VendorGuid         string
	OemGuid            string
	OemModelGuid       string
	ConfigURL          string
	DeviceIcon16       []byte
	DeviceIconName     string
	DeviceClass        string
	DeviceClassVersion string
	Active             bool
}

// DisplayID is the dSUID rendered as its canonical hex string.
func (c *Common) DisplayID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DSUID.String()
}

// Properties returns the common property set as a flat map, merged by
// callers into their entity-specific property tree.
func (c *Common) Properties(entityType vdcapi.EntityType) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	modelUID := c.ModelUID
	if modelUID == "" {
		modelUID = ModelUIDFromModel(c.Model)
	}
	return map[string]interface{}{
		"dSUID":              c.DSUID.String(),
		"displayId":          c.DSUID.String(),
		"type":               int64(entityType),
		"name":               c.Name,
		"model":              c.Model,
		"modelVersion":       c.ModelVersion,
		"modelUID":           modelUID,
		"hardwareVersion":    c.HardwareVersion,
		"hardwareGuid":       c.HardwareGuid,
		"hardwareModelGuid":  c.HardwareModelGuid,
		"vendorName":         c.VendorName,
		"vendorGuid":         c.VendorGuid,
		"oemGuid":            c.OemGuid,
		"oemModelGuid":       c.OemModelGuid,
		"configURL":          c.ConfigURL,
		"deviceIcon16":       c.DeviceIcon16,
		"deviceIconName":     c.DeviceIconName,
		"deviceClass":        c.DeviceClass,
		"deviceClassVersion": c.DeviceClassVersion,
		"active":             c.Active,
	}
}

// ModelUIDFromModel derives a deterministic modelUID via UUIDv5 in the
// VDC namespace, used whenever ModelUID is not explicitly set.
func ModelUIDFromModel(model string) string {
	return dsuid.FromNameInSpace(dsuid.NamespaceVDC, model, 0).String()
}
