package entity

import (
	"fmt"
	"strconv"
	"time"

	"github.com/digitalstrom/vdchost/internal/scene"
	"github.com/digitalstrom/vdchost/pkg/dsuid"
	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

// RestoreTree rebuilds the vDC/device/vdSD tree under h from a
// property map previously produced by PropertyTree and handed back by
// Store.Load. Only description, settings and structural topology come
// back this way; volatile state (values, ages, errors, scene history,
// click state) stays at its zero value, matching the persistence
// discipline of §4.12.
func (h *VdcHost) RestoreTree(tree map[string]interface{}) error {
	root, ok := asMap(tree["vdcHost"])
	if !ok {
		return fmt.Errorf("entity: restore: tree has no vdcHost root")
	}
	restoreCommon(&h.Common, root)

	for _, raw := range asSlice(root["vdcs"]) {
		vm, ok := asMap(raw)
		if !ok {
			continue
		}
		if err := restoreVdc(h, vm); err != nil {
			return err
		}
	}
	return nil
}

func restoreVdc(h *VdcHost, m map[string]interface{}) error {
	implID := asString(m["implementationId"])
	if implID == "" {
		return fmt.Errorf("entity: restore: vdc entry missing implementationId")
	}
	v := NewVdc(h, implID)
	restoreCommon(&v.Common, m)
	v.ZoneID = asInt(m["zoneID"])
	if caps, ok := asMap(m["capabilities"]); ok {
		v.Capabilities = VdcCapabilities{
			Metering:           asBool(caps["metering"]),
			Identification:     asBool(caps["identification"]),
			DynamicDefinitions: asBool(caps["dynamicDefinitions"]),
		}
	}
	h.AddVdc(v)

	for _, raw := range asSlice(m["devices"]) {
		dm, ok := asMap(raw)
		if !ok {
			continue
		}
		if err := restoreDevice(v, dm); err != nil {
			return err
		}
	}
	return nil
}

func restoreDevice(v *Vdc, m map[string]interface{}) error {
	base, err := dsuid.FromString(asString(m["dSUID"]))
	if err != nil {
		return fmt.Errorf("entity: restore: device dSUID: %w", err)
	}
	d := NewDevice(v, base)
	v.AddDevice(d)

	for _, raw := range asSlice(m["vdsds"]) {
		vdm, ok := asMap(raw)
		if !ok {
			continue
		}
		if err := restoreVdsd(d, vdm); err != nil {
			return err
		}
	}
	return nil
}

func restoreVdsd(d *Device, m map[string]interface{}) error {
	full, err := dsuid.FromString(asString(m["dSUID"]))
	if err != nil {
		return fmt.Errorf("entity: restore: vdSD dSUID: %w", err)
	}

	primaryGroup := vdcapi.ColorGroup(asInt(m["primaryGroup"]))
	vd := NewVdsd(d, full.SubdeviceIndex(), primaryGroup)
	restoreCommon(&vd.Common, m)
	vd.ZoneID = asInt(m["zoneID"])
	if features, ok := asMap(m["modelFeatures"]); ok {
		for name, val := range features {
			if asBool(val) {
				vd.ModelFeatures[name] = true
			}
		}
	}

	if err := d.AddVdsd(vd); err != nil {
		return fmt.Errorf("entity: restore: %w", err)
	}

	for _, raw := range asSlice(m["binaryInputDescriptions"]) {
		bm, ok := asMap(raw)
		if !ok {
			continue
		}
		restoreBinaryInput(vd.AddBinaryInput(), bm)
	}
	for _, raw := range asSlice(m["sensorDescriptions"]) {
		sm, ok := asMap(raw)
		if !ok {
			continue
		}
		restoreSensorInput(vd.AddSensorInput(), sm)
	}
	for _, raw := range asSlice(m["buttonInputDescriptions"]) {
		btm, ok := asMap(raw)
		if !ok {
			continue
		}
		restoreButtonInput(vd.AddButtonInput(), btm)
	}

	if om, ok := asMap(m["output"]); ok {
		restoreOutput(vd, om)
	}
	return nil
}

func restoreBinaryInput(bi *BinaryInput, m map[string]interface{}) {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	bi.Name = asString(m["name"])
	bi.InputType = vdcapi.BinaryInputType(asInt(m["inputType"]))
	bi.InputUsage = vdcapi.BinaryInputUsage(asInt(m["inputUsage"]))
	bi.HardwiredFunction = vdcapi.BinaryInputType(asInt(m["hardwiredFunction"]))
	bi.UpdateInterval = asSeconds(m["updateInterval"])
	bi.AliveSignInterval = asSeconds(m["aliveSignInterval"])
	bi.Group = vdcapi.ColorGroup(asInt(m["group"]))
	bi.SensorFunction = vdcapi.BinaryInputType(asInt(m["sensorFunction"]))
	bi.MinPushInterval = asSeconds(m["minPushInterval"])
	bi.ChangesOnlyInterval = asSeconds(m["changesOnlyInterval"])
}

func restoreSensorInput(si *SensorInput, m map[string]interface{}) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.Name = asString(m["name"])
	si.SensorType = vdcapi.SensorType(asInt(m["sensorType"]))
	si.SensorUsage = vdcapi.SensorUsage(asInt(m["sensorUsage"]))
	si.Min = asFloat(m["min"])
	si.Max = asFloat(m["max"])
	si.Resolution = asFloat(m["resolution"])
	si.UpdateInterval = asSeconds(m["updateInterval"])
	si.AliveSignInterval = asSeconds(m["aliveSignInterval"])
	si.Group = vdcapi.ColorGroup(asInt(m["group"]))
	si.MinPushInterval = asSeconds(m["minPushInterval"])
	si.ChangesOnlyInterval = asSeconds(m["changesOnlyInterval"])
}

func restoreButtonInput(bt *ButtonInput, m map[string]interface{}) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.ButtonType = vdcapi.ButtonType(asInt(m["buttonType"]))
	bt.ButtonElementID = vdcapi.ButtonElementID(asInt(m["buttonElementID"]))
	bt.ButtonID = asInt(m["buttonID"])
	bt.SupportsLocalKeyMode = asBool(m["supportsLocalKeyMode"])
	bt.Group = vdcapi.ButtonGroup(asInt(m["group"]))
	bt.Function = vdcapi.ButtonFunction(asInt(m["function"]))
	bt.Mode = vdcapi.ButtonMode(asInt(m["mode"]))
	bt.Channel = vdcapi.OutputChannelType(asInt(m["channel"]))
	bt.SetsLocalPriority = asBool(m["setsLocalPriority"])
	bt.CallsPresent = asBool(m["callsPresent"])
}

func restoreOutput(vd *Vdsd, m map[string]interface{}) {
	function := vdcapi.OutputFunction(asInt(m["function"]))
	out := NewOutput(function, nil)

	out.mu.Lock()
	out.OutputUsage = vdcapi.OutputUsage(asInt(m["outputUsage"]))
	out.DefaultGroup = vdcapi.ColorGroup(asInt(m["defaultGroup"]))
	out.VariableRamp = asBool(m["variableRamp"])
	out.MaxPower = asFloat(m["maxPower"])
	out.ActiveCoolingMode = asBool(m["activeCoolingMode"])
	out.Mode = vdcapi.OutputMode(asInt(m["mode"]))
	out.ActiveGroup = vdcapi.ColorGroup(asInt(m["activeGroup"]))
	out.PushChanges = asBool(m["pushChanges"])
	out.OnThreshold = asFloat(m["onThreshold"])
	out.MinBrightness = asFloat(m["minBrightness"])
	out.DimTimeUp = asFloat(m["dimTimeUp"])
	out.DimTimeDown = asFloat(m["dimTimeDown"])
	out.DimTimeUpAlt1 = asFloat(m["dimTimeUpAlt1"])
	out.DimTimeDownAlt1 = asFloat(m["dimTimeDownAlt1"])
	out.DimTimeUpAlt2 = asFloat(m["dimTimeUpAlt2"])
	out.DimTimeDownAlt2 = asFloat(m["dimTimeDownAlt2"])
	out.HeatingSystemCapability = vdcapi.HeatingSystemCapability(asInt(m["heatingSystemCapability"]))
	out.HeatingSystemType = vdcapi.HeatingSystemType(asInt(m["heatingSystemType"]))
	for _, raw := range asSlice(m["groups"]) {
		out.Groups[vdcapi.ColorGroup(asInt(raw))] = true
	}
	out.mu.Unlock()

	for _, raw := range asSlice(m["channels"]) {
		cm, ok := asMap(raw)
		if !ok {
			continue
		}
		channelType := vdcapi.OutputChannelType(asInt(cm["channelType"]))
		dsIndex := asInt(cm["dsIndex"])
		out.mu.Lock()
		_, exists := out.channels[dsIndex]
		out.mu.Unlock()
		if exists {
			continue
		}
		name := asString(cm["name"])
		min := asFloat(cm["min"])
		max := asFloat(cm["max"])
		resolution := asFloat(cm["resolution"])
		out.AddChannel(channelType, dsIndex, name, &min, &max, &resolution)
	}

	restoreScenes(out.Scenes(), asSlice(m["scenes"]))
	vd.SetOutput(out)
}

func restoreScenes(table *scene.Table, entries []interface{}) {
	for _, raw := range entries {
		em, ok := asMap(raw)
		if !ok {
			continue
		}
		index := asInt(em["index"])
		effect := vdcapi.SceneEffect(asInt(em["effect"]))
		channels := map[int]scene.ChannelEntry{}
		if cm, ok := asMap(em["channels"]); ok {
			for key, raw := range cm {
				dsIndex, err := strconv.Atoi(key)
				if err != nil {
					continue
				}
				entry, ok := asMap(raw)
				if !ok {
					continue
				}
				channels[dsIndex] = scene.ChannelEntry{
					Value:    asFloat(entry["value"]),
					DontCare: asBool(entry["dontCare"]),
				}
			}
		}
		table.RestorePersistedEntry(index, asBool(em["dontCare"]), asBool(em["ignoreLocalPriority"]), effect, channels)
	}
}

func restoreCommon(c *Common, m map[string]interface{}) {
	c.Name = asString(m["name"])
	c.Model = asString(m["model"])
	c.ModelVersion = asString(m["modelVersion"])
	if modelUID := asString(m["modelUID"]); modelUID != "" {
		c.ModelUID = modelUID
	}
	c.HardwareVersion = asString(m["hardwareVersion"])
	c.HardwareGuid = asString(m["hardwareGuid"])
	c.HardwareModelGuid = asString(m["hardwareModelGuid"])
	c.VendorName = asString(m["vendorName"])
	c.VendorGuid = asString(m["vendorGuid"])
	c.OemGuid = asString(m["oemGuid"])
	c.OemModelGuid = asString(m["oemModelGuid"])
	c.ConfigURL = asString(m["configURL"])
	c.DeviceIconName = asString(m["deviceIconName"])
	c.DeviceClass = asString(m["deviceClass"])
	c.DeviceClassVersion = asString(m["deviceClassVersion"])
	if active, ok := m["active"]; ok {
		c.Active = asBool(active)
	} else {
		c.Active = true
	}
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// asFloat accepts any of the numeric shapes a YAML or JSON decoder may
// hand back for the same persisted scalar (plain int from yaml.v3,
// int64/float64 from a hand-built map).
func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return 0
}

func asInt(v interface{}) int {
	return int(asFloat(v))
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asSeconds(v interface{}) time.Duration {
	return time.Duration(asFloat(v) * float64(time.Second))
}
