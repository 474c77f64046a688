package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

func buildSampleHost(t *testing.T) *VdcHost {
	t.Helper()
	h, err := NewVdcHost("AA:BB:CC:DD:EE:FF", 8444)
	require.NoError(t, err)
	h.Common.Name = "test host"

	vdc := NewVdc(h, "x-test-lights")
	vdc.Common.Name = "lights"
	vdc.ZoneID = 3
	vdc.Capabilities = VdcCapabilities{Metering: true}
	h.AddVdc(vdc)

	device := NewDevice(vdc, vdc.Common.DSUID)
	vdc.AddDevice(device)

	vdsd := NewVdsd(device, 0, vdcapi.ColorYellow)
	vdsd.Common.Name = "kitchen light"
	vdsd.ZoneID = 3
	vdsd.ModelFeatures["dontcare"] = true
	require.NoError(t, device.AddVdsd(vdsd))

	bi := vdsd.AddBinaryInput()
	bi.Name = "presence"
	bi.InputType = vdcapi.BinaryPresence
	bi.Group = vdcapi.ColorYellow

	out := NewOutput(vdcapi.FunctionDimmer, nil)
	out.OutputUsage = vdcapi.OutputUsageRoom
	out.DimTimeUp = 2.5
	vdsd.SetOutput(out)
	out.Channels()[0].UpdateValue(40)
	out.SaveScene(5)

	return h
}

func TestRestoreTreeRoundTripsStructuralAndSettingsFields(t *testing.T) {
	original := buildSampleHost(t)
	tree := original.PropertyTree()

	restored, err := NewVdcHost("AA:BB:CC:DD:EE:FF", 8444)
	require.NoError(t, err)
	require.NoError(t, restored.RestoreTree(tree))

	vdcs := restored.Vdcs()
	require.Len(t, vdcs, 1)
	assert.Equal(t, "lights", vdcs[0].Common.Name)
	assert.Equal(t, 3, vdcs[0].ZoneID)
	assert.True(t, vdcs[0].Capabilities.Metering)

	devices := vdcs[0].Devices()
	require.Len(t, devices, 1)
	vdsds := devices[0].Vdsds()
	require.Len(t, vdsds, 1)

	vdsd := vdsds[0]
	assert.Equal(t, "kitchen light", vdsd.Common.Name)
	assert.Equal(t, 3, vdsd.ZoneID)
	assert.True(t, vdsd.ModelFeatures["dontcare"])

	bins := vdsd.BinaryInputs()
	require.Len(t, bins, 1)
	assert.Equal(t, "presence", bins[0].Name)
	assert.Equal(t, vdcapi.BinaryPresence, bins[0].InputType)
	assert.Equal(t, vdcapi.ColorYellow, bins[0].Group)

	out := vdsd.Output()
	require.NotNil(t, out)
	assert.Equal(t, vdcapi.OutputUsageRoom, out.OutputUsage)
	assert.Equal(t, 2.5, out.DimTimeUp)
	require.Len(t, out.Channels(), 1)

	scene5 := out.Scenes().Get(5)
	require.NotEmpty(t, scene5.Channels)
	ch := scene5.Channels[out.Channels()[0].DsIndex]
	assert.Equal(t, 40.0, ch.Value)
}

func TestRestoreTreeRejectsMissingRoot(t *testing.T) {
	h, err := NewVdcHost("AA:BB:CC:DD:EE:FF", 8444)
	require.NoError(t, err)
	assert.Error(t, h.RestoreTree(map[string]interface{}{}))
}
