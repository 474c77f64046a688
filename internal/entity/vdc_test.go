package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveVdcDSUIDIsDeterministic(t *testing.T) {
	a := DeriveVdcDSUID("x-acme-light")
	b := DeriveVdcDSUID("x-acme-light")
	c := DeriveVdcDSUID("x-acme-shade")

	assert.Equal(t, a.String(), b.String())
	assert.NotEqual(t, a.String(), c.String())
}

func TestAddDeviceRegistersAndLooksUpByDSUID(t *testing.T) {
	vdc := NewVdc(nil, "x-acme-light")
	d := NewDevice(vdc, vdc.Common.DSUID)
	vdc.AddDevice(d)

	assert.Len(t, vdc.Devices(), 1)
	assert.Equal(t, d, vdc.DeviceByDSUID(d.DSUID.String()))
}

func TestVdsdByDSUIDSearchesAllDevices(t *testing.T) {
	vdc := NewVdc(nil, "x-acme-light")
	d := NewDevice(vdc, vdc.Common.DSUID)
	vdc.AddDevice(d)
	v := NewVdsd(d, 0, 0)
	require.NoError(t, d.AddVdsd(v))

	found := vdc.VdsdByDSUID(v.DSUIDString())
	require.NotNil(t, found)
	assert.Equal(t, v, found)
	assert.Nil(t, vdc.VdsdByDSUID("not-a-real-dsuid"))
}

func TestVdcCapabilitiesToMap(t *testing.T) {
	caps := VdcCapabilities{Metering: true, Identification: false, DynamicDefinitions: true}
	m := caps.toMap()
	assert.Equal(t, true, m["metering"])
	assert.Equal(t, false, m["identification"])
	assert.Equal(t, true, m["dynamicDefinitions"])
}
