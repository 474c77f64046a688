package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVdcHostDerivesDSUIDAndHardwareGuid(t *testing.T) {
	h, err := NewVdcHost("AA:BB:CC:DD:EE:FF", 8444)
	require.NoError(t, err)
	assert.NotEmpty(t, h.Common.DSUID.String())
	assert.Equal(t, "macaddress:AA:BB:CC:DD:EE:FF", h.HardwareGuid)
}

func TestNewVdcHostRejectsInvalidMac(t *testing.T) {
	_, err := NewVdcHost("not-a-mac", 8444)
	assert.Error(t, err)
}

func TestScheduleAutoSaveDebouncesBurstsIntoOneSave(t *testing.T) {
	h, err := NewVdcHost("AA:BB:CC:DD:EE:FF", 8444)
	require.NoError(t, err)
	store := &countingSaveStore{}
	h.SetStore(store)

	h.ScheduleAutoSave()
	h.ScheduleAutoSave()
	h.ScheduleAutoSave()

	require.Eventually(t, func() bool {
		return store.saved >= 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, store.saved)
}

func TestFlushIsNoopWithoutPendingSave(t *testing.T) {
	h, err := NewVdcHost("AA:BB:CC:DD:EE:FF", 8444)
	require.NoError(t, err)
	store := &countingSaveStore{}
	h.SetStore(store)

	// Construction itself schedules one initial save; drain it before
	// asserting the no-pending-save case.
	require.NoError(t, h.Flush())
	require.Equal(t, 1, store.saved)

	require.NoError(t, h.Flush())
	assert.Equal(t, 1, store.saved)
}

func TestFlushSavesImmediatelyWhenPending(t *testing.T) {
	h, err := NewVdcHost("AA:BB:CC:DD:EE:FF", 8444)
	require.NoError(t, err)
	store := &countingSaveStore{}
	h.SetStore(store)

	h.ScheduleAutoSave()
	require.NoError(t, h.Flush())
	assert.Equal(t, 1, store.saved)
}

func TestVdcByDSUIDLooksUpRegisteredVdc(t *testing.T) {
	h, err := NewVdcHost("AA:BB:CC:DD:EE:FF", 8444)
	require.NoError(t, err)
	vdc := NewVdc(h, "x-acme-light")
	h.AddVdc(vdc)

	found := h.VdcByDSUID(vdc.Common.DSUID.String())
	require.NotNil(t, found)
	assert.Equal(t, vdc, found)
}

func TestPropertyTreeIncludesRegisteredVdcs(t *testing.T) {
	h, err := NewVdcHost("AA:BB:CC:DD:EE:FF", 8444)
	require.NoError(t, err)
	vdc := NewVdc(h, "x-acme-light")
	h.AddVdc(vdc)

	tree := h.PropertyTree()
	root, ok := tree["vdcHost"].(map[string]interface{})
	require.True(t, ok)
	vdcs, ok := root["vdcs"].([]interface{})
	require.True(t, ok)
	assert.Len(t, vdcs, 1)
}
