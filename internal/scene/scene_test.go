package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

type fakeChannels struct {
	values map[int]float64
}

func newFakeChannels(dsIndex int, value float64) *fakeChannels {
	return &fakeChannels{values: map[int]float64{dsIndex: value}}
}

func (f *fakeChannels) CurrentValue(dsIndex int) (float64, bool) {
	v, ok := f.values[dsIndex]
	return v, ok
}

func (f *fakeChannels) ApplyValue(dsIndex int, value float64) {
	f.values[dsIndex] = value
}

func TestDefaultsPreset0AtMinAndPreset1AtMax(t *testing.T) {
	fc := newFakeChannels(0, 0)
	table := NewTable(fc, []int{0}, 0, 100)

	preset0 := table.Get(int(vdcapi.ScenePreset0))
	assert.False(t, preset0.DontCare)
	assert.Equal(t, 0.0, preset0.Channels[0].Value)

	preset1 := table.Get(int(vdcapi.ScenePreset1))
	assert.False(t, preset1.DontCare)
	assert.Equal(t, 100.0, preset1.Channels[0].Value)
}

func TestUndefinedSceneDefaultsDontCare(t *testing.T) {
	fc := newFakeChannels(0, 0)
	table := NewTable(fc, []int{0}, 0, 100)
	entry := table.Get(17)
	assert.True(t, entry.DontCare)
}

func TestSaveThenCallAppliesSavedValue(t *testing.T) {
	fc := newFakeChannels(0, 0)
	table := NewTable(fc, []int{0}, 0, 100)

	fc.ApplyValue(0, 73)
	table.Save(17, []int{0}, fc)

	entry := table.Get(17)
	require.False(t, entry.DontCare)
	assert.Equal(t, 73.0, entry.Channels[0].Value)
	assert.False(t, entry.Channels[0].DontCare)

	fc.ApplyValue(0, 0)
	table.Call(17, fc)
	v, _ := fc.CurrentValue(0)
	assert.Equal(t, 73.0, v)
}

func TestCallDontCareEntryHasNoEffect(t *testing.T) {
	fc := newFakeChannels(0, 42)
	table := NewTable(fc, []int{0}, 0, 100)

	table.Call(17, fc)
	v, _ := fc.CurrentValue(0)
	assert.Equal(t, 42.0, v)
}

func TestUndoRevertsLastCall(t *testing.T) {
	fc := newFakeChannels(0, 0)
	table := NewTable(fc, []int{0}, 0, 100)

	fc.ApplyValue(0, 55)
	table.Save(17, []int{0}, fc)

	fc.ApplyValue(0, 10)
	table.Call(17, fc)
	v, _ := fc.CurrentValue(0)
	require.Equal(t, 55.0, v)

	table.Undo(fc)
	v, _ = fc.CurrentValue(0)
	assert.Equal(t, 10.0, v)
}

func TestUndoWithoutPriorCallIsNoop(t *testing.T) {
	fc := newFakeChannels(0, 5)
	table := NewTable(fc, []int{0}, 0, 100)
	table.Undo(fc)
	v, _ := fc.CurrentValue(0)
	assert.Equal(t, 5.0, v)
}
