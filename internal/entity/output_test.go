package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

func TestNewOutputAutoCreatesChannelsByFunction(t *testing.T) {
	dimmer := NewOutput(vdcapi.FunctionDimmer, nil)
	assert.Len(t, dimmer.Channels(), 1)
	assert.Equal(t, vdcapi.ChannelBrightness, dimmer.Channels()[0].ChannelType)

	color := NewOutput(vdcapi.FunctionFullColorDimmer, nil)
	assert.Len(t, color.Channels(), 6)

	custom := NewOutput(vdcapi.FunctionPositional, nil)
	assert.Empty(t, custom.Channels())
}

func TestSetOutputChannelValueBuffersUntilApply(t *testing.T) {
	o := NewOutput(vdcapi.FunctionDimmer, nil)
	ch := o.Channels()[0]

	o.SetOutputChannelValue(ch.DsIndex, 42, false)
	assert.Nil(t, ch.Value())
	require.NotNil(t, ch.PendingValue())
	assert.Equal(t, 42.0, *ch.PendingValue())
}

func TestSetOutputChannelValueAppliesAndConfirmsBatch(t *testing.T) {
	var seen map[vdcapi.OutputChannelType]float64
	o := NewOutput(vdcapi.FunctionDimmer, func(updates map[vdcapi.OutputChannelType]float64) error {
		seen = updates
		return nil
	})
	ch := o.Channels()[0]

	o.SetOutputChannelValue(ch.DsIndex, 77, true)

	require.NotNil(t, seen)
	assert.Equal(t, 77.0, seen[vdcapi.ChannelBrightness])
	require.NotNil(t, ch.Value())
	assert.Equal(t, 77.0, *ch.Value())
	assert.Nil(t, ch.PendingValue())
}

func TestApplyCallbackErrorStillConfirmsChannels(t *testing.T) {
	o := NewOutput(vdcapi.FunctionDimmer, func(updates map[vdcapi.OutputChannelType]float64) error {
		return assert.AnError
	})
	ch := o.Channels()[0]

	o.SetOutputChannelValue(ch.DsIndex, 50, true)

	require.NotNil(t, ch.Value())
	assert.Equal(t, 50.0, *ch.Value())
	assert.Nil(t, ch.PendingValue())
}

func TestCallSceneAppliesSavedChannelValue(t *testing.T) {
	o := NewOutput(vdcapi.FunctionDimmer, nil)
	ch := o.Channels()[0]
	ch.UpdateValue(65)

	o.SaveScene(5)
	ch.UpdateValue(0)

	o.CallScene(5)
	require.NotNil(t, ch.Value())
	assert.Equal(t, 65.0, *ch.Value())
}

func TestNotifyMutationForwardsToAutoSaver(t *testing.T) {
	o := NewOutput(vdcapi.FunctionDimmer, nil)
	saver := &countingSaver{}
	o.SetAutoSaver(saver)

	o.CallScene(1)

	assert.Equal(t, 1, saver.count)
}

type countingSaver struct{ count int }

func (c *countingSaver) ScheduleAutoSave() { c.count++ }

type recordingSender struct {
	dsuid string
	props []vdcapi.PropertyElement
	calls int
}

func (r *recordingSender) PushProperty(vdsdDSUID string, properties []vdcapi.PropertyElement) error {
	r.dsuid = vdsdDSUID
	r.props = properties
	r.calls++
	return nil
}

func TestUpdateValuePushesChannelStateWhenPushChangesEnabled(t *testing.T) {
	o := NewOutput(vdcapi.FunctionDimmer, nil)
	o.PushChanges = true
	sender := &recordingSender{}
	o.SetNotifier(func() bool { return true }, sender, func() string { return "dsuid-1" })

	ch := o.Channels()[0]
	ch.UpdateValue(55)

	require.Equal(t, 1, sender.calls)
	assert.Equal(t, "dsuid-1", sender.dsuid)
	require.Len(t, sender.props, 1)
	assert.Equal(t, "channelStates", sender.props[0].Name)
}

func TestUpdateValueDoesNotPushWhenPushChangesDisabled(t *testing.T) {
	o := NewOutput(vdcapi.FunctionDimmer, nil)
	sender := &recordingSender{}
	o.SetNotifier(func() bool { return true }, sender, func() string { return "dsuid-1" })

	o.Channels()[0].UpdateValue(55)

	assert.Zero(t, sender.calls)
}

func TestUpdateValueDoesNotPushWhenNotAnnounced(t *testing.T) {
	o := NewOutput(vdcapi.FunctionDimmer, nil)
	o.PushChanges = true
	sender := &recordingSender{}
	o.SetNotifier(func() bool { return false }, sender, func() string { return "dsuid-1" })

	o.Channels()[0].UpdateValue(55)

	assert.Zero(t, sender.calls)
}

func TestConfirmAppliedPushesChannelStateWhenPushChangesEnabled(t *testing.T) {
	o := NewOutput(vdcapi.FunctionDimmer, nil)
	o.PushChanges = true
	sender := &recordingSender{}
	o.SetNotifier(func() bool { return true }, sender, func() string { return "dsuid-1" })

	o.SetOutputChannelValue(o.Channels()[0].DsIndex, 30, true)

	assert.Equal(t, 1, sender.calls)
}
