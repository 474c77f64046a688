package click

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

type event struct {
	clickType vdcapi.ButtonClickType
	value     bool
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) record(ct vdcapi.ButtonClickType, value bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{ct, value})
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event, len(r.events))
	copy(out, r.events)
	return out
}

func testConfig() Config {
	return Config{
		TipTimeout:         30 * time.Millisecond,
		MultiClickWindow:   30 * time.Millisecond,
		HoldRepeatInterval: 30 * time.Millisecond,
	}
}

func TestSingleClickResolvesAfterMultiClickWindow(t *testing.T) {
	rec := &recorder{}
	d := New(testConfig(), rec.record)

	d.Press()
	d.Release()

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	events := rec.snapshot()
	assert.Equal(t, vdcapi.ClickClick1x, events[0].clickType)
	assert.False(t, events[0].value)
	assert.Equal(t, "idle", d.State())
}

func TestDoubleClickCounts(t *testing.T) {
	rec := &recorder{}
	d := New(testConfig(), rec.record)

	d.Press()
	d.Release()
	time.Sleep(5 * time.Millisecond)
	d.Press()
	d.Release()

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	events := rec.snapshot()
	assert.Equal(t, vdcapi.ClickClick2x, events[0].clickType)
}

func TestHoldStartAfterTipTimeout(t *testing.T) {
	rec := &recorder{}
	d := New(testConfig(), rec.record)

	d.Press()

	assert.Eventually(t, func() bool {
		events := rec.snapshot()
		return len(events) == 1 && events[0].clickType == vdcapi.ClickHoldStart
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "holding", d.State())
}

func TestHoldRepeatFiresWhileHeld(t *testing.T) {
	rec := &recorder{}
	d := New(testConfig(), rec.record)

	d.Press()

	assert.Eventually(t, func() bool {
		count := 0
		for _, e := range rec.snapshot() {
			if e.clickType == vdcapi.ClickHoldRepeat {
				count++
			}
		}
		return count >= 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHoldEndOnRelease(t *testing.T) {
	rec := &recorder{}
	d := New(testConfig(), rec.record)

	d.Press()
	require.Eventually(t, func() bool { return d.State() == "holding" }, time.Second, 5*time.Millisecond)

	d.Release()

	assert.Eventually(t, func() bool {
		events := rec.snapshot()
		return len(events) > 0 && events[len(events)-1].clickType == vdcapi.ClickHoldEnd
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "idle", d.State())
	assert.Equal(t, 0, d.TipCount())
}

func TestShortLongComboAfterOneTip(t *testing.T) {
	rec := &recorder{}
	d := New(testConfig(), rec.record)

	d.Press()
	d.Release()
	time.Sleep(5 * time.Millisecond)
	d.Press()

	assert.Eventually(t, func() bool {
		for _, e := range rec.snapshot() {
			if e.clickType == vdcapi.ClickShortLong {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestTipEventsModeEmitsTipTypes(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig()
	cfg.UseTipEvents = true
	d := New(cfg, rec.record)

	d.Press()
	d.Release()

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, vdcapi.ClickTip1x, rec.snapshot()[0].clickType)
}

func TestStopCancelsPendingTimers(t *testing.T) {
	rec := &recorder{}
	d := New(testConfig(), rec.record)

	d.Press()
	d.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, "idle", d.State())
}

func TestReleaseWithoutPressIsIgnored(t *testing.T) {
	rec := &recorder{}
	d := New(testConfig(), rec.record)

	d.Release()

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, "idle", d.State())
}
