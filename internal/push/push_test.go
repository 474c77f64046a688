package push

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu         sync.Mutex
	key        int
	announced  bool
	pushCount  int32
	failNext   bool
	pushedKeys []int
}

func (f *fakeSender) CurrentKey() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.key
}

func (f *fakeSender) IsAnnounced() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.announced
}

func (f *fakeSender) Push(force bool) error {
	atomic.AddInt32(&f.pushCount, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("send failed")
	}
	f.pushedKeys = append(f.pushedKeys, f.key)
	return nil
}

func (f *fakeSender) setKey(k int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.key = k
}

func (f *fakeSender) count() int {
	return int(atomic.LoadInt32(&f.pushCount))
}

func TestPushStateSkipsWhenNotAnnounced(t *testing.T) {
	sender := &fakeSender{announced: false}
	engine := New(Config{}, sender)
	engine.PushState(false)
	assert.Equal(t, 0, sender.count())
}

func TestPushStateSendsImmediatelyWhenNoThrottle(t *testing.T) {
	sender := &fakeSender{announced: true}
	engine := New(Config{}, sender)
	engine.PushState(false)
	assert.Equal(t, 1, sender.count())
}

func TestChangesOnlyIntervalSuppressesRepeat(t *testing.T) {
	sender := &fakeSender{announced: true, key: 1}
	engine := New(Config{ChangesOnlyInterval: time.Hour}, sender)
	engine.PushState(false)
	require.Equal(t, 1, sender.count())

	// same key, well within the window: suppressed
	engine.PushState(false)
	assert.Equal(t, 1, sender.count())
}

func TestChangesOnlyIntervalAllowsChangedValue(t *testing.T) {
	sender := &fakeSender{announced: true, key: 1}
	engine := New(Config{ChangesOnlyInterval: time.Hour}, sender)
	engine.PushState(false)
	require.Equal(t, 1, sender.count())

	sender.setKey(2)
	engine.PushState(false)
	assert.Equal(t, 2, sender.count())
}

func TestMinPushIntervalDefersThenFires(t *testing.T) {
	sender := &fakeSender{announced: true, key: 1}
	engine := New(Config{MinPushInterval: 30 * time.Millisecond}, sender)
	engine.PushState(false)
	require.Equal(t, 1, sender.count())

	sender.setKey(2)
	engine.PushState(false)
	// deferred, not yet sent
	assert.Equal(t, 1, sender.count())

	assert.Eventually(t, func() bool {
		return sender.count() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestForcePushBypassesThrottle(t *testing.T) {
	sender := &fakeSender{announced: true, key: 1}
	engine := New(Config{MinPushInterval: time.Hour, ChangesOnlyInterval: time.Hour}, sender)
	engine.PushState(false)
	require.Equal(t, 1, sender.count())

	engine.PushState(true)
	assert.Equal(t, 2, sender.count())
}

func TestFailedSendStillReschedulesAliveTimer(t *testing.T) {
	sender := &fakeSender{announced: true, key: 1, failNext: true}
	engine := New(Config{AliveSignInterval: 20 * time.Millisecond}, sender)
	engine.StartAliveTimer()

	engine.PushState(false)
	require.Equal(t, 1, sender.count())

	assert.Eventually(t, func() bool {
		return sender.count() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestAliveTimerFiresWhenIdle(t *testing.T) {
	sender := &fakeSender{announced: true, key: 1}
	engine := New(Config{AliveSignInterval: 20 * time.Millisecond}, sender)
	engine.StartAliveTimer()
	engine.PushState(false)
	require.Equal(t, 1, sender.count())

	assert.Eventually(t, func() bool {
		return sender.count() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestStopAliveTimerPreventsFurtherPushes(t *testing.T) {
	sender := &fakeSender{announced: true, key: 1}
	engine := New(Config{AliveSignInterval: 15 * time.Millisecond}, sender)
	engine.StartAliveTimer()
	engine.PushState(false)
	require.Equal(t, 1, sender.count())

	engine.StopAliveTimer()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, sender.count())
}
