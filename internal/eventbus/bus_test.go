package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWithNothingEnabledIsUsableNoop(t *testing.T) {
	bus := New(Config{})
	assert.NotPanics(t, func() {
		bus.Publish(Event{Kind: KindAnnounce, DSUID: "abc"})
	})
	assert.NotPanics(t, bus.Close)
}

func TestPublishWithUnreachableNATSDoesNotPanic(t *testing.T) {
	bus := New(Config{
		NATSEnabled:   true,
		NATSURL:       "nats://127.0.0.1:1",
		SubjectPrefix: "vdchost",
		MaxReconnects: 0,
	})
	assert.NotPanics(t, func() {
		bus.Publish(Event{Kind: KindVanish, DSUID: "abc"})
	})
	bus.Close()
}
