package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSensorInputDefaultsMinPushIntervalToTwoSeconds(t *testing.T) {
	s := NewSensorInput(0, func() bool { return true }, nil, func() string { return "dsuid" })
	assert.Equal(t, 2*time.Second, s.MinPushInterval)
}
