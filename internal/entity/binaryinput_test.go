package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateValueClearsExtendedValue(t *testing.T) {
	b := NewBinaryInput(0, func() bool { return true }, nil, func() string { return "dsuid" })
	b.UpdateExtendedValue(3)
	require.NotNil(t, b.extendedValue)

	b.UpdateValue(true)

	require.NotNil(t, b.value)
	assert.True(t, *b.value)
	assert.Nil(t, b.extendedValue)
}

func TestUpdateExtendedValueClearsValue(t *testing.T) {
	b := NewBinaryInput(0, func() bool { return true }, nil, func() string { return "dsuid" })
	b.UpdateValue(true)
	require.NotNil(t, b.value)

	b.UpdateExtendedValue(7)

	require.NotNil(t, b.extendedValue)
	assert.Equal(t, int64(7), *b.extendedValue)
	assert.Nil(t, b.value)
}
