package vdcapi

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"kind":2}`)
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrameCleanEOF(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	_, err := ReadFrame(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x00})
	_, err := ReadFrame(buf)
	assert.ErrorIs(t, err, ErrZeroLengthMessage)
}

func TestReadFrameRejectsOversize(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xFF, 0xFF})
	_, err := ReadFrame(buf)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestWriteFrameRejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxMessageLength+1))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestReadFramePartialHeaderIsError(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00})
	_, err := ReadFrame(buf)
	assert.Error(t, err)
	assert.False(t, err == io.EOF)
}
