package dsuid

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringRoundTrip(t *testing.T) {
	cases := []DsUid{
		Random(0),
		FromNameInSpace(NamespaceVDC, "AA:BB:CC:DD:EE:FF", 3),
		mustSGTIN(t),
		FromGID96(0x04175FE, 0xFF1234, 123456789, 5),
	}
	for _, d := range cases {
		parsed, err := FromString(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}
}

func mustSGTIN(t *testing.T) DsUid {
	t.Helper()
	d, err := FromSGTIN96(614141000000, 123, 1, 9999, 2)
	require.NoError(t, err)
	return d
}

func TestFromStringAcceptsBareUUID(t *testing.T) {
	u := uuid.New()
	d, err := FromString(u.String())
	require.NoError(t, err)
	assert.Equal(t, byte(0), d.SubdeviceIndex())
	assert.Equal(t, u, d.UUID())
}

func TestFromNameInSpaceMatchesUUIDv5(t *testing.T) {
	d := FromNameInSpace(NamespaceVDC, "AA:BB:CC:DD:EE:FF", 0)
	want := uuid.NewSHA1(NamespaceVDC, []byte("AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, want, d.UUID())
	assert.Equal(t, TypeUUID, d.IDType())
}

func TestDeriveSubdeviceAndSameDevice(t *testing.T) {
	base := Random(0)
	sub1 := base.DeriveSubdevice(1)
	sub2 := base.DeriveSubdevice(2)

	assert.True(t, base.SameDevice(sub1))
	assert.True(t, sub1.SameDevice(sub2))
	assert.NotEqual(t, sub1, sub2)
	assert.Equal(t, base, sub1.DeviceBase())
	assert.Equal(t, byte(1), sub1.SubdeviceIndex())
}

func TestIDTypeClassification(t *testing.T) {
	sg, err := FromSGTIN96(614141000000, 1, 0, 42, 0)
	require.NoError(t, err)
	assert.Equal(t, TypeSGTIN, sg.IDType())

	gid := FromGID96(0x04175FE, 0xFF0102, 1, 0)
	assert.Equal(t, TypeGID, gid.IDType())

	u := FromUUID(uuid.New(), 0)
	assert.Equal(t, TypeUUID, u.IDType())
}

func TestInvalidLengthRejected(t *testing.T) {
	_, err := FromBytes(make([]byte, 10))
	assert.Error(t, err)

	_, err = FromString("not-a-valid-dsuid")
	assert.Error(t, err)
}

func TestSGTIN96RejectsOutOfRangePartitionOrSerial(t *testing.T) {
	_, err := FromSGTIN96(1, 1, 7, 1, 0)
	assert.Error(t, err)

	_, err = FromSGTIN96(1, 1, 0, 1<<38, 0)
	assert.Error(t, err)
}

func TestFromMACGID96(t *testing.T) {
	d, err := FromMACGID96("12:34:56:78:90:AB", 0)
	require.NoError(t, err)
	assert.Equal(t, TypeGID, d.IDType())

	again, err := FromMACGID96("1234567890AB", 0)
	require.NoError(t, err)
	assert.Equal(t, d, again)
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, Zero.IsEmpty())
	assert.False(t, Random(0).IsEmpty())
}
