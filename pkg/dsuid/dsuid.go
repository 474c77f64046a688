// Package dsuid implements the digitalSTROM Unique Identifier: a
// 17-byte value consisting of a 128-bit base identity (bytes 0-15,
// either a UUID or an EPC96 code mapped into 16 bytes) and an 8-bit
// sub-device enumeration index (byte 16).
//
// Reference: plan44/p44vdc dsuid.cpp/hpp, ds-basics v1.6.
package dsuid

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Size is the total number of bytes in a dSUID.
const Size = 17

// baseSize is the number of bytes occupied by the UUID/EPC96 base identity.
const baseSize = 16

const (
	sgtin96Header byte = 0x30
	gid96Header   byte = 0x35
)

// gcpBitLength is the GS1 Company Prefix bit-length lookup indexed by
// SGTIN-96 partition value (0-6). The combined GCP+ItemRef field is
// always 44 bits; partition selects how that 44 bits splits.
var gcpBitLength = [7]uint{40, 37, 34, 30, 27, 24, 20}

// Well-known namespace UUIDs for UUIDv5-based dSUID generation.
var (
	// NamespaceGS1128 is used for SGTIN-128 strings "(01)<GTIN>(21)<serial>".
	NamespaceGS1128 = uuid.MustParse("8ca838d5-4c40-47cc-bafa-37ac89658962")
	// NamespaceEnOcean is used for EnOcean device addresses.
	NamespaceEnOcean = uuid.MustParse("0ba94a7b-7c92-4dab-b8e3-5fe09e83d0f3")
	// NamespaceVDC is used to derive a vDC dSUID from a hardware MAC address.
	NamespaceVDC = uuid.MustParse("9888dd3d-b345-4109-b088-2673306d0c65")
	// NamespaceVDSM is used to derive a vdSM dSUID from a hardware MAC address.
	NamespaceVDSM = uuid.MustParse("195de5c0-902f-4b71-a706-b43b80765e3d")
)

// Type identifies what kind of identifier is encoded in a dSUID's base bytes.
type Type uint8

const (
	TypeUndefined Type = iota
	TypeGID
	TypeSGTIN
	TypeUUID
	TypeOther
)

func (t Type) String() string {
	switch t {
	case TypeGID:
		return "GID"
	case TypeSGTIN:
		return "SGTIN"
	case TypeUUID:
		return "UUID"
	case TypeOther:
		return "OTHER"
	default:
		return "UNDEFINED"
	}
}

// DsUid is a 17-byte digitalSTROM Unique Identifier. It is a plain
// value type: comparable with ==, usable as a map key, and safe to
// copy.
type DsUid [Size]byte

// Zero is the all-zero dSUID, used as a sentinel for "not yet assigned".
var Zero DsUid

// FromBytes builds a DsUid from an exact 17-byte slice.
func FromBytes(data []byte) (DsUid, error) {
	var d DsUid
	if len(data) != Size {
		return d, fmt.Errorf("dsuid: expected %d bytes, got %d", Size, len(data))
	}
	copy(d[:], data)
	return d, nil
}

// FromString parses the canonical 34-hex-character form, or a 32-hex
// (optionally dashed) UUID string with an implicit sub-device index 0.
func FromString(s string) (DsUid, error) {
	var d DsUid
	cleaned := strings.ReplaceAll(s, "-", "")
	if len(cleaned) != 32 && len(cleaned) != 34 {
		return d, fmt.Errorf("dsuid: invalid string length: expected 32 or 34 hex chars, got %d (from %q)", len(cleaned), s)
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return d, fmt.Errorf("dsuid: invalid hex characters in %q: %w", s, err)
	}
	if len(raw) == baseSize {
		copy(d[:baseSize], raw)
		d[baseSize] = 0
	} else {
		copy(d[:], raw)
	}
	return d, nil
}

// String renders the canonical 34 upper-case hex character form.
func (d DsUid) String() string {
	return strings.ToUpper(hex.EncodeToString(d[:]))
}

func (d DsUid) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

func (d *DsUid) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("dsuid: %w", err)
	}
	parsed, err := FromString(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML renders the dSUID as its canonical hex string for persistence.
func (d DsUid) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML parses the dSUID from its canonical hex string.
func (d *DsUid) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := FromString(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// IsEmpty reports whether this is the all-zero sentinel value.
func (d DsUid) IsEmpty() bool {
	return d == Zero
}

// IDType classifies the base identity by structural inspection of the
// bytes, matching the EPC96 marker convention: bytes 6-9 all zero plus
// a recognised header byte indicates SGTIN-96/GID-96; otherwise the
// bytes are treated as a UUID.
func (d DsUid) IDType() Type {
	epc96 := d[6] == 0 && d[7] == 0 && d[8] == 0 && d[9] == 0
	if epc96 {
		switch d[0] {
		case sgtin96Header:
			return TypeSGTIN
		case gid96Header:
			return TypeGID
		default:
			return TypeOther
		}
	}
	return TypeUUID
}

// SubdeviceIndex returns byte 16, the sub-device enumeration index.
func (d DsUid) SubdeviceIndex() byte {
	return d[baseSize]
}

// BaseBytes returns the first 16 bytes (the base identity).
func (d DsUid) BaseBytes() [baseSize]byte {
	var b [baseSize]byte
	copy(b[:], d[:baseSize])
	return b
}

// UUID interprets the base 16 bytes as a UUID. Only meaningful when
// IDType() is TypeUUID or TypeOther.
func (d DsUid) UUID() uuid.UUID {
	var u uuid.UUID
	copy(u[:], d[:baseSize])
	return u
}

// DeriveSubdevice returns a new dSUID sharing the base identity but
// with a different sub-device index. This is the mechanism for
// representing multiple vdSDs within one physical device.
func (d DsUid) DeriveSubdevice(index byte) DsUid {
	out := d
	out[baseSize] = index
	return out
}

// DeviceBase returns the canonical device-level dSUID (sub-device
// index 0), useful as a grouping key for all vdSDs of one device.
func (d DsUid) DeviceBase() DsUid {
	return d.DeriveSubdevice(0)
}

// SameDevice reports whether two dSUIDs share the same base identity
// (bytes 0-15), i.e. belong to the same physical device.
func (d DsUid) SameDevice(other DsUid) bool {
	return d.BaseBytes() == other.BaseBytes()
}

// FromUUID builds a dSUID from an existing UUID (generation method 3).
func FromUUID(u uuid.UUID, subdeviceIndex byte) DsUid {
	var d DsUid
	copy(d[:baseSize], u[:])
	d[baseSize] = subdeviceIndex
	return d
}

// FromNameInSpace builds a UUIDv5-based dSUID from a name within a
// namespace (generation method 4, also used internally by GTIN+serial
// and random-fallback derivation). This mirrors RFC 4122 §4.3 exactly
// via google/uuid's NewSHA1.
func FromNameInSpace(namespace uuid.UUID, name string, subdeviceIndex byte) DsUid {
	u := uuid.NewSHA1(namespace, []byte(name))
	return FromUUID(u, subdeviceIndex)
}

// FromGTINSerial builds a UUIDv5-based dSUID from a GTIN and serial
// number (generation method 2): combines them into an SGTIN-128
// string and hashes it in the GS1-128 namespace.
func FromGTINSerial(gtin, serial string, subdeviceIndex byte) DsUid {
	sgtin128 := fmt.Sprintf("(01)%s(21)%s", gtin, serial)
	return FromNameInSpace(NamespaceGS1128, sgtin128, subdeviceIndex)
}

// FromEnOceanAddress builds a dSUID for an EnOcean device address
// (32-bit, rendered as 8 uppercase hex characters before hashing).
func FromEnOceanAddress(address uint32, subdeviceIndex byte) DsUid {
	addrStr := fmt.Sprintf("%08X", address)
	return FromNameInSpace(NamespaceEnOcean, addrStr, subdeviceIndex)
}

// FromVDCMac builds a vDC dSUID from the hardware's MAC address using
// UUIDv5 hashing in the well-known VDC namespace.
func FromVDCMac(mac string, subdeviceIndex byte) (DsUid, error) {
	normalised, err := normaliseMAC(mac)
	if err != nil {
		return Zero, err
	}
	return FromNameInSpace(NamespaceVDC, normalised, subdeviceIndex), nil
}

// Random builds a random UUIDv4-based dSUID (generation method 5, the
// last resort). The caller must persist the result so it stays stable
// across restarts.
func Random(subdeviceIndex byte) DsUid {
	return FromUUID(uuid.New(), subdeviceIndex)
}

// FromSGTIN96 builds a dSUID directly from SGTIN-96 components
// (generation method 1). The 96-bit EPC is mapped into the 17-byte
// dSUID layout with bytes 6-9 set to zero (the EPC96 marker).
func FromSGTIN96(gcp, itemRef uint64, partition uint8, serial uint64, subdeviceIndex byte) (DsUid, error) {
	if partition > 6 {
		return Zero, fmt.Errorf("dsuid: partition must be 0-6, got %d", partition)
	}
	if serial >= 1<<38 {
		return Zero, fmt.Errorf("dsuid: serial must fit in 38 bits, got %d", serial)
	}

	var d DsUid
	d[0] = sgtin96Header

	gcpBits := gcpBitLength[partition]
	binaryGTIN := (gcp << (44 - gcpBits)) | itemRef

	// Byte 1: filter (3 bits, fixed=1) | partition (3 bits) | top 2 bits of binaryGTIN.
	d[1] = (0x01 << 5) | ((partition & 0x07) << 2) | byte((binaryGTIN>>42)&0x03)
	// Bytes 2-5: next 32 bits of binaryGTIN.
	d[2] = byte((binaryGTIN >> 34) & 0xFF)
	d[3] = byte((binaryGTIN >> 26) & 0xFF)
	d[4] = byte((binaryGTIN >> 18) & 0xFF)
	d[5] = byte((binaryGTIN >> 10) & 0xFF)
	// Bytes 6-9: left zero (EPC96 marker).
	// Bytes 10-11: bottom 10 bits of binaryGTIN + top 6 bits of serial.
	d[10] = byte((binaryGTIN >> 2) & 0xFF)
	d[11] = byte(((binaryGTIN & 0x03) << 6) | ((serial >> 32) & 0x3F))
	// Bytes 12-15: lower 32 bits of serial.
	d[12] = byte((serial >> 24) & 0xFF)
	d[13] = byte((serial >> 16) & 0xFF)
	d[14] = byte((serial >> 8) & 0xFF)
	d[15] = byte(serial & 0xFF)
	d[16] = subdeviceIndex

	return d, nil
}

// FromGID96 builds a dSUID from a legacy GID-96 identifier: an 8-bit
// header, 28-bit manager number, 24-bit object class and 36-bit
// serial, mapped into the 17-byte dSUID layout with bytes 6-9 zero.
func FromGID96(manager uint32, objectClass uint32, serial uint64, subdeviceIndex byte) DsUid {
	var d DsUid
	d[0] = gid96Header

	epc := make([]byte, 12)
	epc[0] = gid96Header
	epc[1] = byte((manager >> 20) & 0xFF)
	epc[2] = byte((manager >> 12) & 0xFF)
	epc[3] = byte((manager >> 4) & 0xFF)
	epc[4] = byte(((manager & 0x0F) << 4) | ((objectClass >> 20) & 0x0F))
	epc[5] = byte((objectClass >> 12) & 0xFF)
	epc[6] = byte((objectClass >> 4) & 0xFF)
	epc[7] = byte(((objectClass & 0x0F) << 4) | ((serial >> 32) & 0x0F))
	epc[8] = byte((serial >> 24) & 0xFF)
	epc[9] = byte((serial >> 16) & 0xFF)
	epc[10] = byte((serial >> 8) & 0xFF)
	epc[11] = byte(serial & 0xFF)

	copy(d[0:6], epc[0:6])
	copy(d[10:16], epc[6:12])
	d[16] = subdeviceIndex

	return d
}

// FromMACGID96 builds a legacy GID-96 dSUID from an Ethernet MAC
// address, using the digitalSTROM manager number 0x04175FE with the
// MAC folded into the object class and serial fields.
func FromMACGID96(mac string, subdeviceIndex byte) (DsUid, error) {
	macBytes, err := parseMAC(mac)
	if err != nil {
		return Zero, err
	}
	objectClass := uint32(0xFF0000) | uint32(macBytes[0])<<8 | uint32(macBytes[1])
	serial := uint64(macBytes[2])<<24 | uint64(macBytes[3])<<16 | uint64(macBytes[4])<<8 | uint64(macBytes[5])
	return FromGID96(0x04175FE, objectClass, serial, subdeviceIndex), nil
}

func parseMAC(mac string) ([6]byte, error) {
	var out [6]byte
	cleaned := strings.NewReplacer(":", "", "-", "").Replace(mac)
	if len(cleaned) != 12 {
		return out, fmt.Errorf("dsuid: invalid MAC address %q", mac)
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, fmt.Errorf("dsuid: invalid MAC address %q: %w", mac, err)
	}
	copy(out[:], raw)
	return out, nil
}

func normaliseMAC(mac string) (string, error) {
	b, err := parseMAC(mac)
	if err != nil {
		return "", err
	}
	parts := make([]string, 6)
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, ":"), nil
}
