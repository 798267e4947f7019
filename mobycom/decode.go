package mobycom

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// Decode validates datagram and extracts fields.
// Returned error is one of ErrEmptyPayload, *InvalidLengthError,
// *InvalidBCDError, *InvalidEventCodeError.
// Raw is copied, caller may reuse b.
// Non-nil empty b is InvalidLength, only nil is ErrEmptyPayload.
func Decode(b []byte) (*Packet, error) {
	if b == nil {
		return nil, ErrEmptyPayload
	}

	var kind Kind
	switch len(b) {
	case HeartbeatLength:
		kind = KindHeartbeat
	case EventLength:
		kind = KindEvent
	default:
		return nil, &InvalidLengthError{Length: len(b)}
	}

	raw := make([]byte, len(b))
	copy(raw, b)
	p := &Packet{
		Kind:       kind,
		CRC16:      binary.BigEndian.Uint16(raw[len(raw)-2:]),
		DeviceID:   hexUpper(raw[offDeviceID : offDeviceID+lenDeviceID]),
		Channel:    raw[offChannel],
		Technology: raw[offTechnology],
		Raw:        raw,
	}
	if kind == KindHeartbeat {
		return p, nil
	}

	account := hexUpper(raw[offAccount : offAccount+lenAccount])
	code := hexUpper([]byte{raw[offCodeHigh], raw[offCodeLow]})
	partition := hexUpper(raw[offPartition : offPartition+1])
	zone, err := decodeZone(raw[offZoneHigh], raw[offZoneLow])
	if err != nil {
		return nil, err
	}
	if !validEventCode(code) {
		return nil, &InvalidEventCodeError{Code: code}
	}

	p.Account = account
	p.EventCode = code
	p.Partition = partition
	p.ZoneOrUser = zone
	return p, nil
}

// DecodeHex accepts hex text, whitespace ignored.
func DecodeHex(s string) (*Packet, error) {
	b, err := ParseHex(s)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

func ParseHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Annotatef(err, "hex=%s", s)
	}
	return b, nil
}

// bcd returns decimal value 0..99 of packed BCD byte.
func bcd(b byte) (int, error) {
	hi, lo := b>>4, b&0x0f
	if hi > 9 || lo > 9 {
		return 0, &InvalidBCDError{Byte: b}
	}
	return int(hi)*10 + int(lo), nil
}

func decodeZone(high, low byte) (string, error) {
	h, err := bcd(high)
	if err != nil {
		return "", err
	}
	l, err := bcd(low)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%03d", h*100+l), nil
}

// Contact-ID qualifier: 1 new event, 3 restore, 6 previously reported.
func validEventCode(code string) bool {
	if len(code) != 4 {
		return false
	}
	if _, err := hex.DecodeString(code); err != nil {
		return false
	}
	switch code[0] {
	case '1', '3', '6':
		return true
	}
	return false
}

func hexUpper(b []byte) string { return strings.ToUpper(hex.EncodeToString(b)) }
