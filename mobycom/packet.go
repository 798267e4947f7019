// Package mobycom decodes MobyCom alarm device datagrams and builds
// acknowledgement frames.
//
// Each UDP datagram is exactly one frame. Frame kind is told by length only:
// 18 bytes is heartbeat, 30 bytes is Contact-ID style event.
// Last two bytes are CRC-16/CCITT-FALSE, big-endian.
//
//   0..3   header
//   4..7   device id
//   8..9   account (event) / frame id (ack correlation)
//   10     channel
//   11     technology / command (0x00 heartbeat)
//   22..23 event code, low byte first on the wire
//   25     partition
//   26..27 zone or user, BCD
package mobycom

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/temoto/mobycom/crc"
)

const (
	HeartbeatLength = 18
	EventLength     = 30
)

// Field offsets.
const (
	offDeviceID   = 4
	offAccount    = 8
	offChannel    = 10
	offTechnology = 11
	offCodeLow    = 22
	offCodeHigh   = 23
	offPartition  = 25
	offZoneHigh   = 26
	offZoneLow    = 27

	lenDeviceID = 4
	lenAccount  = 2
)

const (
	CommandHeartbeat byte = 0x00
	CommandEvent     byte = 0x2a

	ChannelEthernet byte = 0x01
)

type Kind byte

const (
	KindInvalid Kind = iota
	KindHeartbeat
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindHeartbeat:
		return "heartbeat"
	case KindEvent:
		return "event"
	}
	return "invalid"
}

// Packet is decoded datagram. Treat as immutable.
// Event-only fields are empty for heartbeat.
type Packet struct {
	Kind       Kind
	DeviceID   string
	Channel    byte
	Technology byte
	// CRC16 is captured from wire, not verified by Decode.
	CRC16 uint16
	Raw   []byte

	Account    string
	EventCode  string
	Partition  string
	ZoneOrUser string
}

func (p *Packet) IsEvent() bool { return p.Kind == KindEvent }

// CRCValid recomputes checksum over Raw without trailer.
// Observational only.
func (p *Packet) CRCValid() bool {
	n := len(p.Raw) - 2
	if n < 0 {
		return false
	}
	return crc.CRC16_ccitt(p.Raw, 0, n) == p.CRC16
}

func (p *Packet) ChannelName() string {
	if p.Channel == ChannelEthernet {
		return "ethernet"
	}
	return "cellular"
}

// Format returns raw bytes as hex grouped by 4 bytes.
func (p *Packet) Format() string { return FormatHex(p.Raw) }

func (p *Packet) String() string {
	switch p.Kind {
	case KindHeartbeat:
		return fmt.Sprintf("heartbeat device=%s channel=%s tech=%02x crc=%04x",
			p.DeviceID, p.ChannelName(), p.Technology, p.CRC16)
	case KindEvent:
		return fmt.Sprintf("event device=%s account=%s code=%s partition=%s zone=%s channel=%s tech=%02x crc=%04x",
			p.DeviceID, p.Account, p.EventCode, p.Partition, p.ZoneOrUser, p.ChannelName(), p.Technology, p.CRC16)
	}
	return "invalid"
}

func FormatHex(b []byte) string {
	h := strings.ToUpper(hex.EncodeToString(b))
	hlen := len(h)
	if hlen == 0 {
		return ""
	}
	ss := make([]string, 0, (hlen+7)/8)
	for i := 0; i < hlen; i += 8 {
		hi := i + 8
		if hi > hlen {
			hi = hlen
		}
		ss = append(ss, h[i:hi])
	}
	return strings.Join(ss, " ")
}
