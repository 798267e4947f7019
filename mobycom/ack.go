package mobycom

import (
	"encoding/binary"

	"github.com/temoto/mobycom/crc"
)

const (
	AckLength = 18
	// BuildAck reads up to inbound[11].
	AckMinInbound = 12

	ackFlagHeartbeat byte = 0x18
	ackFlagEvent     byte = 0x08
)

// Ack is acknowledgement frame device waits for before it stops retransmitting.
type Ack [AckLength]byte

func (a *Ack) Bytes() []byte  { return a[:] }
func (a *Ack) Format() string { return FormatHex(a[:]) }

// BuildAck is pure function of inbound raw bytes.
// It does not need decoded packet, so undecodable datagrams are still acked.
func BuildAck(in []byte) (Ack, error) {
	var a Ack
	if len(in) < AckMinInbound {
		return a, ErrPayloadTooShort
	}

	a[0], a[1], a[2] = 0x21, 0x02, 0x01
	if in[offTechnology] == CommandHeartbeat {
		a[3] = ackFlagHeartbeat
	} else {
		a[3] = ackFlagEvent
	}
	copy(a[4:8], in[4:8])   // device id
	copy(a[8:10], in[8:10]) // frame id
	a[10] = in[10]          // channel
	a[11] = 0x01            // direction
	a[12], a[13] = 0x99, 0x05
	a[14], a[15] = 0x00, 0x00
	binary.BigEndian.PutUint16(a[16:], crc.CRC16_ccitt(a[:], 0, 16))
	return a, nil
}
