// Package sink implements ingest.Sink destinations.
//
// Every sink serializes ingest.Event as Record: JSON for MQTT and logs,
// msgpack for Redis and the durable spool.
package sink

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/mobycom/ingest"
	"github.com/temoto/mobycom/mobycom"
	"github.com/vmihailenco/msgpack/v5"
)

// Record is wire form of event for downstream consumers.
type Record struct {
	ID           string `json:"id" msgpack:"id"`
	DeviceID     string `json:"device_id" msgpack:"device_id"`
	Account      string `json:"account" msgpack:"account"`
	EventCode    string `json:"event_code" msgpack:"event_code"`
	Partition    string `json:"partition" msgpack:"partition"`
	ZoneOrUser   string `json:"zone" msgpack:"zone"`
	Channel      string `json:"channel" msgpack:"channel"`
	Technology   uint8  `json:"technology" msgpack:"technology"`
	CRC          uint16 `json:"crc" msgpack:"crc"`
	Raw          string `json:"raw" msgpack:"raw"`
	From         string `json:"from,omitempty" msgpack:"from,omitempty"`
	ReceivedAtMs int64  `json:"received_at_ms" msgpack:"received_at_ms"`
}

func NewRecord(e ingest.Event) Record {
	p := e.Packet
	return Record{
		ID:           e.ID.String(),
		DeviceID:     p.DeviceID,
		Account:      p.Account,
		EventCode:    p.EventCode,
		Partition:    p.Partition,
		ZoneOrUser:   p.ZoneOrUser,
		Channel:      p.ChannelName(),
		Technology:   p.Technology,
		CRC:          p.CRC16,
		Raw:          hex.EncodeToString(p.Raw),
		From:         e.From,
		ReceivedAtMs: e.ReceivedAt.UnixNano() / int64(time.Millisecond),
	}
}

// Event rebuilds ingest.Event by decoding Raw again.
func (r *Record) Event() (ingest.Event, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return ingest.Event{}, errors.Annotatef(err, "record id=%q", r.ID)
	}
	p, err := mobycom.DecodeHex(r.Raw)
	if err != nil {
		return ingest.Event{}, errors.Annotatef(err, "record id=%s raw", r.ID)
	}
	return ingest.Event{
		ID:         id,
		Packet:     p,
		ReceivedAt: time.Unix(0, r.ReceivedAtMs*int64(time.Millisecond)),
		From:       r.From,
	}, nil
}

// plainRecord has no methods, msgpack would otherwise recurse into MarshalBinary.
type plainRecord Record

func (r *Record) MarshalBinary() ([]byte, error) { return msgpack.Marshal((*plainRecord)(r)) }
func (r *Record) UnmarshalBinary(b []byte) error {
	return errors.Annotate(msgpack.Unmarshal(b, (*plainRecord)(r)), "record msgpack")
}
