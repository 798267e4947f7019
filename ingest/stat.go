package ingest

// Values are read and modified atomically, but not consistently,
// i.e. it is possible to read Recv.Count=1 Recv.Size=0 because Size has not updated yet.

import (
	"expvar"
	"fmt"
)

type Stat struct {
	Recv        CountSizePair
	Heartbeat   expvar.Int
	Event       expvar.Int
	DecodeError expvar.Int
	CRCMismatch expvar.Int
	AckSent     expvar.Int
	AckError    expvar.Int
	Overflow    expvar.Int
	Dispatched  expvar.Int
	SinkError   expvar.Int
}

// Fields returns name->counter pairs in stable order.
func (s *Stat) Fields() []StatField {
	return []StatField{
		{"recv.count", &s.Recv.Count},
		{"recv.size", &s.Recv.Size},
		{"heartbeat", &s.Heartbeat},
		{"event", &s.Event},
		{"decode_error", &s.DecodeError},
		{"crc_mismatch", &s.CRCMismatch},
		{"ack_sent", &s.AckSent},
		{"ack_error", &s.AckError},
		{"overflow", &s.Overflow},
		{"dispatched", &s.Dispatched},
		{"sink_error", &s.SinkError},
	}
}

type StatField struct {
	Name string
	V    *expvar.Int
}

func (s *Stat) String() string {
	buf := make([]byte, 0, 256)
	buf = append(buf, '{')
	for i, f := range s.Fields() {
		if i != 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, fmt.Sprintf("%q:%d", f.Name, f.V.Value())...)
	}
	buf = append(buf, '}')
	return string(buf)
}

// Var adapts Stat for expvar.Publish.
func (s *Stat) Var() expvar.Var { return expvar.Func(func() interface{} { return s.Map() }) }

func (s *Stat) Map() map[string]int64 {
	fs := s.Fields()
	m := make(map[string]int64, len(fs))
	for _, f := range fs {
		m[f.Name] = f.V.Value()
	}
	return m
}

type CountSizePair struct {
	Count expvar.Int
	Size  expvar.Int
}

func (csp *CountSizePair) Add(size int) {
	csp.Count.Add(1)
	csp.Size.Add(int64(size))
}
