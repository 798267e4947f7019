package sink

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/segmentio/kafka-go"
	"github.com/temoto/mobycom/ingest"
	"github.com/temoto/mobycom/log2"
)

type KafkaOptions struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	RequiredAcks string // none, one, all
	Compression  string // none, gzip, snappy, lz4, zstd
	MaxAttempts  int
}

// MessageWriter is subset of kafka.Writer used by Kafka sink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes JSON Record keyed by device id, so events of one device
// land in one partition and keep order.
type Kafka struct {
	log *log2.Log
	w   MessageWriter
}

func NewKafka(opt KafkaOptions, log *log2.Log) (*Kafka, error) {
	if len(opt.Brokers) == 0 || opt.Topic == "" {
		return nil, errors.Errorf("kafka brokers and topic are mandatory")
	}
	if opt.BatchTimeout <= 0 {
		opt.BatchTimeout = 10 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(opt.Brokers...),
		Topic:    opt.Topic,
		Balancer: &kafka.Hash{},

		BatchTimeout: opt.BatchTimeout,
		RequiredAcks: parseAcks(opt.RequiredAcks),
		MaxAttempts:  opt.MaxAttempts,
		Compression:  parseCompression(opt.Compression),
		ErrorLogger:  kafka.LoggerFunc(log.Errorf),
	}
	return NewKafkaWriter(w, log), nil
}

func NewKafkaWriter(w MessageWriter, log *log2.Log) *Kafka {
	return &Kafka{log: log, w: w}
}

func (s *Kafka) Submit(ctx context.Context, e ingest.Event) error {
	r := NewRecord(e)
	value, err := json.Marshal(&r)
	if err != nil {
		return errors.Trace(err)
	}
	msg := kafka.Message{
		Key:   []byte(r.DeviceID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "id", Value: []byte(r.ID)},
			{Key: "receivedAt", Value: []byte(strconv.FormatInt(r.ReceivedAtMs, 10))},
		},
	}
	if err = s.w.WriteMessages(ctx, msg); err != nil {
		return errors.Annotatef(err, "kafka write id=%s", r.ID)
	}
	s.log.Debugf("kafka write device=%s id=%s", r.DeviceID, r.ID)
	return nil
}

func (s *Kafka) Close() error { return s.w.Close() }

func parseAcks(s string) kafka.RequiredAcks {
	switch strings.ToLower(s) {
	case "none", "0":
		return kafka.RequireNone
	case "all", "-1":
		return kafka.RequireAll
	default:
		return kafka.RequireOne
	}
}

func parseCompression(s string) kafka.Compression {
	switch strings.ToLower(s) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}
