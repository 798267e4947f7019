package main

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/mobycom/config"
	"github.com/temoto/mobycom/helpers"
	"github.com/temoto/mobycom/ingest"
	"github.com/temoto/mobycom/log2"
	"github.com/temoto/mobycom/sink"
)

// buildSink composes transports, then retry, then spool on top.
// Without any transport configured events go to log.
func buildSink(ctx context.Context, cfg *config.Config, log *log2.Log) (ingest.Sink, func(), error) {
	sc := &cfg.Sink
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (ingest.Sink, func(), error) {
		closeAll()
		return nil, func() {}, err
	}

	var transports sink.Multi
	if sc.Log {
		transports = append(transports, sink.NewLog(log))
	}
	if sc.MQTT.Broker != "" {
		m, err := sink.NewMQTT(sink.MQTTOptions{
			Broker:      sc.MQTT.Broker,
			ClientID:    sc.MQTT.ClientID,
			Username:    sc.MQTT.Username,
			Password:    sc.MQTT.Password,
			TopicPrefix: sc.MQTT.TopicPrefix,
			QoS:         byte(sc.MQTT.QoS),
			Timeout:     helpers.IntMillisecondDefault(sc.MQTT.TimeoutMs, sink.DefaultMQTTTimeout),
			KeepAlive:   helpers.IntSecondDefault(sc.MQTT.KeepaliveSec, time.Minute),
			StorePath:   sc.MQTT.StorePath,
		}, log)
		if err != nil {
			return fail(errors.Annotate(err, "mqtt"))
		}
		closers = append(closers, m.Close)
		transports = append(transports, m)
	}
	if sc.Kafka.Topic != "" {
		k, err := sink.NewKafka(sink.KafkaOptions{
			Brokers:      sc.Kafka.Brokers,
			Topic:        sc.Kafka.Topic,
			BatchTimeout: helpers.IntMillisecondDefault(sc.Kafka.BatchTimeoutMs, 0),
			RequiredAcks: sc.Kafka.RequiredAcks,
			Compression:  sc.Kafka.Compression,
			MaxAttempts:  sc.Kafka.MaxAttempts,
		}, log)
		if err != nil {
			return fail(errors.Annotate(err, "kafka"))
		}
		closers = append(closers, func() { _ = k.Close() })
		transports = append(transports, k)
	}
	if sc.Redis.URL != "" {
		r, err := sink.NewRedis(sc.Redis.URL, sc.Redis.Key, log)
		if err != nil {
			return fail(errors.Annotate(err, "redis"))
		}
		closers = append(closers, func() { _ = r.Close() })
		transports = append(transports, r)
	}

	var s ingest.Sink
	switch len(transports) {
	case 0:
		s = sink.NewLog(log)
	case 1:
		s = transports[0]
	default:
		s = transports
	}
	if sc.Retry.Attempts > 0 {
		s = sink.NewRetry(s, sc.Retry.Attempts,
			helpers.IntMillisecondDefault(sc.Retry.MinMs, 100*time.Millisecond),
			helpers.IntMillisecondDefault(sc.Retry.MaxMs, 5*time.Second), log)
	}
	if sc.Spool.Path != "" {
		sp, err := sink.NewSpool(sink.SpoolOptions{Path: sc.Spool.Path, Next: s, Log: log})
		if err != nil {
			return fail(errors.Annotate(err, "spool"))
		}
		if err = sp.Start(ctx); err != nil {
			_ = sp.Close()
			return fail(errors.Trace(err))
		}
		closers = append(closers, func() { _ = sp.Close() })
		s = sp
	}
	return s, closeAll, nil
}
