package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/mobycom/ingest"
	"github.com/temoto/mobycom/log2"
)

const (
	DefaultMQTTTopicPrefix = "mobycom"
	DefaultMQTTTimeout     = 5 * time.Second
)

type MQTTOptions struct {
	Broker      string // tcp://host:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
	KeepAlive   time.Duration
	// StorePath enables paho file store for in-flight QoS>0 messages.
	StorePath string
}

// Publisher is subset of mqtt.Client used by MQTT sink.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes JSON Record to <prefix>/<device id>/event.
type MQTT struct {
	log     *log2.Log
	pub     Publisher
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewMQTT connects to broker in background, publish fails until connected.
func NewMQTT(opt MQTTOptions, log *log2.Log) (*MQTT, error) {
	if opt.Broker == "" {
		return nil, errors.Errorf("mqtt broker is empty")
	}
	mqtt.ERROR = log
	mqtt.CRITICAL = log
	mqtt.WARN = log

	if opt.ClientID == "" {
		opt.ClientID = fmt.Sprintf("mobycom-%d", time.Now().UnixNano()%100000)
	}
	if opt.KeepAlive <= 0 {
		opt.KeepAlive = 60 * time.Second
	}
	mopt := mqtt.NewClientOptions().
		AddBroker(opt.Broker).
		SetClientID(opt.ClientID).
		SetUsername(opt.Username).
		SetPassword(opt.Password).
		SetCleanSession(false).
		SetKeepAlive(opt.KeepAlive).
		SetOrderMatters(false).
		SetConnectRetry(true).
		SetConnectRetryInterval(opt.KeepAlive / 2).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(mqtt.Client) { log.Infof("mqtt connect broker=%s", opt.Broker) }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) { log.Infof("mqtt disconnect err=%v", err) })
	if opt.StorePath != "" {
		mopt.SetStore(mqtt.NewFileStore(opt.StorePath))
	}
	client := mqtt.NewClient(mopt)
	if token := client.Connect(); token.Error() != nil {
		return nil, errors.Annotate(token.Error(), "mqtt connect")
	}
	s := NewMQTTPublisher(client, opt, log)
	s.client = client
	return s, nil
}

// NewMQTTPublisher wraps existing connected client.
func NewMQTTPublisher(pub Publisher, opt MQTTOptions, log *log2.Log) *MQTT {
	s := &MQTT{
		log:     log,
		pub:     pub,
		prefix:  opt.TopicPrefix,
		qos:     opt.QoS,
		timeout: opt.Timeout,
	}
	if s.prefix == "" {
		s.prefix = DefaultMQTTTopicPrefix
	}
	if s.timeout <= 0 {
		s.timeout = DefaultMQTTTimeout
	}
	return s
}

func (s *MQTT) Topic(deviceID string) string {
	return fmt.Sprintf("%s/%s/event", s.prefix, deviceID)
}

func (s *MQTT) Submit(ctx context.Context, e ingest.Event) error {
	r := NewRecord(e)
	payload, err := json.Marshal(&r)
	if err != nil {
		return errors.Trace(err)
	}
	topic := s.Topic(r.DeviceID)
	token := s.pub.Publish(topic, s.qos, false, payload)

	t := time.NewTimer(s.timeout)
	defer t.Stop()
	select {
	case <-token.Done():
	case <-t.C:
		return errors.Errorf("mqtt publish topic=%s timeout=%v", topic, s.timeout)
	case <-ctx.Done():
		return errors.Annotatef(ctx.Err(), "mqtt publish topic=%s", topic)
	}
	if err = token.Error(); err != nil {
		return errors.Annotatef(err, "mqtt publish topic=%s", topic)
	}
	s.log.Debugf("mqtt publish topic=%s id=%s", topic, r.ID)
	return nil
}

func (s *MQTT) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}
