package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/mobycom/log2"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	token    mqtt.Token
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	return p.token
}

func TestMQTT(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{token: newFakeToken(nil, true)}
	s := NewMQTTPublisher(pub, MQTTOptions{TopicPrefix: "alarm", QoS: 1}, log2.NewTest(t, log2.LDebug))
	e := testEvent(t)
	require.NoError(t, s.Submit(context.Background(), e))

	require.Equal(t, []string{"alarm/0A0B0C0D/event"}, pub.topics)
	var r Record
	require.NoError(t, json.Unmarshal(pub.payloads[0], &r))
	assert.Equal(t, e.ID.String(), r.ID)
	assert.Equal(t, "1401", r.EventCode)
	assert.Equal(t, "mobycom/X/event", NewMQTTPublisher(pub, MQTTOptions{}, nil).Topic("X"))
}

func TestMQTTError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		token mqtt.Token
	}{
		{"broker", newFakeToken(fmt.Errorf("not connected"), true)},
		{"timeout", newFakeToken(nil, false)},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			pub := &fakePublisher{token: c.token}
			s := NewMQTTPublisher(pub, MQTTOptions{Timeout: 20 * time.Millisecond}, nil)
			assert.Error(t, s.Submit(context.Background(), testEvent(t)))
		})
	}
}

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}
func (w *fakeKafkaWriter) Close() error { w.closed = true; return nil }

func TestKafka(t *testing.T) {
	t.Parallel()

	w := &fakeKafkaWriter{}
	s := NewKafkaWriter(w, log2.NewTest(t, log2.LDebug))
	e := testEvent(t)
	require.NoError(t, s.Submit(context.Background(), e))
	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, "0A0B0C0D", string(m.Key))
	require.Len(t, m.Headers, 2)
	assert.Equal(t, "id", m.Headers[0].Key)
	assert.Equal(t, e.ID.String(), string(m.Headers[0].Value))
	assert.Equal(t, "receivedAt", m.Headers[1].Key)
	assert.Equal(t, "1714564800123", string(m.Headers[1].Value))
	var r Record
	require.NoError(t, json.Unmarshal(m.Value, &r))
	assert.Equal(t, "123", r.ZoneOrUser)

	w.err = fmt.Errorf("leader not available")
	assert.Error(t, s.Submit(context.Background(), e))
	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestKafkaOptions(t *testing.T) {
	t.Parallel()

	_, err := NewKafka(KafkaOptions{Topic: "x"}, nil)
	assert.Error(t, err)
	assert.Equal(t, kafka.RequireAll, parseAcks("all"))
	assert.Equal(t, kafka.RequireNone, parseAcks("none"))
	assert.Equal(t, kafka.RequireOne, parseAcks(""))
	assert.Equal(t, kafka.Snappy, parseCompression("Snappy"))
}

func TestRedis(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := NewRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "", log2.NewTest(t, log2.LDebug))
	defer s.Close()
	e := testEvent(t)
	require.NoError(t, s.Submit(context.Background(), e))
	require.NoError(t, s.Submit(context.Background(), e))

	values, err := mr.List(DefaultRedisKey)
	require.NoError(t, err)
	require.Len(t, values, 2)
	var r Record
	require.NoError(t, r.UnmarshalBinary([]byte(values[0])))
	assert.Equal(t, e.ID.String(), r.ID)
	assert.Equal(t, "0A0B0C0D", r.DeviceID)

	mr.Close()
	assert.Error(t, s.Submit(context.Background(), e))
}

func TestRedisURL(t *testing.T) {
	t.Parallel()

	_, err := NewRedis("http://nope", "k", nil)
	assert.Error(t, err)
	s, err := NewRedis("redis://127.0.0.1:6379/2", "k", nil)
	require.NoError(t, err)
	assert.Equal(t, "k", s.key)
	_ = s.Close()
}
