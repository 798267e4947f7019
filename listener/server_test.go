package listener_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/mobycom/helpers"
	"github.com/temoto/mobycom/ingest"
	"github.com/temoto/mobycom/listener"
	"github.com/temoto/mobycom/log2"
	"github.com/temoto/mobycom/mobycom"
)

const (
	heartbeatHex    = "21020018 12345678 00010100 00000000 a161"
	heartbeatAckHex = "21020118 12345678 00010199 05000000 ae49"
	eventHex        = "21020008 0a0b0c0d 1234022a 00000000 00000000 00000114 00010123 2245"
	eventAckHex     = "21020108 0a0b0c0d 12340201 99050000 12f3"
)

type testEnv struct {
	server   *listener.Server
	queue    *ingest.Queue
	presence *ingest.PresenceTracker
	stat     *ingest.Stat
	conn     net.Conn
	now      time.Time

	mu     sync.Mutex
	errors []error
}

func newTestEnv(t testing.TB) *testEnv {
	env := &testEnv{
		queue:    ingest.NewQueue(8),
		presence: ingest.NewPresenceTracker(),
		stat:     new(ingest.Stat),
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	env.server = listener.NewServer(listener.ServerOptions{
		Log:      log2.NewTest(t, log2.LDebug),
		Queue:    env.queue,
		Presence: env.presence,
		Stat:     env.stat,
		Now:      func() time.Time { return env.now },
		OnPacket: func(from net.Addr, p *mobycom.Packet, err error) {
			if err != nil {
				env.mu.Lock()
				env.errors = append(env.errors, err)
				env.mu.Unlock()
			}
		},
	})
	require.NoError(t, env.server.Listen(context.Background(), []listener.ListenOptions{
		{PacketURL: "udp://127.0.0.1:0", NetworkTimeout: time.Second},
	}))
	addrs := env.server.Addrs()
	require.Equal(t, 1, len(addrs))

	conn, err := net.Dial("udp", addrs[0])
	require.NoError(t, err)
	env.conn = conn
	return env
}

func (env *testEnv) Close() {
	env.conn.Close()
	env.server.Close()
}

func (env *testEnv) exchange(t testing.TB, reqHex string) []byte {
	t.Helper()
	_, err := env.conn.Write(helpers.MustHex(reqHex))
	require.NoError(t, err)
	require.NoError(t, env.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 64)
	n, err := env.conn.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestServerHeartbeat(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	defer env.Close()

	ack := env.exchange(t, heartbeatHex)
	assert.Equal(t, helpers.MustHex(heartbeatAckHex), ack)

	p, ok := env.presence.Query("12345678")
	require.True(t, ok)
	assert.True(t, p.Online)
	assert.Equal(t, env.now, p.LastSeen)
	assert.Equal(t, 0, env.queue.Len())
	assert.Equal(t, int64(1), env.stat.Heartbeat.Value())
}

func TestServerEvent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	defer env.Close()

	ack := env.exchange(t, eventHex)
	assert.Equal(t, helpers.MustHex(eventAckHex), ack)

	e, ok := env.queue.TryPop()
	require.True(t, ok)
	assert.Equal(t, "0A0B0C0D", e.Packet.DeviceID)
	assert.Equal(t, "1401", e.Packet.EventCode)
	assert.Equal(t, "123", e.Packet.ZoneOrUser)
	assert.Equal(t, env.now, e.ReceivedAt)
	assert.Equal(t, env.conn.LocalAddr().String(), e.From)
	assert.Equal(t, 0, env.presence.Len(), "events do not touch presence")
}

func TestServerAckUndecodable(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	defer env.Close()

	// 20 bytes: invalid length but enough for ack
	const garbage = "21020008 0a0b0c0d 12340200 00000000 00000000"
	in := helpers.MustHex(garbage)
	expect, err := mobycom.BuildAck(in)
	require.NoError(t, err)

	ack := env.exchange(t, garbage)
	assert.Equal(t, expect.Bytes(), ack)
	assert.Equal(t, 0, env.queue.Len())
	assert.Equal(t, int64(1), env.stat.DecodeError.Value())
	env.mu.Lock()
	require.Len(t, env.errors, 1)
	assert.True(t, mobycom.IsDecodeError(env.errors[0]))
	env.mu.Unlock()
}

func TestServerShortNoAck(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	defer env.Close()

	_, err := env.conn.Write([]byte{0x21, 0x02, 0x00})
	require.NoError(t, err)
	// next reply must belong to heartbeat, short datagram got none
	ack := env.exchange(t, heartbeatHex)
	assert.Equal(t, helpers.MustHex(heartbeatAckHex), ack)
	assert.Equal(t, int64(1), env.stat.AckError.Value())
	assert.Equal(t, int64(2), env.stat.Recv.Count.Value())
	require.Eventually(t, func() bool { return env.stat.AckSent.Value() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServerOverflow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	defer env.Close()

	for i := 0; i < env.queue.Cap()+3; i++ {
		env.exchange(t, eventHex)
	}
	assert.Equal(t, env.queue.Cap(), env.queue.Len())
	assert.Equal(t, int64(3), env.stat.Overflow.Value())
	assert.Equal(t, uint64(3), env.queue.Discarded())
}

func TestServerCRCMismatchCounted(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	defer env.Close()

	// valid structure, wrong trailer: accepted and acked anyway
	ack := env.exchange(t, "21020018 12345678 00010100 00000000 0000")
	assert.Equal(t, helpers.MustHex(heartbeatAckHex), ack)
	assert.Equal(t, int64(1), env.stat.CRCMismatch.Value())
	_, ok := env.presence.Query("12345678")
	assert.True(t, ok)
}

func TestServerListenError(t *testing.T) {
	t.Parallel()

	s := listener.NewServer(listener.ServerOptions{Queue: ingest.NewQueue(1), Presence: ingest.NewPresenceTracker()})
	defer s.Close()
	err := s.Listen(context.Background(), []listener.ListenOptions{
		{PacketURL: "tcp://127.0.0.1:0"},
		{PacketURL: "udp://127.0.0.1:0"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tcp://127.0.0.1:0")
	assert.Equal(t, 1, len(s.Addrs()))
}

func TestServerContextClose(t *testing.T) {
	t.Parallel()

	s := listener.NewServer(listener.ServerOptions{Queue: ingest.NewQueue(1), Presence: ingest.NewPresenceTracker()})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Listen(ctx, []listener.ListenOptions{{PacketURL: "udp://127.0.0.1:0"}}))
	cancel()
	done := make(chan struct{})
	go func() { s.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Error(t, s.Listen(context.Background(), nil), "Listen after Close")
}
