package config

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/mobycom/ingest"
	"github.com/temoto/mobycom/listener"
	"github.com/temoto/mobycom/log2"
)

func TestRead(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		sources   map[string]string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", map[string]string{"main": ""}, func(t testing.TB, c *Config) {
			require.Len(t, c.Listen, 1)
			assert.Equal(t, listener.DefaultPacketURL, c.Listen[0].URL)
			assert.Equal(t, ingest.DefaultQueueCapacity, c.Queue.Capacity)
			assert.Equal(t, ingest.DefaultIdle, c.DispatchIdle())
			assert.Equal(t, time.Duration(0), c.OfflineTimeout())
			assert.Equal(t, time.Minute, c.PersistInterval())
			opts := c.ListenOptions()
			require.Len(t, opts, 1)
			assert.Equal(t, time.Second, opts[0].NetworkTimeout)
		}, ""},

		{"full", map[string]string{"main": `
log_debug = true
listen "udp://127.0.0.1:11000" { timeout_ms = 250 read_limit = 64 }
listen "udp6://[::1]:11000" {}
queue { capacity = 7 }
dispatch { idle_ms = 3 }
presence { offline_sec = 300 }
persist { path = "/var/lib/mobycom/presence" interval_sec = 5 }
status { listen = "127.0.0.1:11080" }
sink {
	log = true
	retry { attempts = 4 min_ms = 10 max_ms = 1000 }
	spool { path = "/var/lib/mobycom/spool" }
	mqtt { broker = "tcp://localhost:1883" topic_prefix = "alarm" qos = 1 }
	kafka { brokers = ["k1:9092", "k2:9092"] topic = "alarm-events" compression = "snappy" }
	redis { url = "redis://localhost:6379/0" key = "alarm" }
}`}, func(t testing.TB, c *Config) {
			assert.True(t, c.LogDebug)
			require.Len(t, c.Listen, 2)
			assert.Equal(t, "udp://127.0.0.1:11000", c.Listen[0].URL)
			assert.Equal(t, 64, c.Listen[0].ReadLimit)
			opts := c.ListenOptions()
			assert.Equal(t, 250*time.Millisecond, opts[0].NetworkTimeout)
			assert.Equal(t, "udp6://[::1]:11000", opts[1].PacketURL)
			assert.Equal(t, 7, c.Queue.Capacity)
			assert.Equal(t, 3*time.Millisecond, c.DispatchIdle())
			assert.Equal(t, 5*time.Minute, c.OfflineTimeout())
			assert.Equal(t, "/var/lib/mobycom/presence", c.Persist.Path)
			assert.Equal(t, 5*time.Second, c.PersistInterval())
			assert.Equal(t, "127.0.0.1:11080", c.Status.Listen)
			assert.True(t, c.Sink.Log)
			assert.Equal(t, 4, c.Sink.Retry.Attempts)
			assert.Equal(t, "/var/lib/mobycom/spool", c.Sink.Spool.Path)
			assert.Equal(t, "tcp://localhost:1883", c.Sink.MQTT.Broker)
			assert.Equal(t, 1, c.Sink.MQTT.QoS)
			assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Sink.Kafka.Brokers)
			assert.Equal(t, "snappy", c.Sink.Kafka.Compression)
			assert.Equal(t, "alarm", c.Sink.Redis.Key)
		}, ""},

		{"include", map[string]string{
			"main":  `include "local" {} queue { capacity = 1 }`,
			"local": `queue { capacity = 2 } status { listen = ":8080" }`,
		}, func(t testing.TB, c *Config) {
			assert.Equal(t, 2, c.Queue.Capacity, "include overrides")
			assert.Equal(t, ":8080", c.Status.Listen)
		}, ""},

		{"include-optional", map[string]string{
			"main": `include "missing" { optional = true }`,
		}, nil, ""},

		{"include-required", map[string]string{
			"main": `include "missing" {}`,
		}, nil, "config required name=missing"},

		{"include-loop", map[string]string{
			"main": `include "a" {}`,
			"a":    `include "main" {}`,
		}, nil, "config include loop"},

		{"syntax", map[string]string{"main": `queue {`}, nil, "config unmarshal source=main"},

		{"qos", map[string]string{"main": `sink { mqtt { qos = 3 } }`}, nil, "qos=3"},

		{"kafka-brokers", map[string]string{"main": `sink { kafka { topic = "x" } }`}, nil, "kafka.brokers"},
	}
	rand.Shuffle(len(cases), func(i, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			cfg, err := Read(log, MockFullReader(c.sources), "main")
			if c.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
				return
			}
			require.NoError(t, err)
			if c.check != nil {
				c.check(t, cfg)
			}
		})
	}
}

func TestReadNoNames(t *testing.T) {
	t.Parallel()
	_, err := Read(nil, MockFullReader{})
	assert.Error(t, err)
}

func TestReadOs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.hcl"), []byte(`include "extra.hcl" {}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.hcl"), []byte(`queue { capacity = 9 }`), 0644))

	c, err := Read(log2.NewTest(t, log2.LDebug), NewOsFullReader("."), filepath.Join(dir, "main.hcl"))
	require.NoError(t, err)
	assert.Equal(t, 9, c.Queue.Capacity)

	_, err = Read(nil, NewOsFullReader("."), filepath.Join(dir, "absent.hcl"))
	assert.Error(t, err)
}
