// Package config reads HCL configuration with include support.
//
//	log_debug = true
//	include "local.hcl" { optional = true }
//	listen "udp://:11000" { timeout_ms = 1000 }
//	queue { capacity = 500 }
//	sink { log = true  redis { url = "redis://localhost:6379/0" } }
package config

import (
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/mobycom/helpers"
	"github.com/temoto/mobycom/ingest"
	"github.com/temoto/mobycom/listener"
	"github.com/temoto/mobycom/log2"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []Source `hcl:"include"`

	LogDebug bool     `hcl:"log_debug"`
	Listen   []Listen `hcl:"listen"`

	Queue struct {
		Capacity int `hcl:"capacity"`
	} `hcl:"queue"`

	Dispatch struct {
		IdleMs int `hcl:"idle_ms"`
	} `hcl:"dispatch"`

	Presence struct {
		// zero disables offline sweep
		OfflineSec int `hcl:"offline_sec"`
	} `hcl:"presence"`

	Persist struct {
		Path        string `hcl:"path"`
		IntervalSec int    `hcl:"interval_sec"`
	} `hcl:"persist"`

	Status struct {
		Listen string `hcl:"listen"`
	} `hcl:"status"`

	Sink Sink `hcl:"sink"`
}

type Source struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

type Listen struct {
	URL       string `hcl:"url,key"`
	TimeoutMs int    `hcl:"timeout_ms"`
	ReadLimit int    `hcl:"read_limit"`
}

type Sink struct {
	Log   bool `hcl:"log"`
	Retry struct {
		Attempts int `hcl:"attempts"`
		MinMs    int `hcl:"min_ms"`
		MaxMs    int `hcl:"max_ms"`
	} `hcl:"retry"`
	Spool struct {
		Path string `hcl:"path"`
	} `hcl:"spool"`
	MQTT struct {
		Broker       string `hcl:"broker"`
		ClientID     string `hcl:"client_id"`
		Username     string `hcl:"username"`
		Password     string `hcl:"password"`
		TopicPrefix  string `hcl:"topic_prefix"`
		QoS          int    `hcl:"qos"`
		TimeoutMs    int    `hcl:"timeout_ms"`
		KeepaliveSec int    `hcl:"keepalive_sec"`
		StorePath    string `hcl:"store_path"`
	} `hcl:"mqtt"`
	Kafka struct {
		Brokers        []string `hcl:"brokers"`
		Topic          string   `hcl:"topic"`
		RequiredAcks   string   `hcl:"required_acks"`
		Compression    string   `hcl:"compression"`
		BatchTimeoutMs int      `hcl:"batch_timeout_ms"`
		MaxAttempts    int      `hcl:"max_attempts"`
	} `hcl:"kafka"`
	Redis struct {
		URL string `hcl:"url"`
		Key string `hcl:"key"`
	} `hcl:"redis"`
}

func (c *Config) ListenOptions() []listener.ListenOptions {
	opts := make([]listener.ListenOptions, 0, len(c.Listen))
	for _, l := range c.Listen {
		opts = append(opts, listener.ListenOptions{
			PacketURL:      l.URL,
			NetworkTimeout: helpers.IntMillisecondDefault(l.TimeoutMs, time.Second),
			ReadLimit:      l.ReadLimit,
		})
	}
	return opts
}

func (c *Config) DispatchIdle() time.Duration {
	return helpers.IntMillisecondDefault(c.Dispatch.IdleMs, ingest.DefaultIdle)
}

// OfflineTimeout is zero when sweep disabled.
func (c *Config) OfflineTimeout() time.Duration {
	return helpers.IntSecondDefault(c.Presence.OfflineSec, 0)
}

func (c *Config) PersistInterval() time.Duration {
	return helpers.IntSecondDefault(c.Persist.IntervalSec, time.Minute)
}

func (c *Config) setDefaults() {
	if len(c.Listen) == 0 {
		c.Listen = []Listen{{URL: listener.DefaultPacketURL}}
	}
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = ingest.DefaultQueueCapacity
	}
}

func (c *Config) validate() error {
	errs := make([]error, 0)
	for _, l := range c.Listen {
		if l.URL == "" {
			errs = append(errs, errors.Errorf("config listen url is empty"))
		}
	}
	if q := c.Sink.MQTT.QoS; q < 0 || q > 2 {
		errs = append(errs, errors.Errorf("config sink.mqtt.qos=%d must be 0..2", q))
	}
	if c.Sink.Kafka.Topic != "" && len(c.Sink.Kafka.Brokers) == 0 {
		errs = append(errs, errors.Errorf("config sink.kafka.brokers is empty"))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source Source, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if err = hcl.Unmarshal(bs, c); err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []Source
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		if _, ok := c.includeSeen[fs.Normalize(include.Name)]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// Read parses names in order, later values override earlier.
// With OsFullReader, includes resolve relative to the first file.
func Read(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error config.Read without names")
	}
	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		if dir != "" {
			osfs.SetBase(dir)
			names = append([]string{name}, names[1:]...)
		}
	}
	c := &Config{includeSeen: make(map[string]struct{})}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, Source{Name: name}, &errs)
	}
	if len(errs) == 0 {
		c.setDefaults()
		errs = append(errs, c.validate())
	}
	return c, helpers.FoldErrors(errs)
}

func MustRead(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := Read(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
