package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/mobycom/config"
	"github.com/temoto/mobycom/ingest"
	"github.com/temoto/mobycom/log2"
	"github.com/temoto/mobycom/mobycom"
	"github.com/temoto/mobycom/sink"
	"github.com/temoto/spq"
)

func TestDecodeArgs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		input     string
		expect    []string
		expectErr bool
	}{
		{"heartbeat", "21020018123456780001010000000000a161", []string{
			"heartbeat device=12345678",
			"crc_valid=true",
			"ack 21020118 12345678 00010199 05000000 AE49",
		}, false},
		{"event", "210200080a0b0c0d1234022a000000000000000000000114000101232245", []string{
			"event device=0A0B0C0D account=1234 code=1401 partition=01 zone=123",
			"ack 21020108 0A0B0C0D 12340201 99050000 12F3",
		}, false},
		{"garbage-acked", "21020008 0a0b0c0d 12340200", []string{"invalid len=12", "ack 21020118 0A0B0C0D"}, true},
		{"short", "2102", []string{"ack none"}, true},
		{"hex", "zz", nil, true},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			err := decodeArgs(&buf, []string{c.input})
			if c.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			for _, s := range c.expect {
				assert.Contains(t, buf.String(), s)
			}
		})
	}
}

func TestBuildSinkDefault(t *testing.T) {
	t.Parallel()

	cfg, err := config.Read(nil, config.MockFullReader{"main": ""}, "main")
	require.NoError(t, err)
	s, closeSink, err := buildSink(context.Background(), cfg, log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	defer closeSink()
	_, ok := s.(*sink.Log)
	assert.True(t, ok, "log sink without transports, got %T", s)
}

func TestBuildSinkChain(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg, err := config.Read(nil, config.MockFullReader{"main": `sink {
	log = true
	retry { attempts = 2 min_ms = 1 max_ms = 2 }
	redis { url = "redis://` + mr.Addr() + `/0" key = "ev" }
}`}, "main")
	require.NoError(t, err)
	cfg.Sink.Spool.Path = spq.OnlyForTesting

	s, closeSink, err := buildSink(context.Background(), cfg, log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	sp, ok := s.(*sink.Spool)
	require.True(t, ok, "spool on top, got %T", s)

	p, err := mobycom.DecodeHex("210200080a0b0c0d1234022a000000000000000000000114000101232245")
	require.NoError(t, err)
	require.NoError(t, s.Submit(context.Background(), ingest.NewEvent(p, "test", time.Now())))
	require.Eventually(t, func() bool { return sp.Forwarded.Value() == 1 }, 5*time.Second, 5*time.Millisecond)
	closeSink()

	values, err := mr.List("ev")
	require.NoError(t, err)
	assert.Len(t, values, 1)
}

func TestBuildSinkError(t *testing.T) {
	t.Parallel()

	cfg, err := config.Read(nil, config.MockFullReader{"main": `sink { redis { url = "nope://" } }`}, "main")
	require.NoError(t, err)
	_, _, err = buildSink(context.Background(), cfg, nil)
	assert.Error(t, err)
}
