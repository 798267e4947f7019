package sink

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/juju/errors"
	"github.com/temoto/mobycom/ingest"
	"github.com/temoto/mobycom/log2"
)

const DefaultRedisKey = "mobycom:events"

// Redis appends msgpack Record to list with RPUSH. Consumers BLPOP.
type Redis struct {
	log *log2.Log
	rdb *redis.Client
	key string
}

// NewRedis accepts redis:// URL.
func NewRedis(url, key string, log *log2.Log) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Annotatef(err, "redis url=%s", url)
	}
	return NewRedisClient(redis.NewClient(opt), key, log), nil
}

func NewRedisClient(rdb *redis.Client, key string, log *log2.Log) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{log: log, rdb: rdb, key: key}
}

func (s *Redis) Submit(ctx context.Context, e ingest.Event) error {
	r := NewRecord(e)
	b, err := r.MarshalBinary()
	if err != nil {
		return errors.Trace(err)
	}
	if err = s.rdb.RPush(ctx, s.key, b).Err(); err != nil {
		return errors.Annotatef(err, "redis rpush key=%s id=%s", s.key, r.ID)
	}
	s.log.Debugf("redis rpush key=%s id=%s", s.key, r.ID)
	return nil
}

func (s *Redis) Close() error { return s.rdb.Close() }
