package sink

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/mobycom/helpers"
	"github.com/temoto/mobycom/ingest"
	"github.com/temoto/mobycom/log2"
)

const DefaultRetryAttempts = 3

// Retry calls Sink up to Attempts times with exponential backoff between.
// Blocks the dispatcher while waiting, keep Backoff.Max small.
type Retry struct {
	Sink     ingest.Sink
	Attempts int
	Backoff  helpers.Backoff
	Log      *log2.Log
}

func NewRetry(s ingest.Sink, attempts int, min, max time.Duration, log *log2.Log) *Retry {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	return &Retry{
		Sink:     s,
		Attempts: attempts,
		Backoff:  helpers.Backoff{Min: min, Max: max, K: 2},
		Log:      log,
	}
}

func (r *Retry) Submit(ctx context.Context, e ingest.Event) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if !helpers.SleepStop(r.Backoff.DelayBefore(), ctx.Done()) {
			return errors.Annotatef(ctx.Err(), "retry id=%s", e.ID)
		}
		err = r.Sink.Submit(ctx, e)
		r.Backoff.Update(err == nil)
		if err == nil {
			return nil
		}
		r.Log.Debugf("sink retry attempt=%d/%d id=%s err=%v", i, attempts, e.ID, err)
	}
	return errors.Annotatef(err, "retry attempts=%d id=%s", attempts, e.ID)
}
