package sink

import (
	"context"
	"encoding/json"

	"github.com/temoto/mobycom/helpers"
	"github.com/temoto/mobycom/ingest"
	"github.com/temoto/mobycom/log2"
)

// Log writes each event as JSON line at info level. Never fails.
type Log struct {
	log *log2.Log
}

func NewLog(log *log2.Log) *Log { return &Log{log: log} }

func (s *Log) Submit(ctx context.Context, e ingest.Event) error {
	r := NewRecord(e)
	b, err := json.Marshal(&r)
	if err != nil {
		s.log.Errorf("sink log marshal err=%v", err)
		return nil
	}
	s.log.Infof("event %s", b)
	return nil
}

// Multi submits to every sink in order, error from any fails whole submit.
// Sinks after a failed one still get the event.
type Multi []ingest.Sink

func (m Multi) Submit(ctx context.Context, e ingest.Event) error {
	errs := make([]error, 0, len(m))
	for _, s := range m {
		if err := s.Submit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return helpers.FoldErrors(errs)
}
