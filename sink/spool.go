package sink

import (
	"context"
	"expvar"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/mobycom/helpers"
	"github.com/temoto/mobycom/ingest"
	"github.com/temoto/mobycom/log2"
	"github.com/temoto/spq"
)

// Spool is durable store-and-forward sink.
// Submit returns after Record is synced to disk, background worker
// forwards spooled records to Next in order, retrying failed ones later.
type Spool struct {
	alive   *alive.Alive
	backoff helpers.Backoff
	log     *log2.Log
	next    ingest.Sink
	q       *spq.Queue

	Spooled   expvar.Int
	Forwarded expvar.Int
	Failed    expvar.Int
}

type SpoolOptions struct {
	// Path to leveldb directory, spq.OnlyForTesting for memory.
	Path     string
	Next     ingest.Sink
	RetryMin time.Duration
	RetryMax time.Duration
	Log      *log2.Log
}

func NewSpool(opt SpoolOptions) (*Spool, error) {
	if opt.Path == "" {
		return nil, errors.Errorf("spool path is empty")
	}
	if opt.Next == nil {
		panic("code error SpoolOptions.Next is mandatory")
	}
	if opt.RetryMin <= 0 {
		opt.RetryMin = 100 * time.Millisecond
	}
	if opt.RetryMax <= 0 {
		opt.RetryMax = time.Minute
	}
	q, err := spq.Open(opt.Path)
	if err != nil {
		return nil, errors.Annotatef(err, "spool open path=%s", opt.Path)
	}
	return &Spool{
		alive:   alive.NewAlive(),
		backoff: helpers.Backoff{Min: opt.RetryMin, Max: opt.RetryMax, K: 2},
		log:     opt.Log,
		next:    opt.Next,
		q:       q,
	}, nil
}

func (s *Spool) Submit(ctx context.Context, e ingest.Event) error {
	r := NewRecord(e)
	if err := s.q.MarshalPush(&r); err != nil {
		return errors.Annotatef(err, "spool push id=%s", r.ID)
	}
	s.Spooled.Add(1)
	return nil
}

// Start runs forward worker until Close.
func (s *Spool) Start(ctx context.Context) error {
	if !s.alive.Add(1) {
		return errors.Errorf("spool start after close")
	}
	go s.worker(ctx)
	return nil
}

// Close stops worker and closes storage. Undelivered records stay on disk.
func (s *Spool) Close() error {
	s.alive.Stop()
	err := s.q.Close()
	s.alive.Wait()
	return err
}

func (s *Spool) worker(ctx context.Context) {
	defer s.alive.Done()
	stopch := s.alive.StopChan()
	for {
		box, err := s.q.Peek()
		switch err {
		case nil:
			// success path
			if !helpers.SleepStop(s.backoff.DelayBefore(), stopch) {
				return
			}
			del, err := s.forward(ctx, box.Bytes())
			s.backoff.Update(err == nil)
			if err != nil {
				s.Failed.Add(1)
				s.log.Errorf("spool forward err=%v", err)
			}
			if del {
				err = s.q.Delete(box)
			} else {
				err = s.q.DeletePush(box)
			}
			if err != nil && s.alive.IsRunning() {
				s.log.Errorf("spool delete err=%v", err)
			}

		case spq.ErrClosed:
			if s.alive.IsRunning() {
				s.log.Errorf("CRITICAL spool closed unexpectedly")
			}
			return

		default:
			s.log.Errorf("CRITICAL spool err=%v", err)
			s.backoff.Failure()
			if !helpers.SleepStop(s.backoff.DelayBefore(), stopch) {
				return
			}
		}
	}
}

// forward returns true when record must be removed from spool:
// either delivered or permanently broken.
func (s *Spool) forward(ctx context.Context, b []byte) (bool, error) {
	var r Record
	if err := r.UnmarshalBinary(b); err != nil {
		return true, errors.Annotatef(err, "spool drop broken b=%x", b)
	}
	e, err := r.Event()
	if err != nil {
		return true, errors.Annotate(err, "spool drop broken")
	}
	if err = s.next.Submit(ctx, e); err != nil {
		return false, errors.Annotatef(err, "spool requeue id=%s", r.ID)
	}
	s.Forwarded.Add(1)
	return true, nil
}
