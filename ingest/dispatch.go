package ingest

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/mobycom/log2"
)

const DefaultIdle = 10 * time.Millisecond

type DispatcherOptions struct {
	Queue *Queue
	Sink  Sink
	Log   *log2.Log
	Stat  *Stat
	// Idle is max pause on empty queue, default 10ms.
	Idle time.Duration
}

// Dispatcher drains Queue into Sink in single background goroutine.
// Sink errors are logged and the event is dropped, no retry here.
// Wrap Sink with sink.Retry or sink.Spool for stronger delivery.
type Dispatcher struct {
	alive *alive.Alive
	q     *Queue
	sink  Sink
	log   *log2.Log
	stat  *Stat
	idle  time.Duration
}

func NewDispatcher(opt DispatcherOptions) *Dispatcher {
	if opt.Queue == nil || opt.Sink == nil {
		panic("code error DispatcherOptions.Queue and Sink are mandatory")
	}
	d := &Dispatcher{
		alive: alive.NewAlive(),
		q:     opt.Queue,
		sink:  opt.Sink,
		log:   opt.Log,
		stat:  opt.Stat,
		idle:  opt.Idle,
	}
	if d.idle <= 0 {
		d.idle = DefaultIdle
	}
	if d.stat == nil {
		d.stat = new(Stat)
	}
	return d
}

// Start runs worker until Stop or ctx done.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.alive.Add(1) {
		return errors.Errorf("dispatcher start after stop")
	}
	go func() {
		select {
		case <-ctx.Done():
			d.alive.Stop()
		case <-d.alive.StopChan():
		}
	}()
	go d.run(ctx)
	return nil
}

// Stop requests worker exit after current Submit returns. Does not wait.
func (d *Dispatcher) Stop() { d.alive.Stop() }

// Wait returns after Stop and worker exit.
func (d *Dispatcher) Wait() { d.alive.Wait() }

func (d *Dispatcher) run(ctx context.Context) {
	defer d.alive.Done()
	stopch := d.alive.StopChan()
	for d.alive.IsRunning() {
		e, ok := d.q.TryPop()
		if !ok {
			d.pause(stopch)
			continue
		}
		d.dispatch(ctx, e)
	}
	if n := d.q.Len(); n != 0 {
		d.log.Infof("dispatcher stopped, undelivered events=%d", n)
	}
}

func (d *Dispatcher) pause(stopch <-chan struct{}) {
	t := time.NewTimer(d.idle)
	defer t.Stop()
	select {
	case <-d.q.Ready():
	case <-t.C:
	case <-stopch:
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, e Event) {
	err := d.sink.Submit(ctx, e)
	if err != nil {
		d.stat.SinkError.Add(1)
		d.log.Errorf("dispatch drop event %s err=%v", e.String(), errors.ErrorStack(err))
		return
	}
	d.stat.Dispatched.Add(1)
	d.log.Debugf("dispatch ok event %s", e.String())
}

// Drain submits whatever is queued now, synchronously.
// Only call when worker is not running, i.e. before Start or after Wait.
func (d *Dispatcher) Drain(ctx context.Context) int {
	n := 0
	for {
		if ctx.Err() != nil {
			return n
		}
		e, ok := d.q.TryPop()
		if !ok {
			return n
		}
		d.dispatch(ctx, e)
		n++
	}
}
