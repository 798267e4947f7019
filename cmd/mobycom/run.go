package main

import (
	"context"
	"expvar"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/mobycom/config"
	"github.com/temoto/mobycom/helpers"
	"github.com/temoto/mobycom/ingest"
	"github.com/temoto/mobycom/listener"
	"github.com/temoto/mobycom/log2"
	"github.com/temoto/mobycom/persist"
	"github.com/temoto/mobycom/status"
)

const drainTimeout = 5 * time.Second

func run(ctx context.Context, configPath string, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Read(log, config.NewOsFullReader("."), configPath)
	if err != nil {
		return errors.Annotate(err, "config")
	}
	if cfg.LogDebug || debug {
		log.SetLevel(log2.LDebug)
	}

	stat := new(ingest.Stat)
	expvar.Publish("mobycom", stat.Var())
	queue := ingest.NewQueue(cfg.Queue.Capacity)
	queue.OnDiscard = func(e ingest.Event) { log.Debugf("overflow discard %s", e.String()) }
	presence := ingest.NewPresenceTracker()

	pstore := persist.New("presence", presence, cfg.Persist.Path, log)
	if err = pstore.Load(); err != nil {
		log.Error(err)
	}

	sink, closeSink, err := buildSink(ctx, cfg, log)
	if err != nil {
		return errors.Annotate(err, "sink")
	}
	defer closeSink()

	dispatcher := ingest.NewDispatcher(ingest.DispatcherOptions{
		Queue: queue,
		Sink:  sink,
		Log:   log,
		Stat:  stat,
		Idle:  cfg.DispatchIdle(),
	})
	if err = dispatcher.Start(ctx); err != nil {
		return errors.Trace(err)
	}

	server := listener.NewServer(listener.ServerOptions{
		Log:      log,
		Queue:    queue,
		Presence: presence,
		Stat:     stat,
	})
	if err = server.Listen(ctx, cfg.ListenOptions()); err != nil {
		server.Close()
		dispatcher.Stop()
		dispatcher.Wait()
		return errors.Annotate(err, "listen")
	}

	bg := alive.NewAlive()
	if cfg.Status.Listen != "" {
		st := status.New(status.Options{Log: log, Presence: presence, Queue: queue, Stat: stat})
		bgGo(bg, func(stopch <-chan struct{}) {
			sctx, cancel := context.WithCancel(context.Background())
			go func() { <-stopch; cancel() }()
			if err := st.ListenAndServe(sctx, cfg.Status.Listen); err != nil {
				log.Error(err)
			}
		})
	}
	if timeout := cfg.OfflineTimeout(); timeout > 0 {
		bgGo(bg, func(stopch <-chan struct{}) { sweepOffline(presence, timeout, stopch) })
	}
	if pstore.Enabled() {
		bgGo(bg, func(stopch <-chan struct{}) { pstore.Loop(cfg.PersistInterval(), stopch) })
	}

	sdnotify(daemon.SdNotifyReady)
	log.Infof("running listen=%v queue=%d", server.Addrs(), queue.Cap())
	<-ctx.Done()

	log.Infof("stopping")
	sdnotify(daemon.SdNotifyStopping)
	server.Close()
	dispatcher.Stop()
	dispatcher.Wait()
	dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	n := dispatcher.Drain(dctx)
	cancel()
	bg.Stop()
	bg.Wait()
	log.Infof("stopped drained=%d undelivered=%d stat=%s", n, queue.Len(), stat.String())
	return nil
}

func bgGo(a *alive.Alive, f func(stopch <-chan struct{})) {
	if !a.Add(1) {
		return
	}
	go func() {
		defer a.Done()
		f(a.StopChan())
	}()
}

func sweepOffline(presence *ingest.PresenceTracker, timeout time.Duration, stopch <-chan struct{}) {
	period := timeout / 2
	if period < time.Second {
		period = time.Second
	}
	for helpers.SleepStop(period, stopch) {
		for _, id := range presence.Expire(time.Now(), timeout) {
			log.Infof("device=%s offline, no heartbeat for %v", id, timeout)
		}
	}
}
