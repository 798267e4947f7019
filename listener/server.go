// Package listener runs the UDP receive loop.
//
// Every datagram of at least 12 bytes is acknowledged, including frames
// that fail to decode, because devices retransmit until acked. Decoded
// events go to ingest.Queue, heartbeats to ingest.PresenceTracker.
package listener

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/mobycom/helpers"
	"github.com/temoto/mobycom/ingest"
	"github.com/temoto/mobycom/log2"
	"github.com/temoto/mobycom/mobycom"
)

const (
	DefaultPacketURL = "udp://:11000"
	DefaultReadLimit = 2048
)

type Server struct {
	alive   *alive.Alive
	listens struct {
		sync.RWMutex
		m map[string]net.PacketConn
	}
	log      *log2.Log
	now      func() time.Time
	onPacket PacketFunc
	presence *ingest.PresenceTracker
	queue    *ingest.Queue
	stat     *ingest.Stat
}

type ServerOptions struct {
	Log      *log2.Log
	Queue    *ingest.Queue
	Presence *ingest.PresenceTracker
	Stat     *ingest.Stat
	Now      func() time.Time // default time.Now
	// OnPacket observes each datagram after decode, before ack.
	// p is nil when err is not.
	OnPacket PacketFunc
}

type ListenOptions struct {
	PacketURL string
	// NetworkTimeout limits ack write, zero means no deadline.
	NetworkTimeout time.Duration
	ReadLimit      int
}

type PacketFunc = func(from net.Addr, p *mobycom.Packet, err error)

func NewServer(opt ServerOptions) *Server {
	if opt.Queue == nil || opt.Presence == nil {
		panic("code error ServerOptions.Queue and Presence are mandatory")
	}
	s := &Server{
		alive:    alive.NewAlive(),
		log:      opt.Log,
		now:      opt.Now,
		onPacket: opt.OnPacket,
		presence: opt.Presence,
		queue:    opt.Queue,
		stat:     opt.Stat,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.stat == nil {
		s.stat = new(ingest.Stat)
	}
	s.listens.m = make(map[string]net.PacketConn)
	return s
}

func (s *Server) Addrs() []string {
	s.listens.RLock()
	defer s.listens.RUnlock()
	addrs := make([]string, 0, len(s.listens.m))
	for _, pc := range s.listens.m {
		addrs = append(addrs, pc.LocalAddr().String())
	}
	return addrs
}

func (s *Server) Stat() *ingest.Stat { return s.stat }

func (s *Server) Listen(ctx context.Context, opts []ListenOptions) error {
	s.listens.Lock()
	defer s.listens.Unlock()

	for _, pc := range s.listens.m {
		pc.Close()
	}

	if !s.alive.Add(len(opts)) {
		return errors.Errorf("Listen after Close")
	}
	errs := make([]error, 0)
	for _, opt := range opts {
		if opt.PacketURL == "" {
			opt.PacketURL = DefaultPacketURL
		}
		if opt.ReadLimit <= 0 {
			opt.ReadLimit = DefaultReadLimit
		}
		s.log.Debugf("listen url=%s timeout=%v", opt.PacketURL, opt.NetworkTimeout)
		if err := s.listenPacket(opt); err != nil {
			s.alive.Done()
			err = errors.Annotatef(err, "listenPacket %s", opt.PacketURL)
			errs = append(errs, err)
			continue
		}
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.alive.StopChan():
		}
	}()
	return helpers.FoldErrors(errs)
}

// Close stops receive loops and waits for them to exit.
func (s *Server) Close() {
	s.alive.Stop()
	helpers.WithLock(&s.listens, func() {
		for _, pc := range s.listens.m {
			_ = pc.Close()
		}
	})
	s.alive.Wait()
}

func (s *Server) listenPacket(opt ListenOptions) error {
	scheme, hostport, err := parseURI(opt.PacketURL)
	if err != nil {
		return errors.Annotate(err, "parse url")
	}
	switch scheme {
	case "udp", "udp4", "udp6":
	default:
		return errors.Errorf("unsupported listen url=%s", opt.PacketURL)
	}

	pc, err := net.ListenPacket(scheme, hostport)
	if err != nil {
		return errors.Annotatef(err, "net.ListenPacket network=%s address=%s", scheme, hostport)
	}
	s.listens.m[opt.PacketURL] = pc
	s.log.Infof("listening %s", addrString(pc.LocalAddr()))
	go s.receiveLoop(pc, opt)
	return nil
}

func (s *Server) receiveLoop(pc net.PacketConn, opt ListenOptions) {
	defer s.alive.Done() // one alive subtask for each listener
	buf := make([]byte, opt.ReadLimit)
	for {
		n, from, err := pc.ReadFrom(buf)
		if !s.alive.IsRunning() {
			return
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			err = errors.Annotatef(err, "read listen=%s", addrString(pc.LocalAddr()))
			s.log.Error(err)
			return
		}
		s.handle(pc, buf[:n], from, &opt)
	}
}

// handle processes one datagram. b is reused after return.
func (s *Server) handle(pc net.PacketConn, b []byte, from net.Addr, opt *ListenOptions) {
	addr := addrString(from)
	now := s.now()
	s.stat.Recv.Add(len(b))
	s.log.Debugf("recv from=%s len=%d data=%s", addr, len(b), mobycom.FormatHex(b))

	p, err := mobycom.Decode(b)
	switch {
	case err != nil:
		s.stat.DecodeError.Add(1)
		s.log.Infof("decode from=%s len=%d err=%v", addr, len(b), err)

	case p.Kind == mobycom.KindHeartbeat:
		s.stat.Heartbeat.Add(1)
		s.presence.RecordHeartbeat(p.DeviceID, now)
		s.log.Infof("%s from=%s", p.String(), addr)

	case p.Kind == mobycom.KindEvent:
		s.stat.Event.Add(1)
		s.log.Infof("%s from=%s", p.String(), addr)
		if discarded := s.queue.Push(ingest.NewEvent(p, addr, now)); discarded != 0 {
			s.stat.Overflow.Add(int64(discarded))
			s.log.Infof("queue full, discarded oldest=%d", discarded)
		}
	}
	if p != nil && !p.CRCValid() {
		s.stat.CRCMismatch.Add(1)
		s.log.Debugf("crc mismatch from=%s device=%s wire=%04x", addr, p.DeviceID, p.CRC16)
	}
	if s.onPacket != nil {
		s.onPacket(from, p, err)
	}

	s.sendAck(pc, b, from, opt)
}

func (s *Server) sendAck(pc net.PacketConn, b []byte, to net.Addr, opt *ListenOptions) {
	ack, err := mobycom.BuildAck(b)
	if err != nil {
		s.stat.AckError.Add(1)
		s.log.Infof("ack skip to=%s err=%v", addrString(to), err)
		return
	}
	if opt.NetworkTimeout > 0 {
		_ = pc.SetWriteDeadline(time.Now().Add(opt.NetworkTimeout))
	}
	if _, err = pc.WriteTo(ack.Bytes(), to); err != nil {
		s.stat.AckError.Add(1)
		s.log.Errorf("ack send to=%s err=%v", addrString(to), err)
		return
	}
	s.stat.AckSent.Add(1)
	s.log.Debugf("ack to=%s data=%s", addrString(to), ack.Format())
}
