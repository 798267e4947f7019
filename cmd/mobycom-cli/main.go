package main

import (
	"flag"
	"net"
	"os"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/mobycom/helpers/cli"
	"github.com/temoto/mobycom/log2"
	"github.com/temoto/mobycom/mobycom"
)

const usage = `syntax: one command per line
- @XX...            decode frame from hex, show ack
- send @XX...       send frame to target, show ack reply
- target=HOST:PORT  change send target
- log=yes           enable debug logging
- log=no            disable debug logging
`

var log = log2.NewStderr(log2.LDebug)

type session struct {
	target  string
	timeout time.Duration
}

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	target := cmdline.String("target", "127.0.0.1:11000", "listener address for send")
	timeout := cmdline.Duration("timeout", 3*time.Second, "ack wait timeout")
	_ = cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)
	s := &session{target: *target, timeout: *timeout}
	cli.MainLoop("mobycom-cli", s.execute, newCompleter())
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "@XX", Description: "decode frame, show ack"},
		{Text: "send", Description: "send frame to target, show reply"},
		{Text: "target=", Description: "set send target host:port"},
		{Text: "log=yes", Description: "enable debug logging"},
		{Text: "log=no", Description: "disable debug logging"},
		{Text: "help", Description: "show usage"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

func (s *session) execute(line string) {
	if err := s.executeLine(line); err != nil {
		log.Error(errors.ErrorStack(err))
	}
}

func (s *session) executeLine(line string) error {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}
	switch w := words[0]; {
	case w == "help" || w == "?":
		log.Info(usage)
	case w == "log=yes":
		log.SetLevel(log2.LDebug)
	case w == "log=no":
		log.SetLevel(log2.LInfo)
	case strings.HasPrefix(w, "target="):
		s.target = strings.TrimPrefix(w, "target=")
		log.Infof("target=%s", s.target)
	case w == "send":
		b, err := parseFrame(words[1:])
		if err != nil {
			return err
		}
		return s.send(b)
	case strings.HasPrefix(w, "@"):
		b, err := parseFrame(words)
		if err != nil {
			return err
		}
		show(b)
	default:
		return errors.Errorf("unknown command %q, try help", w)
	}
	return nil
}

// parseFrame joins @-prefixed hex words.
func parseFrame(words []string) ([]byte, error) {
	if len(words) == 0 {
		return nil, errors.Errorf("expected @hex frame")
	}
	return mobycom.ParseHex(strings.TrimPrefix(strings.Join(words, ""), "@"))
}

func show(b []byte) {
	if p, err := mobycom.Decode(b); err == nil {
		log.Infof("%s crc_valid=%t", p.String(), p.CRCValid())
	} else {
		log.Infof("invalid len=%d err=%v", len(b), err)
	}
	if ack, err := mobycom.BuildAck(b); err == nil {
		log.Infof("ack %s", ack.Format())
	} else {
		log.Infof("ack none err=%v", err)
	}
}

func (s *session) send(b []byte) error {
	conn, err := net.Dial("udp", s.target)
	if err != nil {
		return errors.Annotatef(err, "dial %s", s.target)
	}
	defer conn.Close()
	log.Debugf("send to=%s data=%s", s.target, mobycom.FormatHex(b))
	if _, err = conn.Write(b); err != nil {
		return errors.Annotate(err, "send")
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.timeout))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		return errors.Annotate(err, "wait ack")
	}
	reply := buf[:n]
	expect, _ := mobycom.BuildAck(b)
	log.Infof("reply %s match=%t", mobycom.FormatHex(reply), string(reply) == string(expect.Bytes()))
	return nil
}
