// Package persist keeps crash-safe snapshot of in-memory state on disk.
package persist

import (
	"encoding"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/extremofile"
	"github.com/temoto/mobycom/helpers"
	"github.com/temoto/mobycom/log2"
)

type Stater interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type storage interface {
	Read() ([]byte, error)
	io.Writer
}

// Persist binds target Load/Store to extremofile in <root>/<tag>.
// Zero root disables persistence, Load and Store become no-op.
type Persist struct {
	sync.Mutex
	log     *log2.Log
	tag     string
	target  Stater
	storage storage
}

func New(tag string, target Stater, root string, log *log2.Log) *Persist {
	if target == nil {
		panic("code error persist target nil")
	}
	p := &Persist{log: log, tag: tag, target: target}
	if root == "" {
		p.log.Debugf("persist %s disabled", tag)
		return p
	}
	p.storage = extremofile.New(extremofile.Config{
		Dir:      filepath.Join(root, tag),
		DirPerm:  0755,
		FilePerm: 0644,
	})
	return p
}

func (p *Persist) Enabled() bool { return p.storage != nil }

// Load merges stored snapshot into target. Missing snapshot is not an error.
func (p *Persist) Load() error {
	if p.storage == nil {
		return nil
	}
	p.Lock()
	defer p.Unlock()
	tbegin := time.Now()
	b, err := p.storage.Read()
	p.log.Debugf("persist %s storage.read duration=%v size=%d", p.tag, time.Since(tbegin), len(b))
	if b != nil {
		if err != nil {
			p.log.Errorf("persist %s ignore non-critical storage err=%v", p.tag, err)
		}
		err = p.target.UnmarshalBinary(b)
	}
	return errors.Annotatef(err, "persist %s Load", p.tag)
}

func (p *Persist) Store() error {
	if p.storage == nil {
		return nil
	}
	p.Lock()
	defer p.Unlock()
	b, err := p.target.MarshalBinary()
	if err == nil {
		tbegin := time.Now()
		_, err = p.storage.Write(b)
		p.log.Debugf("persist %s storage.write duration=%v size=%d", p.tag, time.Since(tbegin), len(b))
	}
	if extremofile.IsCritical(err) {
		p.log.Errorf("CRITICAL persist %s storage err=%v", p.tag, err)
	}
	return errors.Annotatef(err, "persist %s Store", p.tag)
}

// Loop stores every interval until stopch closed, then stores once more.
func (p *Persist) Loop(interval time.Duration, stopch <-chan struct{}) {
	if p.storage == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	for helpers.SleepStop(interval, stopch) {
		if err := p.Store(); err != nil {
			p.log.Error(err)
		}
	}
	if err := p.Store(); err != nil {
		p.log.Error(err)
	}
}
