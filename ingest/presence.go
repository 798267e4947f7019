package ingest

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/juju/errors"
)

// Presence is device state known from heartbeats.
type Presence struct {
	DeviceID   string    `json:"device_id"`
	LastSeen   time.Time `json:"last_seen"`
	Online     bool      `json:"online"`
	Heartbeats uint64    `json:"heartbeats"`
}

// PresenceTracker maps device id to last heartbeat.
// Entries are never removed. Safe for concurrent readers and one writer.
type PresenceTracker struct {
	mu sync.RWMutex
	m  map[string]*Presence
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{m: make(map[string]*Presence)}
}

func (t *PresenceTracker) RecordHeartbeat(deviceID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.m[deviceID]
	if !ok {
		p = &Presence{DeviceID: deviceID}
		t.m[deviceID] = p
	}
	p.LastSeen = now
	p.Online = true
	p.Heartbeats++
}

func (t *PresenceTracker) Query(deviceID string) (Presence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.m[deviceID]; ok {
		return *p, true
	}
	return Presence{}, false
}

// List returns copy of all entries sorted by device id.
func (t *PresenceTracker) List() []Presence {
	t.mu.RLock()
	ps := make([]Presence, 0, len(t.m))
	for _, p := range t.m {
		ps = append(ps, *p)
	}
	t.mu.RUnlock()
	sort.Slice(ps, func(i, j int) bool { return ps[i].DeviceID < ps[j].DeviceID })
	return ps
}

func (t *PresenceTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

// Expire marks offline devices silent for longer than timeout.
// Returns ids that changed to offline.
func (t *PresenceTracker) Expire(now time.Time, timeout time.Duration) []string {
	if timeout <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var changed []string
	for id, p := range t.m {
		if p.Online && now.Sub(p.LastSeen) > timeout {
			p.Online = false
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed
}

func (t *PresenceTracker) MarshalBinary() ([]byte, error) {
	return json.Marshal(t.List())
}

// UnmarshalBinary merges snapshot, newer LastSeen wins.
func (t *PresenceTracker) UnmarshalBinary(b []byte) error {
	var ps []Presence
	if err := json.Unmarshal(b, &ps); err != nil {
		return errors.Annotate(err, "presence snapshot")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range ps {
		p := ps[i]
		if p.DeviceID == "" {
			continue
		}
		if ex, ok := t.m[p.DeviceID]; ok && !p.LastSeen.After(ex.LastSeen) {
			continue
		}
		t.m[p.DeviceID] = &p
	}
	return nil
}
