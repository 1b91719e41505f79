// Package presence tracks the devices currently connected to this server.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/cotrelay/server/pkg/core"
)

// DefaultShards is used when New is given a non-positive shard count.
const DefaultShards = 32

// Entry is the last known state of one device.
type Entry struct {
	UID      string
	Callsign string
	Platform string
	Team     string
	Role     string
	// Document is the last raw CoT document seen from the device.
	Document  []byte
	Point     *core.Point
	EventTime time.Time
	UpdatedAt time.Time
}

// ChangeKind says what happened to an entry.
type ChangeKind int

const (
	Joined ChangeKind = iota
	Updated
	Left
)

func (k ChangeKind) String() string {
	switch k {
	case Joined:
		return "joined"
	case Updated:
		return "updated"
	case Left:
		return "left"
	}
	return "unknown"
}

// Change is handed to the Notifier after every applied update or removal.
type Change struct {
	Kind  ChangeKind
	Entry Entry
}

// Notifier receives presence changes. Implementations must not block.
type Notifier interface {
	PresenceChanged(ctx context.Context, c Change) error
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// Tracker is a sharded uid → Entry store with a callsign index.
type Tracker struct {
	shards   []*shard
	notifier Notifier
	logger   *slog.Logger

	csMu      sync.RWMutex
	callsigns map[string]string
}

// New creates a tracker. notifier may be nil.
func New(shards int, notifier Notifier, logger *slog.Logger) *Tracker {
	if shards <= 0 {
		shards = DefaultShards
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		shards:    make([]*shard, shards),
		notifier:  notifier,
		logger:    logger,
		callsigns: make(map[string]string),
	}
	for i := range t.shards {
		t.shards[i] = &shard{entries: make(map[string]*Entry)}
	}
	return t
}

func (t *Tracker) shardFor(uid string) *shard {
	return t.shards[xxhash.Sum64String(uid)%uint64(len(t.shards))]
}

// Update merges e into the entry for e.UID, creating it when missing.
// Empty fields in e keep the stored value. An update whose EventTime is
// older than the stored one is ignored; a zero EventTime always applies.
// Reports whether e was applied.
func (t *Tracker) Update(ctx context.Context, e Entry) bool {
	return t.apply(ctx, e, true)
}

// Refresh is Update for devices that are already tracked. It never
// creates an entry, so documents decoded after a device left cannot
// bring it back.
func (t *Tracker) Refresh(ctx context.Context, e Entry) bool {
	return t.apply(ctx, e, false)
}

func (t *Tracker) apply(ctx context.Context, e Entry, create bool) bool {
	if e.UID == "" {
		return false
	}
	s := t.shardFor(e.UID)

	s.mu.Lock()
	cur, ok := s.entries[e.UID]
	if !ok && !create {
		s.mu.Unlock()
		return false
	}
	if ok && !e.EventTime.IsZero() && cur.EventTime.After(e.EventTime) {
		s.mu.Unlock()
		return false
	}
	kind := Updated
	var oldCallsign string
	if !ok {
		kind = Joined
		cur = &Entry{UID: e.UID}
		s.entries[e.UID] = cur
	} else {
		oldCallsign = cur.Callsign
	}
	merge(cur, e)
	cur.UpdatedAt = time.Now().UTC()
	snapshot := cur.clone()
	if snapshot.Callsign != oldCallsign {
		// lock order: shard, then callsign index
		t.csMu.Lock()
		if oldCallsign != "" && t.callsigns[oldCallsign] == e.UID {
			delete(t.callsigns, oldCallsign)
		}
		if snapshot.Callsign != "" {
			t.callsigns[snapshot.Callsign] = e.UID
		}
		t.csMu.Unlock()
	}
	s.mu.Unlock()

	t.notify(ctx, Change{Kind: kind, Entry: snapshot})
	return true
}

func merge(dst *Entry, src Entry) {
	if src.Callsign != "" {
		dst.Callsign = src.Callsign
	}
	if src.Platform != "" {
		dst.Platform = src.Platform
	}
	if src.Team != "" {
		dst.Team = src.Team
	}
	if src.Role != "" {
		dst.Role = src.Role
	}
	if src.Document != nil {
		dst.Document = src.Document
	}
	if src.Point != nil {
		p := *src.Point
		dst.Point = &p
	}
	if !src.EventTime.IsZero() {
		dst.EventTime = src.EventTime
	}
}

func (e *Entry) clone() Entry {
	out := *e
	if e.Point != nil {
		p := *e.Point
		out.Point = &p
	}
	return out
}

// Remove deletes the entry for uid.
func (t *Tracker) Remove(ctx context.Context, uid string) (Entry, bool) {
	s := t.shardFor(uid)
	s.mu.Lock()
	cur, ok := s.entries[uid]
	if !ok {
		s.mu.Unlock()
		return Entry{}, false
	}
	delete(s.entries, uid)
	if cur.Callsign != "" {
		t.csMu.Lock()
		if t.callsigns[cur.Callsign] == uid {
			delete(t.callsigns, cur.Callsign)
		}
		t.csMu.Unlock()
	}
	s.mu.Unlock()

	t.notify(ctx, Change{Kind: Left, Entry: *cur})
	return *cur, true
}

// Get returns a copy of the entry for uid.
func (t *Tracker) Get(uid string) (Entry, bool) {
	s := t.shardFor(uid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.entries[uid]
	if !ok {
		return Entry{}, false
	}
	return cur.clone(), true
}

// ResolveCallsign maps a callsign to the uid currently using it.
func (t *Tracker) ResolveCallsign(callsign string) (string, bool) {
	t.csMu.RLock()
	defer t.csMu.RUnlock()
	uid, ok := t.callsigns[callsign]
	return uid, ok
}

// Snapshot returns every entry except exclude, ordered by uid.
func (t *Tracker) Snapshot(exclude string) []Entry {
	var out []Entry
	for _, s := range t.shards {
		s.mu.RLock()
		for uid, e := range s.entries {
			if uid == exclude {
				continue
			}
			out = append(out, e.clone())
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// Len returns the number of tracked devices.
func (t *Tracker) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

func (t *Tracker) notify(ctx context.Context, c Change) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.PresenceChanged(ctx, c); err != nil {
		t.logger.Debug("presence notification failed", "uid", c.Entry.UID, "change", c.Kind.String(), "error", err)
	}
}
