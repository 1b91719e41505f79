// Package mission records which devices take part in which missions and
// keeps the per-mission change log.
package mission

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cotrelay/server/pkg/core"
)

// Store is the mission collaborator of the decoder and the session.
type Store interface {
	MissionExists(ctx context.Context, name string) (bool, error)
	// RecordMembership upserts the membership of uid in name and appends
	// the change entries caused by doc.
	RecordMembership(ctx context.Context, uid, name string, doc core.CotRecord) error
	MissionsFor(ctx context.Context, uid string) ([]string, error)
}

// changesFor lists the audit entries for doc. A first membership is also a
// subscription.
func changesFor(uid, name string, doc core.CotRecord, newMember bool) []core.MissionChange {
	at := doc.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var out []core.MissionChange
	if newMember {
		out = append(out, core.MissionChange{
			Mission:    name,
			ChangeType: core.MissionChangeSubscribe,
			CreatorUID: uid,
			Time:       at,
		})
	}
	return append(out, core.MissionChange{
		Mission:    name,
		ChangeType: core.MissionChangeAddContent,
		CreatorUID: uid,
		ContentUID: doc.UID,
		CotType:    doc.Type,
		Time:       at,
	})
}

// Memory is a Store backed by maps.
type Memory struct {
	mu       sync.RWMutex
	missions map[string]bool
	members  map[string]map[string]time.Time // mission -> uid -> joined
	changes  []core.MissionChange
}

func NewMemory(missions ...string) *Memory {
	m := &Memory{
		missions: make(map[string]bool),
		members:  make(map[string]map[string]time.Time),
	}
	for _, name := range missions {
		m.missions[name] = true
	}
	return m
}

// CreateMission adds a mission.
func (m *Memory) CreateMission(_ context.Context, name, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missions[name] = true
	return nil
}

func (m *Memory) MissionExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.missions[name], nil
}

func (m *Memory) RecordMembership(_ context.Context, uid, name string, doc core.CotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.members[name]
	if !ok {
		members = make(map[string]time.Time)
		m.members[name] = members
	}
	_, existing := members[uid]
	members[uid] = doc.Time
	m.changes = append(m.changes, changesFor(uid, name, doc, !existing)...)
	return nil
}

func (m *Memory) MissionsFor(_ context.Context, uid string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, members := range m.members {
		if _, ok := members[uid]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Changes returns the change log of name in insertion order.
func (m *Memory) Changes(name string) []core.MissionChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.MissionChange
	for _, c := range m.changes {
		if c.Mission == name {
			out = append(out, c)
		}
	}
	return out
}
