// internal/storage/memory/memory.go
package memory

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/cotrelay/server/pkg/core"
)

type cotKey struct {
	UID  string
	Type string
	Time time.Time
}

type alertKey struct {
	UID   string
	Start time.Time
}

type zmistKey struct {
	UID   string
	Index int
}

// Backend keeps every fact in maps keyed by natural key. Used for tests and
// for running without a database.
type Backend struct {
	cots      map[cotKey]*core.CotRecord
	points    map[uint]*core.Point // keyed by CotID
	markers   map[string]*core.Marker
	alerts    map[alertKey]*core.Alert
	casevacs  map[string]*core.CasEvac
	geochats  map[string]*core.GeoChat
	rooms     map[string]*core.Chatroom
	videos    map[string]*core.VideoAnnouncement
	rbLines   map[string]*core.RangeBearingLine
	devices   map[string]*core.DeviceTelemetry
	icons     map[string]core.Icon
	idCounter uint
	mu        sync.RWMutex
}

// New creates a new memory backend
func New() *Backend {
	return &Backend{
		cots:     make(map[cotKey]*core.CotRecord),
		points:   make(map[uint]*core.Point),
		markers:  make(map[string]*core.Marker),
		alerts:   make(map[alertKey]*core.Alert),
		casevacs: make(map[string]*core.CasEvac),
		geochats: make(map[string]*core.GeoChat),
		rooms:    make(map[string]*core.Chatroom),
		videos:   make(map[string]*core.VideoAnnouncement),
		rbLines:  make(map[string]*core.RangeBearingLine),
		devices:  make(map[string]*core.DeviceTelemetry),
		icons:    make(map[string]core.Icon),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) nextID() uint {
	b.idCounter++
	return b.idCounter
}

func (b *Backend) RecordCot(_ context.Context, c *core.CotRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := cotKey{c.UID, c.Type, c.Time.UTC()}
	if existing, ok := b.cots[key]; ok {
		c.ID = existing.ID
	} else {
		c.ID = b.nextID()
	}
	stored := *c
	b.cots[key] = &stored
	return nil
}

func (b *Backend) UpsertPoint(_ context.Context, p *core.Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.points[p.CotID]; ok {
		p.ID = existing.ID
	} else {
		p.ID = b.nextID()
	}
	stored := *p
	b.points[p.CotID] = &stored
	return nil
}

func (b *Backend) UpsertMarker(_ context.Context, m *core.Marker) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m.ID = b.idFor(b.markers[m.UID])
	stored := *m
	b.markers[m.UID] = &stored
	return nil
}

func (b *Backend) RecordAlert(_ context.Context, a *core.Alert) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := alertKey{a.UID, a.Start.UTC()}
	if existing, ok := b.alerts[key]; ok {
		a.ID = existing.ID
		a.Cancelled, a.CancelledAt = existing.Cancelled, existing.CancelledAt
	} else {
		a.ID = b.nextID()
	}
	stored := *a
	b.alerts[key] = &stored
	return nil
}

func (b *Backend) CancelAlert(_ context.Context, senderUID string, at time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var newest *core.Alert
	for _, a := range b.alerts {
		if a.SenderUID != senderUID || a.Cancelled {
			continue
		}
		if newest == nil || a.Start.After(newest.Start) {
			newest = a
		}
	}
	if newest == nil {
		return false, nil
	}
	newest.Cancelled = true
	cancelledAt := at
	newest.CancelledAt = &cancelledAt
	return true, nil
}

func (b *Backend) UpsertCasEvac(_ context.Context, c *core.CasEvac) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.casevacs[c.UID]; ok {
		c.ID = existing.ID
	} else {
		c.ID = b.nextID()
	}
	stored := *c
	stored.ZMists = append([]core.ZMist(nil), c.ZMists...)
	b.casevacs[c.UID] = &stored
	return nil
}

func (b *Backend) RecordGeoChat(_ context.Context, g *core.GeoChat) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.geochats[g.MessageID]; ok {
		g.ID = existing.ID
	} else {
		g.ID = b.nextID()
	}
	stored := *g
	b.geochats[g.MessageID] = &stored
	return nil
}

func (b *Backend) UpsertChatroom(_ context.Context, c *core.Chatroom) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	room, ok := b.rooms[c.RoomID]
	if !ok {
		room = &core.Chatroom{RoomID: c.RoomID}
		b.rooms[c.RoomID] = room
	}
	room.Name, room.Parent = c.Name, c.Parent

	seen := make(map[string]int, len(room.Members))
	for i, m := range room.Members {
		seen[m.UID] = i
	}
	for _, m := range c.Members {
		if i, ok := seen[m.UID]; ok {
			room.Members[i].Owner = room.Members[i].Owner || m.Owner
			continue
		}
		seen[m.UID] = len(room.Members)
		room.Members = append(room.Members, core.ChatroomMember{RoomID: c.RoomID, UID: m.UID, Owner: m.Owner})
	}
	return nil
}

func (b *Backend) UpsertVideo(_ context.Context, v *core.VideoAnnouncement) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.videos[v.UID]; ok {
		v.ID = existing.ID
	} else {
		v.ID = b.nextID()
	}
	stored := *v
	b.videos[v.UID] = &stored
	return nil
}

func (b *Backend) UpsertRangeBearingLine(_ context.Context, rb *core.RangeBearingLine) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.rbLines[rb.UID]; ok {
		rb.ID = existing.ID
	} else {
		rb.ID = b.nextID()
	}
	stored := *rb
	b.rbLines[rb.UID] = &stored
	return nil
}

func (b *Backend) UpsertDeviceTelemetry(_ context.Context, t *core.DeviceTelemetry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := *t
	b.devices[t.UID] = &stored
	return nil
}

func (b *Backend) MarkDeviceDisconnected(_ context.Context, uid string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.devices[uid]; ok {
		d.Status = core.DeviceDisconnected
		d.LastEventTime = at
	}
	return nil
}

func (b *Backend) UpsertIcon(_ context.Context, icon core.Icon) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.icons[icon.IconsetPath] = icon
	return nil
}

func (b *Backend) LookupIcon(_ context.Context, iconsetPath string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if icon, ok := b.icons[iconsetPath]; ok {
		return icon.Path(), true
	}
	name := path.Base(iconsetPath)
	for _, icon := range b.icons {
		if icon.Filename == name {
			return icon.Path(), true
		}
	}
	return "", false
}

func (b *Backend) idFor(existing *core.Marker) uint {
	if existing != nil {
		return existing.ID
	}
	return b.nextID()
}

// Snapshot accessors used by tests and diagnostics.

func (b *Backend) Cots() []core.CotRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.CotRecord, 0, len(b.cots))
	for _, c := range b.cots {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Backend) Points() []core.Point {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.Point, 0, len(b.points))
	for _, p := range b.points {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Backend) Marker(uid string) (core.Marker, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.markers[uid]
	if !ok {
		return core.Marker{}, false
	}
	return *m, true
}

// Alert returns the newest alert recorded under uid.
func (b *Backend) Alert(uid string) (core.Alert, bool) {
	all := b.Alerts(uid)
	if len(all) == 0 {
		return core.Alert{}, false
	}
	return all[len(all)-1], true
}

// Alerts returns every alert recorded under uid, oldest first.
func (b *Backend) Alerts(uid string) []core.Alert {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []core.Alert
	for k, a := range b.alerts {
		if k.UID == uid {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (b *Backend) CasEvacs() []core.CasEvac {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.CasEvac, 0, len(b.casevacs))
	for _, c := range b.casevacs {
		out = append(out, *c)
	}
	return out
}

func (b *Backend) GeoChat(messageID string) (core.GeoChat, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	g, ok := b.geochats[messageID]
	if !ok {
		return core.GeoChat{}, false
	}
	return *g, true
}

func (b *Backend) Chatroom(roomID string) (core.Chatroom, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rooms[roomID]
	if !ok {
		return core.Chatroom{}, false
	}
	out := *r
	out.Members = append([]core.ChatroomMember(nil), r.Members...)
	return out, true
}

func (b *Backend) Video(uid string) (core.VideoAnnouncement, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.videos[uid]
	if !ok {
		return core.VideoAnnouncement{}, false
	}
	return *v, true
}

func (b *Backend) RangeBearingLine(uid string) (core.RangeBearingLine, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rb, ok := b.rbLines[uid]
	if !ok {
		return core.RangeBearingLine{}, false
	}
	return *rb, true
}

func (b *Backend) Device(uid string) (core.DeviceTelemetry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.devices[uid]
	if !ok {
		return core.DeviceTelemetry{}, false
	}
	return *d, true
}
