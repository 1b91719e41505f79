package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cotrelay/server/internal/decoder"
	"github.com/cotrelay/server/internal/dispatcher"
	"github.com/cotrelay/server/internal/fabric"
	"github.com/cotrelay/server/internal/metrics"
	"github.com/cotrelay/server/internal/presence"
	"github.com/cotrelay/server/pkg/core"
)

// RegisterHandlers registers the document handler with the dispatcher.
// workers is the number of decode goroutines; queueSize bounds each one.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher, workers, queueSize int) {
	if workers < 1 {
		workers = 1
	}
	// Ingestion is never dropped: a full queue holds back the bus.
	d.Register(KindDocument, m.handleDocument,
		dispatcher.Buffered(queueSize), dispatcher.Sharded(workers), dispatcher.Blocking(), dispatcher.Logged())
}

func (m *Manager) handleDocument(e dispatcher.Event) (any, error) {
	res, err := m.Process(context.Background(), e.Key, e.Data)
	if err != nil {
		return nil, err
	}
	return res.Directive.Kind.String(), nil
}

// Process runs one document through decode, persistence, presence,
// mission bookkeeping and routing. Only an unparseable document is an
// error; every other failure is logged and the document still routes.
func (m *Manager) Process(ctx context.Context, origin string, data []byte) (*decoder.Result, error) {
	start := time.Now()
	defer func() { metrics.DecodeDuration.Observe(time.Since(start).Seconds()) }()

	res, err := m.deps.Decoder.Decode(ctx, data, origin)
	if err != nil {
		metrics.DecodeFailures.Inc()
		m.logger.Debug("dropping undecodable document", "origin", origin, "bytes", len(data), "error", err)
		return nil, fmt.Errorf("decode from %s: %w", origin, err)
	}
	metrics.DocumentsDecoded.WithLabelValues(res.Directive.Kind.String()).Inc()
	metrics.FactsSkipped.Add(float64(len(res.Skipped)))

	if m.deps.Backend != nil {
		m.persist(ctx, res)
	}
	m.refreshPresence(ctx, origin, data, res)
	m.writeTracks(res)
	m.joinMissions(ctx, origin, res)
	m.route(ctx, origin, data, res.Directive)
	return res, nil
}

// persist writes the canonical record first, then the point, then every
// point-dependent fact.
func (m *Manager) persist(ctx context.Context, res *decoder.Result) {
	b := m.deps.Backend
	failed := func(fact string, err error) {
		metrics.PersistErrors.WithLabelValues(fact).Inc()
		m.logger.Warn("persist failed", "fact", fact, "uid", res.Cot.UID, "type", res.Cot.Type, "error", err)
	}

	if err := b.RecordCot(ctx, &res.Cot); err != nil {
		failed("cot", err)
		return
	}
	cotID := res.Cot.ID

	var pointID *uint
	if p := res.Point; p != nil {
		p.CotID = cotID
		if err := b.UpsertPoint(ctx, p); err != nil {
			failed("point", err)
		} else {
			id := p.ID
			pointID = &id
		}
	}

	if mk := res.Marker; mk != nil {
		mk.CotID, mk.PointID = cotID, pointID
		if err := b.UpsertMarker(ctx, mk); err != nil {
			failed("marker", err)
		}
	}

	if a := res.Alert; a != nil {
		a.CotID, a.PointID = cotID, pointID
		if err := b.RecordAlert(ctx, a); err != nil {
			failed("alert", err)
		}
	}
	if res.CancelAlert {
		found, err := b.CancelAlert(ctx, res.Cot.SenderUID, res.Cot.Time)
		switch {
		case err != nil:
			failed("alert", err)
		case !found:
			m.logger.Debug("no open alert to cancel", "sender", res.Cot.SenderUID)
		}
	}

	if c := res.CasEvac; c != nil {
		c.CotID, c.PointID = cotID, pointID
		if err := b.UpsertCasEvac(ctx, c); err != nil {
			failed("casevac", err)
		}
	}

	if room := res.Chatroom; room != nil {
		if err := b.UpsertChatroom(ctx, room); err != nil {
			failed("chatroom", err)
		}
	}
	if g := res.GeoChat; g != nil {
		g.CotID, g.PointID = cotID, pointID
		if err := b.RecordGeoChat(ctx, g); err != nil {
			failed("geochat", err)
		}
	}

	if v := res.Video; v != nil {
		v.CotID, v.PointID = cotID, pointID
		if err := b.UpsertVideo(ctx, v); err != nil {
			failed("video", err)
		}
	}

	if rb := res.RangeBearing; rb != nil {
		rb.CotID, rb.PointID = cotID, pointID
		if err := b.UpsertRangeBearingLine(ctx, rb); err != nil {
			failed("range_bearing", err)
		}
	}

	if t := res.Telemetry; t != nil {
		if err := b.UpsertDeviceTelemetry(ctx, t); err != nil {
			failed("telemetry", err)
		}
	}

	if uid := res.OfflineUID; uid != "" {
		at := res.Cot.Time
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if err := b.MarkDeviceDisconnected(ctx, uid, at); err != nil {
			failed("telemetry", err)
		}
	}
}

// refreshPresence keeps a connected device's entry current with its own
// position reports. Entries are only created and removed by sessions.
func (m *Manager) refreshPresence(ctx context.Context, origin string, data []byte, res *decoder.Result) {
	if m.deps.Presence == nil || res.OfflineUID != "" || res.Cot.UID != origin {
		return
	}
	m.deps.Presence.Refresh(ctx, presence.Entry{
		UID:       origin,
		Callsign:  res.Cot.Callsign,
		Document:  data,
		Point:     res.Point,
		EventTime: res.Cot.Time,
	})
}

func (m *Manager) writeTracks(res *decoder.Result) {
	if m.deps.Tracks == nil {
		return
	}
	if res.Point != nil {
		if err := m.deps.Tracks.WriteTrack(res.Point); err != nil {
			m.logger.Debug("track not written", "uid", res.Point.UID, "error", err)
		}
	}
	if res.Telemetry != nil {
		if err := m.deps.Tracks.WriteTelemetry(res.Telemetry); err != nil {
			m.logger.Debug("telemetry not written", "uid", res.Telemetry.UID, "error", err)
		}
	}
}

// joinMissions records the sender as a member of every existing mission
// the document is addressed to and asks its session to bind the mission.
func (m *Manager) joinMissions(ctx context.Context, origin string, res *decoder.Result) {
	if res.Directive.Kind != core.RouteMission || m.deps.Missions == nil {
		return
	}
	for _, name := range res.Directive.Missions {
		exists, err := m.deps.Missions.MissionExists(ctx, name)
		if err != nil {
			m.logger.Warn("mission lookup failed", "mission", name, "error", err)
			continue
		}
		if !exists {
			m.logger.Debug("document addressed to unknown mission", "mission", name, "origin", origin)
			continue
		}
		if err := m.deps.Missions.RecordMembership(ctx, origin, name, res.Cot); err != nil {
			m.logger.Warn("mission membership not recorded", "mission", name, "origin", origin, "error", err)
			continue
		}
		if m.deps.Publisher == nil {
			continue
		}
		err = m.deps.Publisher.SendControl(ctx, origin, fabric.Control{
			Op:    fabric.ControlBind,
			Kind:  fabric.TopicMission,
			Name:  name,
			Cause: res.Cot.UID,
		})
		if err != nil {
			m.logger.Debug("mission bind not sent", "mission", name, "origin", origin, "error", err)
		}
	}
}

// route publishes the document to the topics its directive names.
func (m *Manager) route(ctx context.Context, origin string, data []byte, d core.Directive) {
	if m.deps.Publisher == nil {
		return
	}
	var errs []error
	for _, t := range m.topicsFor(d) {
		if err := m.deps.Publisher.Publish(ctx, t, origin, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Warn("publish failed", "origin", origin, "route", d.Kind.String(), "error", err)
	}
}

// topicsFor expands a directive into topics. Callsigns are resolved
// through presence so a device named both ways receives the document
// once; unresolved callsigns still go to the callsign topic in case the
// device is connected to another node.
func (m *Manager) topicsFor(d core.Directive) []fabric.Topic {
	switch d.Kind {
	case core.RouteDirect:
		seen := make(map[string]bool) // uids, and callsigns prefixed
		var topics []fabric.Topic
		addUID := func(uid string) {
			if !seen[uid] {
				seen[uid] = true
				topics = append(topics, fabric.Device(uid))
			}
		}
		for _, uid := range d.UIDs {
			addUID(uid)
		}
		for _, cs := range d.Callsigns {
			if m.deps.Presence != nil {
				if uid, ok := m.deps.Presence.ResolveCallsign(cs); ok {
					addUID(uid)
					continue
				}
			}
			if !seen["callsign:"+cs] {
				seen["callsign:"+cs] = true
				topics = append(topics, fabric.Callsign(cs))
			}
		}
		return topics
	case core.RouteMission:
		topics := make([]fabric.Topic, 0, len(d.Missions))
		for _, name := range d.Missions {
			topics = append(topics, fabric.Mission(name))
		}
		return topics
	case core.RouteChatroom:
		return []fabric.Topic{fabric.Chatroom(d.Room)}
	default:
		return []fabric.Topic{fabric.Broadcast()}
	}
}
