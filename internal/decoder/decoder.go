// Package decoder turns one CoT document into a canonical record, the typed
// facts it carries and the routing directive for it.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cotrelay/server/internal/cot"
	"github.com/cotrelay/server/pkg/core"
)

// ErrMissingField marks a fact that was present but lacked a required field.
var ErrMissingField = errors.New("missing required field")

// IconCatalog resolves iconset paths to stored icons.
type IconCatalog interface {
	LookupIcon(ctx context.Context, iconsetPath string) (string, bool)
}

// DefaultIcon is used when a marker names an icon the catalog does not know.
const DefaultIcon = "COT_MAPPING_2525B/a-u/a-u-G"

// Result is everything decoded from one document. Nil facts are absent.
type Result struct {
	Event *cot.Event
	Cot   core.CotRecord

	Point        *core.Point
	Marker       *core.Marker
	Alert        *core.Alert
	CancelAlert  bool
	CasEvac      *core.CasEvac
	GeoChat      *core.GeoChat
	Chatroom     *core.Chatroom
	Video        *core.VideoAnnouncement
	RangeBearing *core.RangeBearingLine
	Telemetry    *core.DeviceTelemetry

	// OfflineUID is set for an offline notice.
	OfflineUID string

	Directive core.Directive

	// Skipped holds per-fact decode errors. They never fail the document.
	Skipped []error
}

// Decoder is stateless per call and safe for concurrent use.
type Decoder struct {
	icons  IconCatalog
	logger *slog.Logger
}

// New creates a decoder. icons may be nil, in which case every named icon
// resolves to DefaultIcon.
func New(icons IconCatalog, logger *slog.Logger) *Decoder {
	return &Decoder{icons: icons, logger: logger}
}

// Decode parses raw and extracts every fact. Only an unparseable document is an error.
func (d *Decoder) Decode(ctx context.Context, raw []byte, senderUID string) (*Result, error) {
	e, err := cot.Decode(raw)
	if err != nil {
		return nil, err
	}
	return d.DecodeEvent(ctx, e, raw, senderUID), nil
}

// DecodeEvent extracts facts from an already parsed document.
func (d *Decoder) DecodeEvent(ctx context.Context, e *cot.Event, raw []byte, senderUID string) *Result {
	res := &Result{
		Event:     e,
		Cot:       CotRecord(e, raw, senderUID),
		Directive: Route(e),
	}

	skip := func(fact string, err error) {
		err = fmt.Errorf("%s %s: %w", fact, e.UID, err)
		res.Skipped = append(res.Skipped, err)
		d.logger.Debug("skipping fact", "fact", fact, "uid", e.UID, "type", e.Type, "error", err)
	}

	if p, err := ExtractPoint(e, senderUID); err != nil {
		skip("point", err)
	} else {
		res.Point = p
	}

	if m, err := d.ExtractMarker(ctx, e, senderUID); err != nil {
		skip("marker", err)
	} else {
		res.Marker = m
	}

	if a, cancel, err := ExtractAlert(e, senderUID); err != nil {
		skip("alert", err)
	} else {
		res.Alert, res.CancelAlert = a, cancel
	}

	if c, err := ExtractCasEvac(e, senderUID); err != nil {
		skip("casevac", err)
	} else {
		res.CasEvac = c
	}

	if msg, room, err := ExtractGeoChat(e, senderUID); err != nil {
		skip("geochat", err)
	} else {
		res.GeoChat, res.Chatroom = msg, room
	}

	if v, err := ExtractVideo(e, senderUID); err != nil {
		skip("video", err)
	} else {
		res.Video = v
	}

	if rb, err := ExtractRangeBearing(e, senderUID); err != nil {
		skip("range bearing", err)
	} else {
		res.RangeBearing = rb
	}

	if t, err := ExtractTelemetry(e); err != nil {
		skip("telemetry", err)
	} else {
		res.Telemetry = t
	}

	if uid, ok := e.IsOffline(); ok {
		res.OfflineUID = uid
	}

	return res
}

// CotRecord builds the canonical record of a document.
func CotRecord(e *cot.Event, raw []byte, senderUID string) core.CotRecord {
	callsign := e.Callsign()
	if callsign == "" && e.Detail != nil && e.Detail.Chat != nil {
		callsign = e.Detail.Chat.SenderCallsign
	}
	return core.CotRecord{
		UID:       e.UID,
		Type:      e.Type,
		How:       e.How,
		Time:      e.EventTime(),
		Start:     e.StartTime(),
		Stale:     e.StaleTime(),
		SenderUID: senderUID,
		Callsign:  callsign,
		Tasking:   cot.Tasking(e.Type),
		Raw:       string(raw),
	}
}
