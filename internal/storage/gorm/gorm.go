// Package gormstorage implements storage.Backend on GORM. Every write is an
// INSERT ... ON CONFLICT on the fact's natural key, so the same document
// decoded twice, or by two workers at once, converges to one row.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cotrelay/server/internal/model"
	"github.com/cotrelay/server/internal/model/convert"
	"github.com/cotrelay/server/pkg/core"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
}

// Backend implements storage.Backend using GORM (Postgres or SQLite).
type Backend struct {
	deps Dependencies
}

// New creates a new GORM storage backend. The DB connection is owned by the caller.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

// Init migrates the schema.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm backend: no database")
	}
	b.deps.Logger.Info("migrating schema", "dialect", b.deps.DB.Name(), "tables", len(model.DatabaseModels))
	if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close is a no-op; the database.Manager owns the connection.
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) db(ctx context.Context) *gorm.DB {
	return b.deps.DB.WithContext(ctx).Omit(clause.Associations)
}

func upsertAll(columns ...string) clause.OnConflict {
	cols := make([]clause.Column, len(columns))
	for i, c := range columns {
		cols[i] = clause.Column{Name: c}
	}
	return clause.OnConflict{Columns: cols, UpdateAll: true}
}

// resolveID fills id from the natural key when the driver did not return it.
func (b *Backend) resolveID(ctx context.Context, dst any, id *uint, query string, args ...any) error {
	if *id != 0 {
		return nil
	}
	var ids []uint
	if err := b.deps.DB.WithContext(ctx).Model(dst).Where(query, args...).Limit(1).Pluck("id", &ids).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("upserted row not found: %s", query)
	}
	*id = ids[0]
	return nil
}

// RecordCot upserts the canonical record on (uid, type, time) and assigns c.ID.
func (b *Backend) RecordCot(ctx context.Context, c *core.CotRecord) error {
	m := convert.CotRecordToCotEvent(*c)
	m.ID = 0
	if err := b.db(ctx).Clauses(upsertAll("uid", "type", "time")).Create(&m).Error; err != nil {
		return fmt.Errorf("recording cot %s: %w", c.UID, err)
	}
	if err := b.resolveID(ctx, &model.CotEvent{}, &m.ID, "uid = ? AND type = ? AND time = ?", m.UID, m.Type, m.Time); err != nil {
		return fmt.Errorf("recording cot %s: %w", c.UID, err)
	}
	c.ID = m.ID
	return nil
}

// UpsertPoint upserts on cot_id and assigns p.ID.
func (b *Backend) UpsertPoint(ctx context.Context, p *core.Point) error {
	m := convert.PointToModel(*p)
	m.ID = 0
	if err := b.db(ctx).Clauses(upsertAll("cot_id")).Create(&m).Error; err != nil {
		return fmt.Errorf("upserting point %s: %w", p.UID, err)
	}
	if err := b.resolveID(ctx, &model.Point{}, &m.ID, "cot_id = ?", m.CotID); err != nil {
		return fmt.Errorf("upserting point %s: %w", p.UID, err)
	}
	p.ID = m.ID
	return nil
}

// UpsertMarker upserts on uid.
func (b *Backend) UpsertMarker(ctx context.Context, mk *core.Marker) error {
	m := convert.MarkerToModel(*mk)
	m.ID = 0
	if err := b.db(ctx).Clauses(upsertAll("uid")).Create(&m).Error; err != nil {
		return fmt.Errorf("upserting marker %s: %w", mk.UID, err)
	}
	if err := b.resolveID(ctx, &model.Marker{}, &m.ID, "uid = ?", m.UID); err != nil {
		return fmt.Errorf("upserting marker %s: %w", mk.UID, err)
	}
	mk.ID = m.ID
	return nil
}

// RecordAlert upserts on (uid, start). A reused uid with a new start is a
// new alert and leaves earlier ones untouched.
func (b *Backend) RecordAlert(ctx context.Context, a *core.Alert) error {
	m := convert.AlertToModel(*a)
	m.ID = 0
	keep := clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}, {Name: "start"}},
		DoUpdates: clause.AssignmentColumns([]string{"cot_id", "point_id", "sender_uid", "callsign", "alert_type"}),
	}
	// a resend never reopens a cancelled alert
	if err := b.db(ctx).Clauses(keep).Create(&m).Error; err != nil {
		return fmt.Errorf("recording alert %s: %w", a.UID, err)
	}
	if err := b.resolveID(ctx, &model.Alert{}, &m.ID, "uid = ? AND start = ?", m.UID, m.Start); err != nil {
		return fmt.Errorf("recording alert %s: %w", a.UID, err)
	}
	a.ID = m.ID
	return nil
}

// CancelAlert closes the most recent (by start) uncancelled alert of senderUID.
func (b *Backend) CancelAlert(ctx context.Context, senderUID string, at time.Time) (bool, error) {
	var found bool
	err := b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a model.Alert
		err := tx.Where("sender_uid = ? AND cancelled = ?", senderUID, false).
			Order("start DESC").
			First(&a).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return tx.Model(&model.Alert{}).Where("id = ?", a.ID).
			Updates(map[string]any{"cancelled": true, "cancelled_at": at}).Error
	})
	if err != nil {
		return false, fmt.Errorf("cancelling alert of %s: %w", senderUID, err)
	}
	return found, nil
}

// UpsertCasEvac upserts on uid, then each casualty line on (casevac_uid, index).
// Lines no longer present in the request are removed.
func (b *Backend) UpsertCasEvac(ctx context.Context, c *core.CasEvac) error {
	m, zmists := convert.CasEvacToModel(*c)
	m.ID = 0
	err := b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(upsertAll("uid")).Create(&m).Error; err != nil {
			return err
		}
		for i := range zmists {
			if err := tx.Clauses(upsertAll("casevac_uid", "line_index")).Create(&zmists[i]).Error; err != nil {
				return err
			}
		}
		return tx.Where("casevac_uid = ? AND line_index >= ?", c.UID, len(zmists)).Delete(&model.ZMist{}).Error
	})
	if err != nil {
		return fmt.Errorf("upserting casevac %s: %w", c.UID, err)
	}
	if err := b.resolveID(ctx, &model.CasEvac{}, &m.ID, "uid = ?", m.UID); err != nil {
		return fmt.Errorf("upserting casevac %s: %w", c.UID, err)
	}
	c.ID = m.ID
	return nil
}

// GetCasEvac loads a casevac with its casualty lines.
func (b *Backend) GetCasEvac(ctx context.Context, uid string) (core.CasEvac, error) {
	var m model.CasEvac
	if err := b.deps.DB.WithContext(ctx).Where("uid = ?", uid).First(&m).Error; err != nil {
		return core.CasEvac{}, err
	}
	var zmists []model.ZMist
	if err := b.deps.DB.WithContext(ctx).Where("casevac_uid = ?", uid).Order("line_index").Find(&zmists).Error; err != nil {
		return core.CasEvac{}, err
	}
	return convert.CasEvacFromModel(m, zmists), nil
}

// RecordGeoChat upserts on message id.
func (b *Backend) RecordGeoChat(ctx context.Context, g *core.GeoChat) error {
	m := convert.GeoChatToModel(*g)
	m.ID = 0
	if err := b.db(ctx).Clauses(upsertAll("message_id")).Create(&m).Error; err != nil {
		return fmt.Errorf("recording geochat %s: %w", g.MessageID, err)
	}
	if err := b.resolveID(ctx, &model.GeoChat{}, &m.ID, "message_id = ?", m.MessageID); err != nil {
		return fmt.Errorf("recording geochat %s: %w", g.MessageID, err)
	}
	g.ID = m.ID
	return nil
}

// UpsertChatroom upserts the room and merges members. An owner flag, once
// seen, is kept.
func (b *Backend) UpsertChatroom(ctx context.Context, c *core.Chatroom) error {
	room, members := convert.ChatroomToModel(*c)
	err := b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(upsertAll("room_id")).Create(&room).Error; err != nil {
			return err
		}
		for i := range members {
			conflict := clause.OnConflict{
				Columns:   []clause.Column{{Name: "room_id"}, {Name: "uid"}},
				DoNothing: true,
			}
			if members[i].Owner {
				conflict = clause.OnConflict{
					Columns:   []clause.Column{{Name: "room_id"}, {Name: "uid"}},
					DoUpdates: clause.AssignmentColumns([]string{"owner"}),
				}
			}
			if err := tx.Clauses(conflict).Create(&members[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upserting chatroom %s: %w", c.RoomID, err)
	}
	return nil
}

// ChatroomMembers lists the uids seen in a room.
func (b *Backend) ChatroomMembers(ctx context.Context, roomID string) ([]core.ChatroomMember, error) {
	var rows []model.ChatroomMember
	if err := b.deps.DB.WithContext(ctx).Where("room_id = ?", roomID).Order("uid").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]core.ChatroomMember, len(rows))
	for i, r := range rows {
		out[i] = core.ChatroomMember{RoomID: r.RoomID, UID: r.UID, Owner: r.Owner}
	}
	return out, nil
}

// UpsertVideo upserts on uid.
func (b *Backend) UpsertVideo(ctx context.Context, v *core.VideoAnnouncement) error {
	m := convert.VideoToModel(*v)
	m.ID = 0
	if err := b.db(ctx).Clauses(upsertAll("uid")).Create(&m).Error; err != nil {
		return fmt.Errorf("upserting video %s: %w", v.UID, err)
	}
	if err := b.resolveID(ctx, &model.VideoStream{}, &m.ID, "uid = ?", m.UID); err != nil {
		return fmt.Errorf("upserting video %s: %w", v.UID, err)
	}
	v.ID = m.ID
	return nil
}

// UpsertRangeBearingLine upserts on uid.
func (b *Backend) UpsertRangeBearingLine(ctx context.Context, rb *core.RangeBearingLine) error {
	m := convert.RangeBearingLineToModel(*rb)
	m.ID = 0
	if err := b.db(ctx).Clauses(upsertAll("uid")).Create(&m).Error; err != nil {
		return fmt.Errorf("upserting range bearing line %s: %w", rb.UID, err)
	}
	if err := b.resolveID(ctx, &model.RangeBearingLine{}, &m.ID, "uid = ?", m.UID); err != nil {
		return fmt.Errorf("upserting range bearing line %s: %w", rb.UID, err)
	}
	rb.ID = m.ID
	return nil
}

// UpsertDeviceTelemetry upserts the EUD row on uid.
func (b *Backend) UpsertDeviceTelemetry(ctx context.Context, t *core.DeviceTelemetry) error {
	m := convert.TelemetryToEUD(*t)
	if err := b.db(ctx).Clauses(upsertAll("uid")).Create(&m).Error; err != nil {
		return fmt.Errorf("upserting eud %s: %w", t.UID, err)
	}
	return nil
}

// GetDeviceTelemetry loads an EUD row.
func (b *Backend) GetDeviceTelemetry(ctx context.Context, uid string) (core.DeviceTelemetry, error) {
	var m model.EUD
	if err := b.deps.DB.WithContext(ctx).Where("uid = ?", uid).First(&m).Error; err != nil {
		return core.DeviceTelemetry{}, err
	}
	return convert.EUDToTelemetry(m), nil
}

// MarkDeviceDisconnected flags an EUD as disconnected. Unknown uids are ignored.
func (b *Backend) MarkDeviceDisconnected(ctx context.Context, uid string, at time.Time) error {
	err := b.deps.DB.WithContext(ctx).Model(&model.EUD{}).Where("uid = ?", uid).
		Updates(map[string]any{"status": core.DeviceDisconnected, "last_event_time": at}).Error
	if err != nil {
		return fmt.Errorf("disconnecting eud %s: %w", uid, err)
	}
	return nil
}

// UpsertIcon adds or replaces a catalog entry.
func (b *Backend) UpsertIcon(ctx context.Context, icon core.Icon) error {
	m := model.Icon{
		IconsetPath: icon.IconsetPath,
		IconsetUID:  icon.IconsetUID,
		Filename:    icon.Filename,
		Group:       icon.Group,
	}
	if err := b.db(ctx).Clauses(upsertAll("iconset_path")).Create(&m).Error; err != nil {
		return fmt.Errorf("upserting icon %s: %w", icon.IconsetPath, err)
	}
	return nil
}

// LookupIcon resolves an iconset path, falling back to a match on the file name.
func (b *Backend) LookupIcon(ctx context.Context, iconsetPath string) (string, bool) {
	var m model.Icon
	db := b.deps.DB.WithContext(ctx)
	err := db.Where("iconset_path = ?", iconsetPath).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = db.Where("filename = ?", path.Base(iconsetPath)).First(&m).Error
	}
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			b.deps.Logger.Warn("icon lookup failed", "path", iconsetPath, "error", err)
		}
		return "", false
	}
	return core.Icon{Filename: m.Filename, Group: m.Group}.Path(), true
}
