// internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/cotrelay/server/pkg/core"
)

// Backend is the persistence collaborator of the decoder. Every write is an
// insert-or-update by the fact's natural key; duplicates are never errors.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Canonical record and position (assign ID to the passed pointer)
	RecordCot(ctx context.Context, c *core.CotRecord) error
	UpsertPoint(ctx context.Context, p *core.Point) error

	// Point dependent facts
	UpsertMarker(ctx context.Context, m *core.Marker) error
	RecordAlert(ctx context.Context, a *core.Alert) error
	// CancelAlert closes the newest open alert raised by senderUID.
	// It reports whether one was found.
	CancelAlert(ctx context.Context, senderUID string, at time.Time) (bool, error)
	UpsertCasEvac(ctx context.Context, c *core.CasEvac) error
	RecordGeoChat(ctx context.Context, g *core.GeoChat) error
	UpsertChatroom(ctx context.Context, c *core.Chatroom) error
	UpsertVideo(ctx context.Context, v *core.VideoAnnouncement) error
	UpsertRangeBearingLine(ctx context.Context, rb *core.RangeBearingLine) error

	// Devices
	UpsertDeviceTelemetry(ctx context.Context, t *core.DeviceTelemetry) error
	MarkDeviceDisconnected(ctx context.Context, uid string, at time.Time) error

	// Icon catalog
	UpsertIcon(ctx context.Context, icon core.Icon) error
	LookupIcon(ctx context.Context, iconsetPath string) (string, bool)
}
