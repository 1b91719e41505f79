package mission

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cotrelay/server/internal/model"
	"github.com/cotrelay/server/pkg/core"
)

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Gorm)(nil)
)

type testStore interface {
	Store
	CreateMission(ctx context.Context, name, creatorUID string) error
}

func newGorm(t *testing.T) *Gorm {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Mission{}, &model.MissionMembership{}, &model.MissionChange{}))
	return NewGorm(db)
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestStores(t *testing.T) {
	g := newGorm(t)
	stores := map[string]testStore{"memory": NewMemory(), "gorm": g}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateMission(ctx, "op-1", "ANDROID-0"))
			require.NoError(t, s.CreateMission(ctx, "op-1", "ANDROID-0"))

			ok, err := s.MissionExists(ctx, "op-1")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = s.MissionExists(ctx, "op-2")
			require.NoError(t, err)
			assert.False(t, ok)

			doc := core.CotRecord{UID: "marker-1", Type: "a-h-G", Time: t0}
			require.NoError(t, s.RecordMembership(ctx, "ANDROID-1", "op-1", doc))
			doc.Time = t0.Add(time.Minute)
			require.NoError(t, s.RecordMembership(ctx, "ANDROID-1", "op-1", doc))
			require.NoError(t, s.RecordMembership(ctx, "ANDROID-1", "op-0", doc))

			missions, err := s.MissionsFor(ctx, "ANDROID-1")
			require.NoError(t, err)
			assert.Equal(t, []string{"op-0", "op-1"}, missions)

			missions, err = s.MissionsFor(ctx, "ANDROID-2")
			require.NoError(t, err)
			assert.Empty(t, missions)
		})
	}
}

func TestChangeLog(t *testing.T) {
	ctx := context.Background()
	doc := core.CotRecord{UID: "marker-1", Type: "a-h-G", Time: t0}

	mem := NewMemory("op-1")
	require.NoError(t, mem.RecordMembership(ctx, "ANDROID-1", "op-1", doc))
	require.NoError(t, mem.RecordMembership(ctx, "ANDROID-1", "op-1", doc))

	g := newGorm(t)
	require.NoError(t, g.RecordMembership(ctx, "ANDROID-1", "op-1", doc))
	require.NoError(t, g.RecordMembership(ctx, "ANDROID-1", "op-1", doc))
	gormChanges, err := g.Changes(ctx, "op-1")
	require.NoError(t, err)

	for name, changes := range map[string][]core.MissionChange{"memory": mem.Changes("op-1"), "gorm": gormChanges} {
		t.Run(name, func(t *testing.T) {
			require.Len(t, changes, 3)
			assert.Equal(t, core.MissionChangeSubscribe, changes[0].ChangeType)
			assert.Equal(t, core.MissionChangeAddContent, changes[1].ChangeType)
			assert.Equal(t, "marker-1", changes[1].ContentUID)
			assert.Equal(t, "a-h-G", changes[1].CotType)
			assert.Equal(t, core.MissionChangeAddContent, changes[2].ChangeType)
		})
	}
}

func TestChangesFor_ZeroTime(t *testing.T) {
	changes := changesFor("U", "m", core.CotRecord{UID: "x"}, false)
	require.Len(t, changes, 1)
	assert.False(t, changes[0].Time.IsZero())
}
