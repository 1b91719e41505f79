package mission

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cotrelay/server/internal/model"
	"github.com/cotrelay/server/pkg/core"
)

// Gorm is a Store on the missions, mission_memberships and
// mission_changes tables.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// CreateMission adds a mission; an existing name is left untouched.
func (g *Gorm) CreateMission(ctx context.Context, name, creatorUID string) error {
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&model.Mission{Name: name, CreatorUID: creatorUID}).Error
	if err != nil {
		return fmt.Errorf("create mission %s: %w", name, err)
	}
	return nil
}

func (g *Gorm) MissionExists(ctx context.Context, name string) (bool, error) {
	var n int64
	if err := g.db.WithContext(ctx).Model(&model.Mission{}).Where("name = ?", name).Count(&n).Error; err != nil {
		return false, fmt.Errorf("lookup mission %s: %w", name, err)
	}
	return n > 0, nil
}

func (g *Gorm) RecordMembership(ctx context.Context, uid, name string, doc core.CotRecord) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.MissionMembership{}).Where("mission = ? AND uid = ?", name, uid).Count(&n).Error; err != nil {
			return fmt.Errorf("lookup membership: %w", err)
		}

		membership := model.MissionMembership{Mission: name, UID: uid, Time: doc.Time}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mission"}, {Name: "uid"}},
			DoUpdates: clause.AssignmentColumns([]string{"time"}),
		}).Create(&membership).Error
		if err != nil {
			return fmt.Errorf("upsert membership: %w", err)
		}

		details, err := json.Marshal(map[string]string{"callsign": doc.Callsign, "how": doc.How})
		if err != nil {
			return fmt.Errorf("marshal change details: %w", err)
		}
		for _, c := range changesFor(uid, name, doc, n == 0) {
			row := model.MissionChange{
				Mission:    c.Mission,
				ChangeType: c.ChangeType,
				CreatorUID: c.CreatorUID,
				ContentUID: c.ContentUID,
				CotType:    c.CotType,
				Details:    datatypes.JSON(details),
				Time:       c.Time,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("append mission change: %w", err)
			}
		}
		return nil
	})
}

func (g *Gorm) MissionsFor(ctx context.Context, uid string) ([]string, error) {
	var names []string
	err := g.db.WithContext(ctx).Model(&model.MissionMembership{}).
		Where("uid = ?", uid).Order("mission").Pluck("mission", &names).Error
	if err != nil {
		return nil, fmt.Errorf("missions for %s: %w", uid, err)
	}
	return names, nil
}

// Changes returns the change log of name oldest first.
func (g *Gorm) Changes(ctx context.Context, name string) ([]core.MissionChange, error) {
	var rows []model.MissionChange
	if err := g.db.WithContext(ctx).Where("mission = ?", name).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("changes for %s: %w", name, err)
	}
	out := make([]core.MissionChange, len(rows))
	for i, r := range rows {
		out[i] = core.MissionChange{
			Mission:    r.Mission,
			ChangeType: r.ChangeType,
			CreatorUID: r.CreatorUID,
			ContentUID: r.ContentUID,
			CotType:    r.CotType,
			Time:       r.Time,
		}
	}
	return out, nil
}
