package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableNames(t *testing.T) {
	tests := []struct {
		name     string
		model    interface{ TableName() string }
		expected string
	}{
		{"User", &User{}, "users"},
		{"Icon", &Icon{}, "icons"},
		{"CotEvent", &CotEvent{}, "cot_events"},
		{"Point", &Point{}, "points"},
		{"Marker", &Marker{}, "markers"},
		{"Alert", &Alert{}, "alerts"},
		{"CasEvac", &CasEvac{}, "casevacs"},
		{"ZMist", &ZMist{}, "casevac_zmists"},
		{"GeoChat", &GeoChat{}, "geochats"},
		{"Chatroom", &Chatroom{}, "chatrooms"},
		{"ChatroomMember", &ChatroomMember{}, "chatroom_members"},
		{"VideoStream", &VideoStream{}, "video_streams"},
		{"RangeBearingLine", &RangeBearingLine{}, "rb_lines"},
		{"EUD", &EUD{}, "euds"},
		{"Mission", &Mission{}, "missions"},
		{"MissionMembership", &MissionMembership{}, "mission_memberships"},
		{"MissionChange", &MissionChange{}, "mission_changes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.model.TableName())
		})
	}
}

func TestDatabaseModelsComplete(t *testing.T) {
	assert.Len(t, DatabaseModels, 17)
}
