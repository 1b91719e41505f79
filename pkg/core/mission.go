// pkg/core/mission.go
package core

import "time"

// MissionMembership records that a device takes part in a mission.
// Natural key: Mission, UID.
type MissionMembership struct {
	Mission string
	UID     string
	Time    time.Time
}

// Mission change types.
const (
	MissionChangeAddContent = "ADD_CONTENT"
	MissionChangeSubscribe  = "SUBSCRIBE"
)

// MissionChange is an append-only audit entry for a mission.
type MissionChange struct {
	Mission    string
	ChangeType string
	CreatorUID string
	ContentUID string
	CotType    string
	Time       time.Time
}
