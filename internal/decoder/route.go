package decoder

import (
	"github.com/cotrelay/server/internal/cot"
	"github.com/cotrelay/server/pkg/core"
)

// Route derives the routing directive. Explicit callsign/uid destinations
// win over mission destinations, which win over the all-rooms chat tag.
// Anything else is broadcast.
func Route(e *cot.Event) core.Directive {
	if e.Detail == nil {
		return core.Directive{Kind: core.RouteBroadcast}
	}

	if m := e.Detail.Marti; m != nil {
		var direct core.Directive
		var missions []string
		for _, dest := range m.Dest {
			switch {
			case dest.UID != "":
				direct.UIDs = append(direct.UIDs, dest.UID)
			case dest.Callsign != "":
				direct.Callsigns = append(direct.Callsigns, dest.Callsign)
			case dest.Mission != "":
				missions = append(missions, dest.Mission)
			}
		}
		if len(direct.UIDs) > 0 || len(direct.Callsigns) > 0 {
			direct.Kind = core.RouteDirect
			return direct
		}
		if len(missions) > 0 {
			return core.Directive{Kind: core.RouteMission, Missions: missions}
		}
	}

	if c := e.Detail.Chat; c != nil && c.Chatroom == cot.AllChatRooms {
		return core.Directive{Kind: core.RouteChatroom, Room: cot.AllChatRooms}
	}

	return core.Directive{Kind: core.RouteBroadcast}
}
