package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cotrelay/server/pkg/core"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		want   core.Directive
	}{
		{
			name: "no detail is broadcast",
			want: core.Directive{Kind: core.RouteBroadcast},
		},
		{
			name:   "callsign destinations",
			detail: `<detail><marti><dest callsign="BRAVO"/><dest callsign="CHARLIE"/></marti></detail>`,
			want:   core.Directive{Kind: core.RouteDirect, Callsigns: []string{"BRAVO", "CHARLIE"}},
		},
		{
			name:   "uid and callsign destinations",
			detail: `<detail><marti><dest uid="ANDROID-2"/><dest callsign="BRAVO"/></marti></detail>`,
			want:   core.Directive{Kind: core.RouteDirect, UIDs: []string{"ANDROID-2"}, Callsigns: []string{"BRAVO"}},
		},
		{
			name:   "direct wins over mission and chat",
			detail: `<detail><marti><dest mission="Op"/><dest uid="ANDROID-2"/></marti><__chat chatroom="All Chat Rooms"/></detail>`,
			want:   core.Directive{Kind: core.RouteDirect, UIDs: []string{"ANDROID-2"}},
		},
		{
			name:   "mission",
			detail: `<detail><marti><dest mission="Op Lake"/></marti></detail>`,
			want:   core.Directive{Kind: core.RouteMission, Missions: []string{"Op Lake"}},
		},
		{
			name:   "mission wins over chat",
			detail: `<detail><marti><dest mission="Op"/></marti><__chat chatroom="All Chat Rooms"/></detail>`,
			want:   core.Directive{Kind: core.RouteMission, Missions: []string{"Op"}},
		},
		{
			name:   "all chat rooms",
			detail: `<detail><__chat chatroom="All Chat Rooms" senderCallsign="ALPHA"/><remarks>hi</remarks></detail>`,
			want:   core.Directive{Kind: core.RouteChatroom, Room: "All Chat Rooms"},
		},
		{
			name:   "named room without destinations is broadcast",
			detail: `<detail><__chat chatroom="Ops"/></detail>`,
			want:   core.Directive{Kind: core.RouteBroadcast},
		},
		{
			name:   "empty marti is broadcast",
			detail: `<detail><marti/></detail>`,
			want:   core.Directive{Kind: core.RouteBroadcast},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := event(t, doc("U", "b-t-f", "h-g-i-g-o", tt.detail))
			assert.Equal(t, tt.want, Route(e))
		})
	}
}

func TestRouteKindString(t *testing.T) {
	assert.Equal(t, "broadcast", core.RouteBroadcast.String())
	assert.Equal(t, "mission", core.RouteMission.String())
	assert.Equal(t, "unknown", core.RouteKind(42).String())
}
