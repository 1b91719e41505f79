// pkg/core/routing.go
package core

// RouteKind classifies where a document is delivered.
type RouteKind int

const (
	RouteBroadcast RouteKind = iota
	RouteDirect
	RouteChatroom
	RouteMission
)

func (k RouteKind) String() string {
	switch k {
	case RouteBroadcast:
		return "broadcast"
	case RouteDirect:
		return "direct"
	case RouteChatroom:
		return "chatroom"
	case RouteMission:
		return "mission"
	}
	return "unknown"
}

// Directive is the routing decision for one document. Exactly one Kind applies.
type Directive struct {
	Kind      RouteKind
	UIDs      []string // RouteDirect
	Callsigns []string // RouteDirect
	Room      string   // RouteChatroom
	Missions  []string // RouteMission
}
