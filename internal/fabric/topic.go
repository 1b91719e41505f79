package fabric

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Subject layout. Names are base64url encoded so that dots, spaces and
// wildcards in uids or room names cannot change the subject hierarchy.
const (
	SubjectPrefix    = "cot"
	SubjectIngest    = "cot.ingest"
	SubjectBroadcast = "cot.broadcast"
	IngestQueue      = "cot-decoders"

	// HeaderOrigin carries the uid of the device that produced a message.
	HeaderOrigin = "Cot-Origin"
)

// TopicKind is the class of a topic.
type TopicKind int

const (
	TopicBroadcast TopicKind = iota
	TopicDevice
	TopicCallsign
	TopicChatroom
	TopicMission
	topicControl
)

var kindSegment = map[TopicKind]string{
	TopicBroadcast: "broadcast",
	TopicDevice:    "device",
	TopicCallsign:  "callsign",
	TopicChatroom:  "chatroom",
	TopicMission:   "mission",
	topicControl:   "control",
}

func (k TopicKind) String() string {
	if s, ok := kindSegment[k]; ok {
		return s
	}
	return fmt.Sprintf("TopicKind(%d)", int(k))
}

// Topic is something a device channel can be bound to or a publish can target.
type Topic struct {
	Kind TopicKind
	Name string
}

func Broadcast() Topic { return Topic{Kind: TopicBroadcast} }
func Device(uid string) Topic { return Topic{Kind: TopicDevice, Name: uid} }
func Callsign(cs string) Topic { return Topic{Kind: TopicCallsign, Name: cs} }
func Chatroom(room string) Topic { return Topic{Kind: TopicChatroom, Name: room} }
func Mission(name string) Topic { return Topic{Kind: TopicMission, Name: name} }
func controlTopic(uid string) Topic { return Topic{Kind: topicControl, Name: uid} }

func (t Topic) String() string {
	if t.Kind == TopicBroadcast {
		return t.Kind.String()
	}
	return t.Kind.String() + ":" + t.Name
}

// Subject returns the NATS subject for t.
func (t Topic) Subject() string {
	if t.Kind == TopicBroadcast {
		return SubjectBroadcast
	}
	return SubjectPrefix + "." + t.Kind.String() + "." + encodeName(t.Name)
}

// ParseSubject is the inverse of Subject.
func ParseSubject(subject string) (Topic, error) {
	if subject == SubjectBroadcast {
		return Broadcast(), nil
	}
	parts := strings.SplitN(subject, ".", 3)
	if len(parts) != 3 || parts[0] != SubjectPrefix {
		return Topic{}, fmt.Errorf("%w: %q", ErrUnknownTopic, subject)
	}
	for kind, seg := range kindSegment {
		if seg != parts[1] || kind == TopicBroadcast {
			continue
		}
		name, err := base64.RawURLEncoding.DecodeString(parts[2])
		if err != nil {
			return Topic{}, fmt.Errorf("%w: %q: %v", ErrUnknownTopic, subject, err)
		}
		return Topic{Kind: kind, Name: string(name)}, nil
	}
	return Topic{}, fmt.Errorf("%w: %q", ErrUnknownTopic, subject)
}

func encodeName(name string) string {
	if name == "" {
		// an empty token is not a valid subject
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}
