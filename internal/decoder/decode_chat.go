package decoder

import (
	"fmt"

	"github.com/cotrelay/server/internal/cot"
	"github.com/cotrelay/server/internal/util"
	"github.com/cotrelay/server/pkg/core"
)

// ExtractGeoChat returns the message and the room membership it reveals.
// Documents without <remarks> are ignored.
func ExtractGeoChat(e *cot.Event, senderUID string) (*core.GeoChat, *core.Chatroom, error) {
	if e.Detail == nil || e.Detail.Chat == nil {
		return nil, nil, nil
	}
	if e.Detail.Remarks == nil {
		return nil, nil, nil
	}
	chat := e.Detail.Chat

	roomID := util.FirstNonEmpty(chat.ID, chat.Chatroom)
	if roomID == "" {
		return nil, nil, fmt.Errorf("chatroom id: %w", ErrMissingField)
	}
	messageID := util.FirstNonEmpty(chat.MessageID, e.UID)

	msg := &core.GeoChat{
		MessageID:      messageID,
		SenderUID:      senderUID,
		SenderCallsign: chat.SenderCallsign,
		Chatroom:       chat.Chatroom,
		ChatroomID:     roomID,
		Parent:         chat.Parent,
		Text:           e.Detail.Remarks.Text,
		Time:           e.EventTime(),
	}

	room := &core.Chatroom{
		RoomID: roomID,
		Name:   util.FirstNonEmpty(chat.Chatroom, roomID),
		Parent: chat.Parent,
	}

	if grp := chat.ChatGroup; grp != nil {
		owner := util.Bool(chat.GroupOwner)
		first, hasFirst := grp.Member(0)
		for _, uid := range grp.Members() {
			room.Members = append(room.Members, core.ChatroomMember{
				RoomID: roomID,
				UID:    uid,
				Owner:  owner && hasFirst && uid == first,
			})
		}
		msg.GroupOwner = owner && hasFirst && first == senderUID
	}

	return msg, room, nil
}
