package http

import (
	"encoding/json"
	"strconv"

	"github.com/samber/lo"

	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/proto"
	"github.com/vovakirdan/wiredm/internal/store"
)

// inboundAction is what the WebSocket bridge does with a decoded frame.
// Exactly one of Command and RelayID is set for a valid frame.
type inboundAction struct {
	Command *core.Command
	RelayID int64
}

func inboundToAction(client *core.Client, inbound proto.Inbound) (inboundAction, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeJoin:
		var join proto.JoinData
		if err := decodeData(inbound.Data, &join); err != nil || join.UserID == 0 {
			return inboundAction{}, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "user_id is required"}
		}
		if join.UserID != client.UserID {
			return inboundAction{}, &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "cannot join another user's channel"}
		}
		return inboundAction{Command: &core.Command{
			Kind:    core.CommandJoin,
			Channel: core.ChannelName(join.UserID),
		}}, nil
	case proto.InboundTypeLeave:
		return inboundAction{Command: &core.Command{Kind: core.CommandLeave}}, nil
	case proto.InboundTypeNewMessage:
		var msg proto.NewMessageData
		if err := decodeData(inbound.Data, &msg); err != nil || msg.ID == 0 {
			return inboundAction{}, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "message id is required"}
		}
		return inboundAction{RelayID: msg.ID}, nil
	default:
		return inboundAction{}, &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "unknown message type"}
	}
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(raw, v)
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventJoined:
		id, _ := strconv.ParseInt(event.Channel, 10, 64)
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventJoined,
			Data:  proto.EventJoinedData{UserID: id},
		}
	case core.EventLeft:
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: proto.EventLeft}
	case core.EventReceiveMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventReceiveMessage,
			Data:  coreToProtoMessage(event.Message),
		}
	case core.EventMessageRead, core.EventConversationRead:
		name := proto.EventMessageRead
		if event.Kind == core.EventConversationRead {
			name = proto.EventConversationRead
		}
		var data proto.EventReadData
		if event.Receipt != nil {
			data = proto.EventReadData{
				MessageID: event.Receipt.MessageID,
				ReaderID:  event.Receipt.ReaderID,
				Count:     event.Receipt.Count,
			}
		}
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: data}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: core.ErrCodeInternal, Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func coreToProtoMessage(m *core.Message) proto.Message {
	if m == nil {
		return proto.Message{}
	}
	return proto.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt.UnixMilli(),
		Read:       m.Read,
	}
}

func toProtoMessage(m *store.Message) proto.Message {
	return proto.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt.UnixMilli(),
		Read:       m.Read,
	}
}

func toProtoMessages(msgs []*store.Message) []proto.Message {
	return lo.Map(msgs, func(m *store.Message, _ int) proto.Message {
		return toProtoMessage(m)
	})
}

func toUserResponses(users []*store.User) []UserResponse {
	return lo.Map(users, func(u *store.User, _ int) UserResponse {
		return UserResponse{ID: u.ID, Username: u.Username, Name: u.Name, Image: u.Image}
	})
}

// toUnreadSummary keys counts by the sender id as a string, which is how JSON
// objects carry them.
func toUnreadSummary(counts map[int64]int) map[string]int {
	return lo.MapKeys(counts, func(_ int, senderID int64) string {
		return strconv.FormatInt(senderID, 10)
	})
}
