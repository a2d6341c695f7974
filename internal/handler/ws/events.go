package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"pulse-backend/internal/service/relay"
	"pulse-backend/internal/service/signaling"
	"pulse-backend/pkg/constants"
	apperrors "pulse-backend/pkg/errors"
	"pulse-backend/pkg/logger"
	"pulse-backend/pkg/metrics"
)

// Gateway events
const (
	EventUserOnline  = "userOnline"
	EventOnlineUsers = "onlineUsers"
	EventJoinRoom    = "joinRoom"
	EventLeaveRoom   = "leaveRoom"
	EventAck         = "ack"
	EventError       = "error"
)

// RoomRequest is the payload for joinRoom and leaveRoom
type RoomRequest struct {
	Room string `json:"room"`
}

// AckPayload answers a client event that carried an ackId
type AckPayload struct {
	OK      bool        `json:"ok"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorPayload reports a failed event that carried no ackId
type ErrorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type eventFunc func(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error)

// ack replies at most once per inbound event
type ack struct {
	once   sync.Once
	client *Client
	event  string
	id     json.RawMessage
}

func (a *ack) ok(data interface{}) {
	a.once.Do(func() {
		if len(a.id) == 0 {
			return
		}
		if msg, ok := encode(EventAck, a.id, AckPayload{OK: true, Data: data}); ok {
			a.client.enqueue(msg)
		}
	})
}

func (a *ack) fail(ctx context.Context, err error) {
	a.once.Do(func() {
		appErr := apperrors.GetAppError(err)
		metrics.AckFailuresTotal.WithLabelValues(a.event, string(appErr.Code)).Inc()

		if appErr.StatusCode >= http.StatusInternalServerError {
			logger.FromContext(ctx).Error("Event failed",
				zap.String("event", a.event),
				zap.String("username", a.client.username),
				zap.Error(err))
		} else {
			logger.FromContext(ctx).Debug("Event rejected",
				zap.String("event", a.event),
				zap.String("code", string(appErr.Code)))
		}

		if len(a.id) == 0 {
			// Busy and unavailable were already reported with their own event
			if signaling.IsHandled(err) {
				return
			}
			if msg, ok := encode(EventError, nil, ErrorPayload{
				Event:   a.event,
				Code:    string(appErr.Code),
				Message: appErr.Message,
			}); ok {
				a.client.enqueue(msg)
			}
			return
		}

		if msg, ok := encode(EventAck, a.id, AckPayload{
			OK:      false,
			Error:   appErr.Message,
			Code:    string(appErr.Code),
			Details: appErr.Details,
		}); ok {
			a.client.enqueue(msg)
		}
	})
}

// dispatch decodes one frame and runs its handler. A panicking handler is
// contained to the event and answered with an internal error.
func (h *Handler) dispatch(c *Client, raw []byte) {
	ctx, cancel := context.WithTimeout(logger.WithConnectionID(context.Background(), c.id), constants.DefaultTimeout)
	defer cancel()

	var in frame
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		metrics.WebSocketEventsTotal.WithLabelValues("malformed").Inc()
		a := &ack{client: c, event: "malformed"}
		a.fail(ctx, apperrors.ValidationError("Malformed frame"))
		return
	}

	fn, known := h.events[in.Event]
	if !known {
		metrics.WebSocketEventsTotal.WithLabelValues("unknown").Inc()
		a := &ack{client: c, event: "unknown", id: in.AckID}
		a.fail(ctx, apperrors.ValidationError("Unknown event"))
		return
	}
	metrics.WebSocketEventsTotal.WithLabelValues(in.Event).Inc()

	a := &ack{client: c, event: in.Event, id: in.AckID}
	defer func() {
		if r := recover(); r != nil {
			metrics.EventPanicTotal.Inc()
			logger.FromContext(ctx).Error("Panic in event handler",
				zap.String("event", in.Event),
				zap.Any("panic", r))
			a.fail(ctx, apperrors.InternalError("Something went wrong"))
		}
	}()

	data, err := fn(ctx, c, in.Data)
	if err != nil {
		a.fail(ctx, err)
		return
	}
	a.ok(data)
}

func isEmpty(data json.RawMessage) bool {
	return len(data) == 0 || string(data) == "null"
}

func decode(data json.RawMessage, v interface{}) error {
	if isEmpty(data) {
		return apperrors.ValidationError("Payload is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.ValidationError("Invalid payload")
	}
	return nil
}

func (h *Handler) routes() map[string]eventFunc {
	return map[string]eventFunc{
		EventUserOnline: h.onUserOnline,
		EventJoinRoom:   h.onJoinRoom,
		EventLeaveRoom:  h.onLeaveRoom,

		relay.EventSendMessage:   h.onSendMessage,
		relay.EventEditMessage:   h.onEditMessage,
		relay.EventDeleteMessage: h.onDeleteMessage,
		relay.EventReactMessage:  h.onReactMessage,
		relay.EventMessageSeen:   h.onMessageSeen,
		relay.EventTyping:        h.onTyping,

		signaling.EventCallOffer:    h.onCallOffer,
		signaling.EventCallAnswer:   h.onCallAnswer,
		signaling.EventIceCandidate: h.onIceCandidate,
		signaling.EventCallReject:   h.onCallReject,
		signaling.EventHangup:       h.onHangup,
	}
}

// onUserOnline lets a client ask for the visible online list again; the
// connection itself was registered during the handshake
func (h *Handler) onUserOnline(ctx context.Context, c *Client, _ json.RawMessage) (interface{}, error) {
	online := h.presence.VisibleOnlineUsernames(ctx)
	h.hub.ToConnection(c.id, EventOnlineUsers, online)
	return online, nil
}

func (h *Handler) onJoinRoom(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error) {
	var req RoomRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if !relay.IsMember(req.Room, c.username) {
		return nil, apperrors.ForbiddenError("Not a member of this room")
	}
	h.hub.join(c, req.Room)
	return RoomRequest{Room: req.Room}, nil
}

func (h *Handler) onLeaveRoom(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error) {
	var req RoomRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	h.hub.leave(c, req.Room)
	return nil, nil
}

func (h *Handler) onSendMessage(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error) {
	var req relay.SendRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return h.chat.Send(ctx, c.id, c.username, req)
}

func (h *Handler) onEditMessage(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error) {
	var req relay.EditRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return h.chat.Edit(ctx, c.username, req)
}

func (h *Handler) onDeleteMessage(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error) {
	var req relay.DeleteRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return h.chat.Delete(ctx, c.username, req)
}

func (h *Handler) onReactMessage(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error) {
	var req relay.ReactRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return h.chat.React(ctx, c.username, req)
}

func (h *Handler) onMessageSeen(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error) {
	var req relay.SeenRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return nil, h.chat.Seen(ctx, c.username, req)
}

func (h *Handler) onTyping(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error) {
	var req relay.TypingRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return nil, h.chat.Typing(ctx, c.id, c.username, req)
}

func (h *Handler) onCallOffer(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error) {
	var req signaling.OfferRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return nil, h.calls.Offer(ctx, c.id, c.username, req)
}

func (h *Handler) onCallAnswer(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error) {
	var req signaling.AnswerRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return nil, h.calls.Answer(ctx, c.username, req)
}

func (h *Handler) onIceCandidate(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error) {
	var req signaling.IceCandidateRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return nil, h.calls.IceCandidate(ctx, c.username, req)
}

func (h *Handler) onCallReject(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error) {
	var req signaling.RejectRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return nil, h.calls.Reject(ctx, c.username, req.To, req.Reason)
}

func (h *Handler) onHangup(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error) {
	var req signaling.HangupRequest
	if !isEmpty(data) {
		if err := decode(data, &req); err != nil {
			return nil, err
		}
	}
	return nil, h.calls.Hangup(ctx, c.username, req.To, req.Reason)
}
