// Package relay persists direct messages and fans them out to the room.
package relay

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulse-backend/internal/domain"
	"pulse-backend/internal/ratelimit"
	"pulse-backend/internal/service/moderation"
	"pulse-backend/pkg/constants"
	apperrors "pulse-backend/pkg/errors"
	"pulse-backend/pkg/logger"
	"pulse-backend/pkg/metrics"
)

// MessageStore persists messages
type MessageStore interface {
	Insert(ctx context.Context, message *domain.Message) error
	FindByID(ctx context.Context, messageID string) (*domain.Message, error)
	UpdateText(ctx context.Context, messageID, text string, editedAt time.Time) error
	Delete(ctx context.Context, messageID string) error
	SetReaction(ctx context.Context, messageID, username, emoji string) error
	RemoveReaction(ctx context.Context, messageID, username string) error
	MarkSeen(ctx context.Context, messageID string, seenAt time.Time) error
}

// Limiter throttles sends per actor
type Limiter interface {
	Check(ctx context.Context, action, actor string) error
}

// Policy decides whether sender may message receiver
type Policy interface {
	AllowMessage(ctx context.Context, sender, receiver string) (*domain.User, error)
}

// Moderator screens message text
type Moderator interface {
	Check(text string) *moderation.Issue
}

// Notifier stores an offline notification for the receiver
type Notifier interface {
	NotifyMessage(ctx context.Context, receiverID uuid.UUID, message *domain.Message) error
}

// Emitter broadcasts to every connection joined to a room except one
type Emitter interface {
	ToRoom(room, event string, payload interface{}, exceptConnID string)
}

// Config holds the relay windows
type Config struct {
	EditWindow   time.Duration
	DeleteWindow time.Duration
}

// Service handles chat events
type Service struct {
	store     MessageStore
	limiter   Limiter
	policy    Policy
	moderator Moderator
	notifier  Notifier
	emitter   Emitter
	clock     clock.Clock
	cfg       Config
}

// NewService creates a new relay service
func NewService(
	store MessageStore,
	limiter Limiter,
	policy Policy,
	moderator Moderator,
	notifier Notifier,
	emitter Emitter,
	clk clock.Clock,
	cfg Config,
) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.EditWindow <= 0 {
		cfg.EditWindow = constants.MessageEditWindow
	}
	if cfg.DeleteWindow <= 0 {
		cfg.DeleteWindow = constants.MessageDeleteWindow
	}
	return &Service{
		store:     store,
		limiter:   limiter,
		policy:    policy,
		moderator: moderator,
		notifier:  notifier,
		emitter:   emitter,
		clock:     clk,
		cfg:       cfg,
	}
}

// Send validates, stores and relays a new message. The returned response is
// the ack payload for the sender.
func (s *Service) Send(ctx context.Context, connID, sender string, req SendRequest) (*domain.MessageResponse, error) {
	if err := s.limiter.Check(ctx, ratelimit.ActionMessage, sender); err != nil {
		metrics.ChatMessagesTotal.WithLabelValues("send", "rate_limited").Inc()
		return nil, err
	}

	kind := req.Kind
	if kind == "" {
		kind = domain.MessageKindText
	}
	if err := validateSend(sender, req, kind); err != nil {
		metrics.ChatMessagesTotal.WithLabelValues("send", "invalid").Inc()
		return nil, err
	}

	receiver, err := s.policy.AllowMessage(ctx, sender, req.ReceiverID)
	if err != nil {
		metrics.ChatMessagesTotal.WithLabelValues("send", "denied").Inc()
		return nil, err
	}

	if err := s.screen(req.Text); err != nil {
		metrics.ChatMessagesTotal.WithLabelValues("send", "moderated").Inc()
		return nil, err
	}

	message := &domain.Message{
		MessageID: uuid.New().String(),
		Room:      req.Room,
		Sender:    sender,
		Receiver:  req.ReceiverID,
		Text:      req.Text,
		Kind:      kind,
		MediaURL:  req.MediaURL,
		Reactions: map[string]string{},
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.store.Insert(ctx, message); err != nil {
		metrics.ChatMessagesTotal.WithLabelValues("send", "error").Inc()
		logger.FromContext(ctx).Error("Failed to store message",
			zap.String("room", req.Room),
			zap.Error(err))
		return nil, apperrors.ServiceUnavailableError(err)
	}

	response := message.ToResponse()
	s.emitter.ToRoom(message.Room, EventReceiveMessage, response, connID)
	metrics.ChatMessagesTotal.WithLabelValues("send", "ok").Inc()

	if s.notifier != nil {
		if err := s.notifier.NotifyMessage(ctx, receiver.UserID, message); err != nil {
			logger.FromContext(ctx).Warn("Failed to store message notification",
				zap.String("message_id", message.MessageID),
				zap.Error(err))
		}
	}

	return response, nil
}

// Edit replaces the text of a message the requester sent within the edit window
func (s *Service) Edit(ctx context.Context, requester string, req EditRequest) (*MessageEditedPayload, error) {
	if req.MessageID == "" {
		return nil, apperrors.ValidationError("messageId is required")
	}
	if err := validateText(req.Text); err != nil {
		return nil, err
	}

	message, err := s.load(ctx, req.MessageID, req.Room)
	if err != nil {
		return nil, err
	}
	if message.Sender != requester {
		return nil, apperrors.ForbiddenError("Only the sender can edit this message")
	}
	if message.Kind != domain.MessageKindText {
		return nil, apperrors.ImmutableMessageError()
	}

	now := s.clock.Now().UTC()
	if now.Sub(message.CreatedAt) > s.cfg.EditWindow {
		metrics.ChatMessagesTotal.WithLabelValues("edit", "expired").Inc()
		return nil, apperrors.EditWindowExpiredError("edit")
	}
	if err := s.screen(req.Text); err != nil {
		metrics.ChatMessagesTotal.WithLabelValues("edit", "moderated").Inc()
		return nil, err
	}

	if err := s.store.UpdateText(ctx, message.MessageID, req.Text, now); err != nil {
		metrics.ChatMessagesTotal.WithLabelValues("edit", "error").Inc()
		return nil, storeError(err)
	}

	payload := &MessageEditedPayload{
		MessageID: message.MessageID,
		Room:      message.Room,
		Text:      req.Text,
		EditedAt:  now,
	}
	s.emitter.ToRoom(message.Room, EventMessageEdited, payload, "")
	metrics.ChatMessagesTotal.WithLabelValues("edit", "ok").Inc()
	return payload, nil
}

// Delete removes a message the requester sent within the delete window
func (s *Service) Delete(ctx context.Context, requester string, req DeleteRequest) (*MessageDeletedPayload, error) {
	if req.MessageID == "" {
		return nil, apperrors.ValidationError("messageId is required")
	}

	message, err := s.load(ctx, req.MessageID, req.Room)
	if err != nil {
		return nil, err
	}
	if message.Sender != requester {
		return nil, apperrors.ForbiddenError("Only the sender can delete this message")
	}
	if s.clock.Now().Sub(message.CreatedAt) > s.cfg.DeleteWindow {
		metrics.ChatMessagesTotal.WithLabelValues("delete", "expired").Inc()
		return nil, apperrors.EditWindowExpiredError("delete")
	}

	if err := s.store.Delete(ctx, message.MessageID); err != nil {
		metrics.ChatMessagesTotal.WithLabelValues("delete", "error").Inc()
		return nil, apperrors.ServiceUnavailableError(err)
	}

	payload := &MessageDeletedPayload{MessageID: message.MessageID, Room: message.Room}
	s.emitter.ToRoom(message.Room, EventMessageDeleted, payload, "")
	metrics.ChatMessagesTotal.WithLabelValues("delete", "ok").Inc()
	return payload, nil
}

// React toggles the requester's reaction. Sending the emoji already set
// removes it; any other emoji replaces it.
func (s *Service) React(ctx context.Context, requester string, req ReactRequest) (*ReactionUpdatedPayload, error) {
	if req.MessageID == "" {
		return nil, apperrors.ValidationError("messageId is required")
	}
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" {
		return nil, apperrors.ValidationError("emoji is required")
	}
	if len(emoji) > constants.MaxEmojiLength {
		return nil, apperrors.ValidationError("emoji is too long")
	}

	message, err := s.load(ctx, req.MessageID, req.Room)
	if err != nil {
		return nil, err
	}
	if requester != message.Sender && requester != message.Receiver {
		return nil, apperrors.ForbiddenError("Only conversation members can react")
	}

	if message.Reactions[requester] == emoji {
		err = s.store.RemoveReaction(ctx, message.MessageID, requester)
	} else {
		err = s.store.SetReaction(ctx, message.MessageID, requester, emoji)
	}
	if err != nil {
		metrics.ChatMessagesTotal.WithLabelValues("react", "error").Inc()
		return nil, storeError(err)
	}

	fresh, err := s.store.FindByID(ctx, message.MessageID)
	if err != nil {
		metrics.ChatMessagesTotal.WithLabelValues("react", "error").Inc()
		return nil, storeError(err)
	}

	payload := &ReactionUpdatedPayload{
		MessageID: fresh.MessageID,
		Room:      fresh.Room,
		Reactions: fresh.ReactionList(),
	}
	s.emitter.ToRoom(fresh.Room, EventMessageReactionUpdated, payload, "")
	metrics.ChatMessagesTotal.WithLabelValues("react", "ok").Inc()
	return payload, nil
}

// Seen marks a message read by its receiver. Repeated calls are no-ops.
func (s *Service) Seen(ctx context.Context, viewer string, req SeenRequest) error {
	if req.MessageID == "" {
		return apperrors.ValidationError("messageId is required")
	}

	message, err := s.load(ctx, req.MessageID, req.Room)
	if err != nil {
		return err
	}
	if message.Receiver != viewer {
		return apperrors.ForbiddenError("Only the receiver can mark a message seen")
	}
	if message.Seen {
		return nil
	}

	now := s.clock.Now().UTC()
	if err := s.store.MarkSeen(ctx, message.MessageID, now); err != nil {
		return storeError(err)
	}

	s.emitter.ToRoom(message.Room, EventMessageSeenUpdate, SeenUpdatePayload{
		MessageID: message.MessageID,
		Room:      message.Room,
		SeenBy:    viewer,
		SeenAt:    now,
	}, "")
	metrics.ChatMessagesTotal.WithLabelValues("seen", "ok").Inc()
	return nil
}

// Typing relays a typing indicator to the other side of the room
func (s *Service) Typing(ctx context.Context, connID, from string, req TypingRequest) error {
	if !IsMember(req.Room, from) {
		return apperrors.ForbiddenError("Not a member of this room")
	}
	s.emitter.ToRoom(req.Room, EventUserTyping, TypingPayload{
		From:     from,
		Room:     req.Room,
		IsTyping: req.IsTyping,
	}, connID)
	return nil
}

func (s *Service) load(ctx context.Context, messageID, room string) (*domain.Message, error) {
	message, err := s.store.FindByID(ctx, messageID)
	if err != nil {
		return nil, storeError(err)
	}
	if room != "" && room != message.Room {
		return nil, apperrors.ValidationError("Message does not belong to this room")
	}
	return message, nil
}

// storeError maps a message store failure. Conditional writes report a row
// deleted since it was loaded as ErrMessageNotFound.
func storeError(err error) error {
	if errors.Is(err, domain.ErrMessageNotFound) {
		return apperrors.MessageNotFoundError()
	}
	return apperrors.ServiceUnavailableError(err)
}

func (s *Service) screen(text string) error {
	if s.moderator == nil || text == "" {
		return nil
	}
	if issue := s.moderator.Check(text); issue != nil {
		return apperrors.ModerationError(issue.Reason).WithDetails(issue)
	}
	return nil
}

func validateSend(sender string, req SendRequest, kind string) error {
	if req.ReceiverID == "" {
		return apperrors.ValidationError("receiverId is required")
	}
	if req.ReceiverID == sender {
		return apperrors.ValidationError("Cannot message yourself")
	}
	if !CanJoinRooms(sender) || !CanJoinRooms(req.ReceiverID) {
		return apperrors.ValidationError("Username cannot be used in a direct message room")
	}
	if req.Room != RoomID(sender, req.ReceiverID) {
		return apperrors.ValidationError("Room does not match the conversation")
	}
	if !domain.IsValidMessageKind(kind) {
		return apperrors.ValidationError("Unsupported message kind")
	}
	if kind == domain.MessageKindText {
		return validateText(req.Text)
	}
	if req.MediaURL == "" {
		return apperrors.ValidationError("mediaUrl is required for media messages")
	}
	if utf8.RuneCountInString(req.Text) > constants.MaxMessageLength {
		return apperrors.ValidationError("Message is too long")
	}
	return nil
}

func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return apperrors.ValidationError("Message text is required")
	}
	if utf8.RuneCountInString(text) > constants.MaxMessageLength {
		return apperrors.ValidationError("Message is too long")
	}
	return nil
}
