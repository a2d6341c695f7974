package notification

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"pulse-backend/internal/domain"
)

const previewLength = 80

// NotificationRepository interface
type NotificationRepository interface {
	Create(ctx context.Context, notification *domain.NotificationCreate) (*domain.Notification, error)
}

// Service handles notification business logic
type Service struct {
	notificationRepo NotificationRepository
}

// NewService creates a new notification service
func NewService(notificationRepo NotificationRepository) *Service {
	return &Service{
		notificationRepo: notificationRepo,
	}
}

// CreateNotificationInput represents input for creating a notification
type CreateNotificationInput struct {
	UserID uuid.UUID
	Type   string
	Title  string
	Body   string
	Data   map[string]interface{}
}

// Create creates a new notification
func (s *Service) Create(ctx context.Context, input *CreateNotificationInput) (*domain.Notification, error) {
	create := &domain.NotificationCreate{
		UserID: input.UserID,
		Type:   input.Type,
		Title:  input.Title,
		Body:   input.Body,
		Data:   input.Data,
	}

	notification, err := s.notificationRepo.Create(ctx, create)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	return notification, nil
}

// NotifyMissedCall tells receiver they missed a call from caller
func (s *Service) NotifyMissedCall(ctx context.Context, receiverID uuid.UUID, caller, callType string) error {
	_, err := s.Create(ctx, &CreateNotificationInput{
		UserID: receiverID,
		Type:   domain.NotificationTypeMissedCall,
		Title:  "Missed call",
		Body:   fmt.Sprintf("You missed a %s call from %s", callType, caller),
		Data: map[string]interface{}{
			"from":     caller,
			"callType": callType,
		},
	})
	return err
}

// NotifyMessage tells receiver about a new direct message
func (s *Service) NotifyMessage(ctx context.Context, receiverID uuid.UUID, message *domain.Message) error {
	_, err := s.Create(ctx, &CreateNotificationInput{
		UserID: receiverID,
		Type:   domain.NotificationTypeMessage,
		Title:  fmt.Sprintf("New message from %s", message.Sender),
		Body:   preview(message),
		Data: map[string]interface{}{
			"from":      message.Sender,
			"room":      message.Room,
			"messageId": message.MessageID,
		},
	})
	return err
}

func preview(message *domain.Message) string {
	if message.Kind != domain.MessageKindText {
		return fmt.Sprintf("Sent you a %s", message.Kind)
	}
	if utf8.RuneCountInString(message.Text) <= previewLength {
		return message.Text
	}
	runes := []rune(message.Text)
	return string(runes[:previewLength]) + "…"
}
