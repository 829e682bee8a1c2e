package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"geoforge/internal/models"
	"geoforge/internal/realtime"
)

var emergencyKeywords = []string{"emergency", "urgent", "help", "accident", "injury", "danger"}

// Classify marks content mentioning an emergency keyword as an alert.
func Classify(content string) models.MessageType {
	lower := strings.ToLower(content)
	for _, kw := range emergencyKeywords {
		if strings.Contains(lower, kw) {
			return models.MessageAlert
		}
	}
	return models.MessageText
}

// Service publishes and subscribes to chat and typing events on a project
// channel.
type Service struct {
	rt *realtime.Client
}

func NewService(rt *realtime.Client) *Service {
	return &Service{rt: rt}
}

func (s *Service) PublishMessage(ctx context.Context, projectID string, draft models.MessageData) error {
	if draft.Type == "" {
		draft.Type = Classify(draft.Content)
	}
	return s.rt.Publish(ctx, models.ProjectChannel(projectID), models.EventMessage, draft)
}

// SubscribeToMessages delivers every chat message on the project channel.
// Id and timestamp come from the delivery envelope.
func (s *Service) SubscribeToMessages(ctx context.Context, projectID string, cb func(models.Message)) (func(), error) {
	channel := models.ProjectChannel(projectID)
	return s.rt.Subscribe(ctx, channel, models.EventMessage, func(env realtime.Envelope) {
		var data models.MessageData
		if err := env.Decode(&data); err != nil {
			slog.Error("[MESSAGING] Error unmarshaling message", "channel", channel, "error", err)
			return
		}
		if data.Type == "" {
			data.Type = models.MessageText
		}
		cb(models.Message{
			ID:        env.ID,
			UserID:    data.UserID,
			UserName:  data.UserName,
			Content:   data.Content,
			Timestamp: time.UnixMilli(env.Timestamp),
			Type:      data.Type,
		})
	})
}

func (s *Service) PublishTyping(ctx context.Context, projectID, userID, userName string) error {
	return s.rt.Publish(ctx, models.ProjectChannel(projectID), models.EventTyping, models.TypingData{
		UserID:   userID,
		UserName: userName,
	})
}

func (s *Service) SubscribeToTyping(ctx context.Context, projectID string, cb func(models.TypingData)) (func(), error) {
	channel := models.ProjectChannel(projectID)
	return s.rt.Subscribe(ctx, channel, models.EventTyping, func(env realtime.Envelope) {
		var data models.TypingData
		if err := env.Decode(&data); err != nil {
			slog.Error("[MESSAGING] Error unmarshaling typing event", "channel", channel, "error", err)
			return
		}
		cb(data)
	})
}
