package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/events"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Broadcaster is what control events act on.
type Broadcaster interface {
	RefreshLeaderboard(ctx context.Context) error
	BroadcastSystemMessage(ctx context.Context, message, kind string) error
}

type Handlers struct {
	target Broadcaster
	logger zerolog.Logger
}

func NewHandlers(target Broadcaster, logger zerolog.Logger) *Handlers {
	return &Handlers{
		target: target,
		logger: logger.With().Str("component", "kafka-handlers").Logger(),
	}
}

func (h *Handlers) HandleLeaderboardRefresh(ctx context.Context, msg kafka.Message) error {
	var event events.LeaderboardRefreshEvent
	if len(msg.Value) > 0 {
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			h.logger.Error().Err(err).Msg("Failed to unmarshal leaderboard.refresh event")
			return err
		}
	}

	h.logger.Info().
		Str("reason", event.Reason).
		Msg("Processing leaderboard.refresh")

	return h.target.RefreshLeaderboard(ctx)
}

func (h *Handlers) HandleSystemMessage(ctx context.Context, msg kafka.Message) error {
	var event events.SystemMessageEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error().Err(err).Msg("Failed to unmarshal system.message event")
		return err
	}
	if event.Message == "" {
		return errors.New("system.message event without message")
	}

	h.logger.Info().
		Str("type", event.Type).
		Msg("Processing system.message")

	return h.target.BroadcastSystemMessage(ctx, event.Message, event.Type)
}

func (h *Handlers) RegisterAll(consumer *Consumer) {
	consumer.RegisterHandler(events.TopicLeaderboardRefresh, h.HandleLeaderboardRefresh)
	consumer.RegisterHandler(events.TopicSystemMessage, h.HandleSystemMessage)
}
