package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/config"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/kafka"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/logger"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/events"
	"github.com/spf13/cobra"
)

var publishKind string

func newPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Send a control event to the server's Kafka topics",
	}

	refresh := &cobra.Command{
		Use:   "refresh [reason]",
		Short: "Drop the cached leaderboard and push it to every client",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			event := events.LeaderboardRefreshEvent{Timestamp: time.Now().Format(time.RFC3339)}
			if len(args) == 1 {
				event.Reason = args[0]
			}
			return publish(cmd, events.TopicLeaderboardRefresh, "refresh", event)
		},
	}

	system := &cobra.Command{
		Use:   "system <message>",
		Short: "Broadcast a system message to every connected client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			event := events.SystemMessageEvent{
				Message:   args[0],
				Type:      publishKind,
				Timestamp: time.Now().Format(time.RFC3339),
			}
			return publish(cmd, events.TopicSystemMessage, "system", event)
		},
	}
	system.Flags().StringVar(&publishKind, "type", "info", "info, warning or success")

	cmd.AddCommand(refresh, system)
	return cmd
}

func publish(cmd *cobra.Command, topic, key string, event interface{}) error {
	cfg := config.InitConfig(devMode)
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is not set")
	}
	log := logger.New(cfg.App.LogLevel, true)

	producer := kafka.NewProducer(cfg.Kafka.Brokers, nil, log)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	if err := producer.Publish(ctx, topic, key, event); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent to %s\n", topic)
	return nil
}
