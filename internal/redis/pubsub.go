package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/protocol"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	ChannelBroadcast = "typesprint:broadcast"
	ChannelRoomFmt   = "typesprint:room:%s"
)

// Envelope carries a message between socket instances. An empty TargetRoom
// means every connection on the receiving instance.
type Envelope struct {
	SourceInstance string            `json:"sourceInstance"`
	Message        *protocol.Message `json:"message"`
	TargetRoom     string            `json:"targetRoom,omitempty"`
}

type MessageHandler func(envelope *Envelope)

// PubSub relays broadcasts to the other instances behind the load balancer.
type PubSub struct {
	client     *Client
	pubsub     *redis.PubSub
	instanceID string
	handler    MessageHandler
	logger     zerolog.Logger
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewPubSub(client *Client, instanceID string, logger zerolog.Logger) *PubSub {
	if instanceID == "" {
		instanceID = uuid.New().String()[:8]
	}
	return &PubSub{
		client:     client,
		instanceID: instanceID,
		logger:     logger.With().Str("component", "pubsub").Logger(),
	}
}

func (p *PubSub) InstanceID() string {
	return p.instanceID
}

// Start subscribes to the broadcast channel plus one channel per room and
// hands every foreign envelope to handler.
func (p *PubSub) Start(ctx context.Context, handler MessageHandler, rooms ...string) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.handler = handler

	channels := []string{ChannelBroadcast}
	for _, room := range rooms {
		channels = append(channels, fmt.Sprintf(ChannelRoomFmt, room))
	}
	p.pubsub = p.client.Subscribe(ctx, channels...)

	if _, err := p.pubsub.Receive(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	p.wg.Add(1)
	go p.listen(ctx)

	p.logger.Info().
		Str("instanceId", p.instanceID).
		Strs("channels", channels).
		Msg("PubSub started")

	return nil
}

func (p *PubSub) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	var err error
	if p.pubsub != nil {
		err = p.pubsub.Close()
	}
	p.wg.Wait()
	return err
}

func (p *PubSub) listen(ctx context.Context) {
	defer p.wg.Done()
	ch := p.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			p.handlePayload(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (p *PubSub) handlePayload(channel string, payload []byte) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		p.logger.Error().Err(err).Msg("Failed to unmarshal pubsub message")
		return
	}

	if envelope.SourceInstance == p.instanceID || envelope.Message == nil {
		return
	}

	p.logger.Debug().
		Str("channel", channel).
		Str("sourceInstance", envelope.SourceInstance).
		Str("type", string(envelope.Message.Type)).
		Msg("Received pubsub message")

	if p.handler != nil {
		p.handler(&envelope)
	}
}

func (p *PubSub) PublishToRoom(ctx context.Context, roomID string, msg *protocol.Message) error {
	return p.publish(ctx, fmt.Sprintf(ChannelRoomFmt, roomID), Envelope{
		SourceInstance: p.instanceID,
		Message:        msg,
		TargetRoom:     roomID,
	})
}

func (p *PubSub) PublishBroadcast(ctx context.Context, msg *protocol.Message) error {
	return p.publish(ctx, ChannelBroadcast, Envelope{
		SourceInstance: p.instanceID,
		Message:        msg,
	})
}

func (p *PubSub) publish(ctx context.Context, channel string, envelope Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, channel, data)
}
