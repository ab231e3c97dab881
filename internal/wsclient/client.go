// Package wsclient is the terminal client's side of the /v1/ws socket.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	inboxSize      = 64
	outboxSize     = 64
	maxMessageSize = 512 * 1024
)

var (
	ErrClosed     = errors.New("websocket client closed")
	ErrOutboxFull = errors.New("websocket client outbox full")
)

// Client sends through a bounded outbox drained by one writer goroutine, so
// Send methods never wait on the network.
type Client struct {
	conn       *websocket.Conn
	outbox     chan []byte
	messages   chan *protocol.Message
	done       chan struct{}
	writerDone chan struct{}
	once       sync.Once
	closeOnce  sync.Once
	closeErr   error
	logger     zerolog.Logger
}

// Dial opens the socket and starts reading. The token travels as a bearer
// header so it stays out of server access logs.
func Dial(ctx context.Context, url, token string, logger zerolog.Logger) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := newClient(conn, logger)
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

func newClient(conn *websocket.Conn, logger zerolog.Logger) *Client {
	return &Client{
		conn:       conn,
		outbox:     make(chan []byte, outboxSize),
		messages:   make(chan *protocol.Message, inboxSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		logger:     logger.With().Str("component", "wsclient").Logger(),
	}
}

// Messages is closed once the connection ends.
func (c *Client) Messages() <-chan *protocol.Message {
	return c.messages
}

func (c *Client) readLoop() {
	defer close(c.messages)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("Connection closed")
			}
			return
		}
		// The server batches queued frames into one write, newline separated.
		for _, frame := range strings.Split(string(data), "\n") {
			if frame == "" {
				continue
			}
			msg, err := protocol.ParseMessage([]byte(frame))
			if err != nil {
				c.logger.Debug().Err(err).Msg("Skipping unparsable frame")
				continue
			}
			select {
			case c.messages <- msg:
			case <-c.done:
				return
			}
		}
	}
}

// writeLoop writes queued frames one per message. On Close it flushes what
// is queued and sends a close frame; a failed write tears the connection
// down, which ends readLoop and closes Messages.
func (c *Client) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case data := <-c.outbox:
			if err := c.write(data); err != nil {
				c.logger.Warn().Err(err).Msg("Write failed, closing connection")
				c.once.Do(func() { close(c.done) })
				_ = c.closeConn()
				return
			}
		case <-c.done:
			for {
				select {
				case data := <-c.outbox:
					if err := c.write(data); err != nil {
						return
					}
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}

func (c *Client) write(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// send queues one message. It fails fast with ErrClosed once the client is
// shut down and with ErrOutboxFull when the writer has fallen behind.
func (c *Client) send(msgType protocol.MessageType, payload interface{}, requestID string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	msg, err := protocol.NewMessageWithRequestID(msgType, payload, requestID)
	if err != nil {
		return err
	}
	data, err := msg.ToBytes()
	if err != nil {
		return err
	}

	select {
	case c.outbox <- data:
		return nil
	default:
		return fmt.Errorf("send %s: %w", msgType, ErrOutboxFull)
	}
}

func (c *Client) SendTypingStatus(isTyping bool) error {
	return c.send(protocol.MsgTypingStatus, protocol.TypingStatusPayload{IsTyping: isTyping}, "")
}

func (c *Client) SendTypingUpdate(p protocol.TypingUpdatePayload) error {
	return c.send(protocol.MsgTypingUpdate, p, "")
}

// SendTestCompleted queues a finished result under requestID, which the
// typing-saved acknowledgement will carry.
func (c *Client) SendTestCompleted(requestID string, result protocol.TestResultPayload) error {
	return c.send(protocol.MsgTestCompleted, result, requestID)
}

func (c *Client) JoinLeaderboard() error {
	return c.send(protocol.MsgJoinLeaderboard, nil, uuid.NewString())
}

func (c *Client) Ping() error {
	return c.send(protocol.MsgPing, nil, "")
}

// Close flushes queued messages, sends a close frame and tears the
// connection down. It is safe to call more than once.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	<-c.writerDone
	return c.closeConn()
}

func (c *Client) closeConn() error {
	c.closeOnce.Do(func() { c.closeErr = c.conn.Close() })
	return c.closeErr
}
