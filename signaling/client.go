package signaling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/videocl/mesh/model"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultPingPeriod     = (defaultPongWait * 9) / 10
	defaultMaxMessageSize = 65536
)

var (
	ErrClosed  = errors.New("signaling client is closed")
	ErrConnect = errors.New("unable to connect to signaling server")
)

// Client maintains the persistent signaling session toward the hub.
// It implements the coordinator's Signaler.
type Client struct {
	logger    zerolog.Logger
	serverURL string

	conn     *websocket.Conn
	incoming chan model.Envelope
	outgoing chan model.Envelope
	done     chan struct{}
	closer   sync.Once
}

func NewClient(serverURL string, logger *zerolog.Logger) *Client {
	return &Client{
		logger:    logger.With().Str("component", "signaling-client").Logger(),
		serverURL: serverURL,
		incoming:  make(chan model.Envelope, 1),
		outgoing:  make(chan model.Envelope, 1),
		done:      make(chan struct{}),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.serverURL, nil)
	if err != nil {
		return errors.Join(ErrConnect, err)
	}
	c.conn = conn

	c.conn.SetReadLimit(defaultMaxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(defaultPongWait))
	})

	go c.readPump()
	go c.writePump()

	c.logger.Debug().Str("url", c.serverURL).Msg("connected to signaling server")
	return nil
}

func (c *Client) readPump() {
	defer func() {
		_ = c.conn.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(defaultPongWait))

	for {
		var env model.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("receive failed, closing")
			}
			return
		}

		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	pingTicker := time.NewTicker(defaultPingPeriod)
	defer func() {
		pingTicker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
			if err := c.conn.WriteJSON(&env); err != nil {
				c.logger.Error().Err(err).Msg("failed to write outgoing message")
				return
			}

		case <-pingTicker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error().Err(err).Msg("failed to send ping")
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send queues env for delivery to the hub.
func (c *Client) Send(env model.Envelope) error {
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming is the stream of envelopes from the hub. Closed when the
// session ends.
func (c *Client) Incoming() <-chan model.Envelope {
	return c.incoming
}

func (c *Client) Close() {
	c.closer.Do(func() {
		close(c.done)
	})
}
