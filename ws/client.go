package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lefinal/vr-arbiter/arbiter"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/vr"
	"go.uber.org/zap"
)

const (
	// writeTimeout is the timeout for writing a message to the peer.
	writeTimeout = 10 * time.Second
	// pingInterval is the interval in which pings are sent to the peer. Must be
	// less than pongTimeout.
	pingInterval = (pongTimeout * 9) / 10
	// pongTimeout is the timeout for waiting for the next pong message from the
	// peer. Must be greater than pingInterval.
	pongTimeout = 60 * time.Second
	// maxMessageSize is the maximum message size allowed from peer. Frames are
	// large so this is generous.
	maxMessageSize = 8 << 20
	// requestTimeout is the timeout for handling a single request.
	requestTimeout = 10 * time.Second
)

var (
	// newLine is used for separating messages in writer.
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client holds the websocket connection of a single context and is being used
// by Hub.
type Client struct {
	logger *zap.Logger
	// id is the context id of the client.
	id vr.ContextID
	// hub is the actual websocket hub which is used for registering and
	// unregistering.
	hub *Hub
	// connection is the actual websocket connection.
	connection *websocket.Conn
	// send is the channel for outgoing messages.
	send chan []byte
	// capabilities caches submit capabilities by display. Only accessed from
	// readPump.
	capabilities map[vr.DisplayID]*arbiter.Capability
}

// readPump handles requests from the websocket connection.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case <-c.hub.stopped:
		case c.hub.unregister <- c:
		}
		err := c.connection.Close()
		if err != nil {
			c.logger.Debug("close connection", zap.Error(err))
		}
	}()
	c.connection.SetReadLimit(maxMessageSize)
	_ = c.connection.SetReadDeadline(time.Now().Add(pongTimeout))
	// Handle received pong.
	c.connection.SetPongHandler(func(string) error {
		_ = c.connection.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		// Read next message.
		_, message, err := c.connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("unexpected close", zap.Error(err))
			}
			break
		}
		// Trim.
		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))
		// Handle.
		requestCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		res := c.handleMessage(requestCtx, message)
		cancel()
		raw, err := json.Marshal(res)
		if err != nil {
			errors.Log(c.logger, errors.Error{
				Code:    errors.ErrInternal,
				Kind:    errors.KindEncodeJSON,
				Err:     err,
				Message: "marshal response",
				Details: errors.Details{"request_type": res.Type},
			})
			continue
		}
		select {
		case <-ctx.Done():
			c.logger.Warn("dropping response due to ctx done", zap.String("request_type", res.Type))
			return
		case c.send <- raw:
		}
	}
}

// writePump forwards outgoing messages to the websocket connection. It stops
// when the hub closes the send-channel or is stopped.
func (c *Client) writePump() {
	pingTicker := time.NewTicker(pingInterval)
	defer func() {
		// Stop ping ticker in order to avoid ticker leak.
		pingTicker.Stop()
		// Close connection.
		err := c.connection.Close()
		if err != nil {
			c.logger.Debug("close connection", zap.Error(err))
		}
	}()
	for {
		select {
		case <-c.hub.stopped:
			return
		case message, ok := <-c.send:
			// Set write timeout.
			_ = c.connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			// Check if connection close is requested from hub.
			if !ok {
				err := c.connection.WriteMessage(websocket.CloseMessage, []byte{})
				if err != nil {
					c.logger.Debug("write close message", zap.Error(err))
				}
				return
			}
			// Write message.
			nextWriter, err := c.connection.NextWriter(websocket.TextMessage)
			if err != nil {
				// We expect the read pump to fail as well.
				c.logger.Warn("create writer for text message", zap.Error(err))
				return
			}
			_, err = nextWriter.Write(message)
			if err != nil {
				c.logger.Warn("write text message", zap.Error(err))
			}
			// Close writer.
			if err := nextWriter.Close(); err != nil {
				c.logger.Warn("close next writer", zap.Error(err))
				return
			}
		case <-pingTicker.C:
			// Send ping.
			_ = c.connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("write ping", zap.Error(err))
				return
			}
		}
	}
}
