package session

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

type outbound struct {
	messageType int
	payload     []byte
}

type frame struct {
	sender      *Client
	messageType int
	payload     []byte
}

// Client is one peer connection inside a document room.
type Client struct {
	conn   *websocket.Conn
	send   chan outbound
	hub    *Hub
	id     string
	room   string
	addr   string
	closed bool
}

func newClient(conn *websocket.Conn, hub *Hub, origin Origin) *Client {
	if conn != nil {
		conn.SetReadLimit(hub.maxMessageSize)
	}
	return &Client{
		conn: conn,
		send: make(chan outbound, sendBuffer),
		hub:  hub,
		id:   origin.ID,
		room: origin.DocumentName(),
		addr: origin.RemoteAddr,
	}
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.log.Warn().Err(err).Str("conn", c.id).Msg("set initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError classifies the error that ended the read loop.
func (c *Client) logReadError(err error) {
	log := c.hub.log.With().Str("conn", c.id).Str("room", c.room).Logger()

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warn().Int64("limit", c.hub.maxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		log.Debug().Err(err).Msg("peer closed connection")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		log.Debug().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		log.Warn().Err(err).Msg("unexpected close")
	default:
		log.Warn().Err(err).Msg("read error")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.hub.log.Warn().Err(err).Str("conn", c.id).Msg("close in read pump")
		}
	}()

	c.setupReadConnection()

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if !c.hub.relay(frame{sender: c, messageType: messageType, payload: payload}) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.hub.log.Warn().Err(err).Str("conn", c.id).Msg("close in write pump")
		}
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !c.write(msg, ok) {
				return
			}
		case <-ticker.C:
			if !c.ping() {
				return
			}
		}
	}
}

// write sends one frame, or a close frame when the queue has been closed.
// Frames are never coalesced since the payload format is opaque.
func (c *Client) write(msg outbound, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if !ok {
		err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil && !isExpectedCloseError(err) {
			c.hub.log.Debug().Err(err).Str("conn", c.id).Msg("write close frame")
		}
		return false
	}
	if err := c.conn.WriteMessage(msg.messageType, msg.payload); err != nil {
		if !isExpectedCloseError(err) {
			c.hub.log.Warn().Err(err).Str("conn", c.id).Msg("write frame")
		}
		return false
	}
	return true
}

func (c *Client) ping() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.hub.log.Debug().Err(err).Str("conn", c.id).Msg("ping failed")
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
