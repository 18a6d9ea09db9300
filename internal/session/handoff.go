// Package session owns WebSocket connections once the upgrade handshake has
// completed. The relay core only sees the Handoff interface; Hub is the
// default implementation, which fans frames out between peers editing the
// same document without interpreting them.
package session

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Origin is the narrow view of the upgrade request passed along with the
// connection. Path and RawQuery select the document; Header carries whatever
// the session layer needs for authentication or negotiation.
type Origin struct {
	ID         string
	Path       string
	RawQuery   string
	Header     http.Header
	RemoteAddr string
}

// DocumentName is the request path without its leading slash.
func (o Origin) DocumentName() string {
	return strings.TrimPrefix(o.Path, "/")
}

// Handoff takes ownership of an established connection. Establish must not
// block on the lifetime of the session and reports nothing back to the caller.
type Handoff interface {
	Establish(conn *websocket.Conn, origin Origin)
}

// HandoffFunc adapts a function to the Handoff interface.
type HandoffFunc func(conn *websocket.Conn, origin Origin)

// Establish calls f(conn, origin).
func (f HandoffFunc) Establish(conn *websocket.Conn, origin Origin) {
	f(conn, origin)
}
