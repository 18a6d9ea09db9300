package server

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/docrelay/internal/report"
	"github.com/Tyrowin/docrelay/internal/session"
)

// lockedBuffer is a bytes.Buffer safe for concurrent writers, since the
// reporter is written from server goroutines while tests read it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) contains(s string) bool {
	return strings.Contains(b.String(), s)
}

func newTestReporter(t *testing.T) (*report.Reporter, *lockedBuffer, *lockedBuffer) {
	t.Helper()
	out, logs := &lockedBuffer{}, &lockedBuffer{}
	return report.New(report.NewLogger(logs, true), out), out, logs
}

// recordingHandoff captures every connection it is given.
type recordingHandoff struct {
	mu      sync.Mutex
	origins []session.Origin
	calls   chan session.Origin
}

func newRecordingHandoff() *recordingHandoff {
	return &recordingHandoff{calls: make(chan session.Origin, 16)}
}

func (h *recordingHandoff) Establish(conn *websocket.Conn, origin session.Origin) {
	h.mu.Lock()
	h.origins = append(h.origins, origin)
	h.mu.Unlock()
	_ = conn.Close()
	h.calls <- origin
}

func (h *recordingHandoff) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.origins)
}
