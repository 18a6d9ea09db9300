package server

import (
	"errors"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/docrelay/internal/metrics"
	"github.com/Tyrowin/docrelay/internal/report"
	"github.com/Tyrowin/docrelay/internal/session"
)

// ErrUpgradeRateLimited is reported when an upgrade is refused by the
// admission limit.
var ErrUpgradeRateLimited = errors.New("upgrade rate limit exceeded")

const handshakeTimeout = 10 * time.Second

// upgradeState is the lifecycle of a single upgrade attempt.
type upgradeState int32

const (
	stateIdle upgradeState = iota
	stateHandshaking
	stateHandedOff
	stateDestroyed
)

func (s upgradeState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateHandshaking:
		return "handshaking"
	case stateHandedOff:
		return "handed-off"
	case stateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// upgradeAttempt tracks one socket from the upgrade request to its terminal
// state. HandedOff and Destroyed are only reachable from Handshaking, so a
// socket gets exactly one outcome.
type upgradeAttempt struct {
	id    string
	state atomic.Int32
}

func (a *upgradeAttempt) transition(from, to upgradeState) bool {
	return a.state.CompareAndSwap(int32(from), int32(to))
}

func (a *upgradeAttempt) current() upgradeState {
	return upgradeState(a.state.Load())
}

// UpgradeRouter performs the WebSocket handshake for upgrade requests and
// passes each established connection to a session.Handoff. A failed
// handshake never produces an HTTP response: the raw socket is closed.
type UpgradeRouter struct {
	upgrader websocket.Upgrader
	origins  originPolicy
	handoff  session.Handoff
	reporter *report.Reporter
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	newID    func() string
}

// RouterOption configures an UpgradeRouter.
type RouterOption func(*UpgradeRouter)

// WithAllowedOrigins restricts browser origins; "*" allows any.
func WithAllowedOrigins(origins []string) RouterOption {
	return func(rt *UpgradeRouter) { rt.origins = newOriginPolicy(origins) }
}

// WithUpgradeRate admits at most perSecond handshakes per second, with a
// burst of the same size. Zero disables the limit.
func WithUpgradeRate(perSecond float64) RouterOption {
	return func(rt *UpgradeRouter) {
		if perSecond <= 0 {
			rt.limiter = nil
			return
		}
		burst := int(math.Ceil(perSecond))
		rt.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRouterMetrics records upgrade outcomes on m.
func WithRouterMetrics(m *metrics.Metrics) RouterOption {
	return func(rt *UpgradeRouter) { rt.metrics = m }
}

// NewUpgradeRouter creates a router that hands connections to handoff.
func NewUpgradeRouter(handoff session.Handoff, reporter *report.Reporter, opts ...RouterOption) *UpgradeRouter {
	rt := &UpgradeRouter{
		origins:  newOriginPolicy(nil),
		handoff:  handoff,
		reporter: reporter,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(rt)
	}
	for _, bad := range rt.origins.invalid {
		reporter.InvalidOrigin(bad)
	}

	rt.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: handshakeTimeout,
		CheckOrigin:      rt.origins.check,
		// Leave the response untouched; destroy closes the socket instead.
		Error: func(http.ResponseWriter, *http.Request, int, error) {},
	}
	return rt
}

func (rt *UpgradeRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	att := &upgradeAttempt{id: rt.newID()}
	rt.reporter.UpgradeReceived(att.id, r.URL.RequestURI(), r.RemoteAddr)

	att.transition(stateIdle, stateHandshaking)

	if rt.limiter != nil && !rt.limiter.Allow() {
		rt.destroy(att, w, r, ErrUpgradeRateLimited, metrics.OutcomeRateLimited)
		return
	}

	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rt.destroy(att, w, r, err, metrics.OutcomeFailed)
		return
	}

	rt.handOff(att, conn, r)
}

// handOff gives conn and the narrow request view to the session layer. The
// router keeps no reference afterwards, except that a handoff that panics
// gets its connection closed.
func (rt *UpgradeRouter) handOff(att *upgradeAttempt, conn *websocket.Conn, r *http.Request) {
	if !att.transition(stateHandshaking, stateHandedOff) {
		_ = conn.Close()
		return
	}

	origin := session.Origin{
		ID:         att.id,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Header:     r.Header.Clone(),
		RemoteAddr: r.RemoteAddr,
	}
	rt.metrics.UpgradeOutcome(metrics.OutcomeHandedOff)
	rt.reporter.SessionEstablished(att.id, origin.Path)

	defer func() {
		if v := recover(); v != nil {
			rt.reporter.HandoffPanicked(att.id, v)
			_ = conn.Close()
		}
	}()
	rt.handoff.Establish(conn, origin)
}

// destroy closes the underlying socket without writing a response.
func (rt *UpgradeRouter) destroy(att *upgradeAttempt, w http.ResponseWriter, r *http.Request, cause error, outcome string) {
	if !att.transition(stateHandshaking, stateDestroyed) {
		return
	}
	rt.metrics.UpgradeOutcome(outcome)
	rt.reporter.HandshakeFailed(att.id, r.URL.RequestURI(), r.RemoteAddr, cause)
	destroySocket(w)
}

func destroySocket(w http.ResponseWriter) {
	netConn, _, err := http.NewResponseController(w).Hijack()
	switch {
	case err == nil:
		_ = netConn.Close()
	case errors.Is(err, http.ErrHijacked):
		// The upgrader had already taken the connection and closed it.
	default:
		panic(http.ErrAbortHandler)
	}
}
