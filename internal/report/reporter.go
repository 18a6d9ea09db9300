// Package report narrates the relay's lifecycle for operators: the startup
// banner, the URLs clients can connect to, and transport failures. Nothing in
// this package affects control flow.
package report

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"github.com/Tyrowin/docrelay/internal/netdiag"
)

// NoInterfacesMessage is printed instead of an address listing when no
// qualifying interface exists.
const NoInterfacesMessage = "no interfaces detected"

// Reporter writes structured events to a zerolog logger and the human
// banner to out.
type Reporter struct {
	log zerolog.Logger
	qr  bool

	mu  sync.Mutex
	out io.Writer
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithQR enables a terminal QR code for the first connection URL.
func WithQR(enabled bool) Option {
	return func(r *Reporter) { r.qr = enabled }
}

// New creates a Reporter.
func New(logger zerolog.Logger, out io.Writer, opts ...Option) *Reporter {
	r := &Reporter{log: logger, out: out}
	for _, opt := range opts {
		opt(r)
	}
	return r
}


func (r *Reporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, format, args...)
}

// Resolved records the effective bind address before the listener exists.
func (r *Reporter) Resolved(host string, port int) {
	r.log.Info().Str("host", host).Int("port", port).Msg("configuration resolved")
}

// PortFallback warns that an invalid port was replaced by the default.
func (r *Reporter) PortFallback(raw string, port int) {
	r.log.Warn().Str("value", raw).Int("port", port).Msg("invalid port, using default")
}

// Listening prints the startup banner after a successful bind.
func (r *Reporter) Listening(host string, port int, env string) {
	r.log.Info().Str("host", host).Int("port", port).Str("env", env).Msg("listening")
	r.printf("running at '%s' on port %d\n", host, port)
	r.printf("WebSocket server started, environment: %s\n", env)
}

// LocalURL is the loopback connection URL for port.
func LocalURL(port int) string {
	return fmt.Sprintf("ws://localhost:%d", port)
}

// URLs returns the plain and secure WebSocket URLs for an address.
func URLs(addr netdiag.NetworkAddress, port int) (ws, wss string) {
	return fmt.Sprintf("ws://%s:%d", addr.Address, port), fmt.Sprintf("wss://%s:%d", addr.Address, port)
}

// ConnectionURLs lists every reachable URL. An empty address list is
// reported as NoInterfacesMessage; a discovery error is logged as a warning
// and otherwise treated the same way.
func (r *Reporter) ConnectionURLs(addrs []netdiag.NetworkAddress, port int, discoveryErr error) {
	if discoveryErr != nil {
		r.log.Warn().Err(discoveryErr).Msg("network interface discovery failed")
	}

	var b strings.Builder
	b.WriteString("\nConnect with:\n")
	fmt.Fprintf(&b, "  %-10s %s\n", "local", LocalURL(port))
	if len(addrs) == 0 {
		fmt.Fprintf(&b, "  %s\n", NoInterfacesMessage)
		r.log.Warn().Msg(NoInterfacesMessage)
	}
	for _, a := range addrs {
		ws, wss := URLs(a, port)
		fmt.Fprintf(&b, "  %-10s %s  %s  (netmask %s)\n", a.InterfaceName, ws, wss, a.Netmask)
		r.log.Debug().Str("iface", a.InterfaceName).Str("url", ws).Msg("reachable")
	}
	b.WriteString("\n")
	r.printf("%s", b.String())

	if r.qr {
		target := LocalURL(port)
		if len(addrs) > 0 {
			target, _ = URLs(addrs[0], port)
		}
		r.printQR(target)
	}
}

func (r *Reporter) printQR(target string) {
	qr, err := qrcode.New(target, qrcode.Medium)
	if err != nil {
		r.log.Warn().Err(err).Str("url", target).Msg("qr code generation failed")
		return
	}
	r.printf("%s%s\n\n", qr.ToSmallString(false), target)
}

// MetricsListening records the metrics listener address.
func (r *Reporter) MetricsListening(addr string) {
	r.log.Info().Str("addr", addr).Msg("metrics listener started")
}

// MetricsUnavailable warns that the metrics listener could not bind. The
// relay keeps running without it.
func (r *Reporter) MetricsUnavailable(addr string, err error) {
	r.log.Warn().Err(err).Str("addr", addr).Msg("metrics listener unavailable")
}

// MetricsStopped records an unexpected exit of the metrics listener.
func (r *Reporter) MetricsStopped(err error) {
	r.log.Warn().Err(err).Msg("metrics listener stopped")
}

// InvalidOrigin warns about a configured origin that is not scheme://host.
func (r *Reporter) InvalidOrigin(origin string) {
	r.log.Warn().Str("origin", origin).Msg("ignoring invalid origin in configuration")
}

// Advertising records a successful mDNS registration.
func (r *Reporter) Advertising(service string, port int) {
	r.log.Info().Str("service", service).Int("port", port).Msg("advertising via mdns")
}

// AdvertiseFailed records an mDNS registration failure.
func (r *Reporter) AdvertiseFailed(err error) {
	r.log.Warn().Err(err).Msg("mdns advertisement unavailable")
}

// UpgradeReceived records the start of an upgrade attempt.
func (r *Reporter) UpgradeReceived(id, target, remote string) {
	r.log.Info().Str("conn", id).Str("url", target).Str("remote", remote).Msg("upgrade request received")
}

// SessionEstablished records a completed handshake that was handed off.
func (r *Reporter) SessionEstablished(id, path string) {
	r.log.Info().Str("conn", id).Str("path", path).Msg("websocket connection established")
}

// HandshakeFailed records an upgrade attempt whose socket was destroyed.
func (r *Reporter) HandshakeFailed(id, target, remote string, err error) {
	r.log.Error().Err(err).Str("conn", id).Str("url", target).Str("remote", remote).Msg("websocket upgrade error")
}

// HandoffPanicked records a panic recovered from the session handoff.
func (r *Reporter) HandoffPanicked(id string, v any) {
	r.log.Error().Str("conn", id).Interface("panic", v).Msg("session handoff panicked")
}

// ListenerError records a listener-level failure such as a bind error.
func (r *Reporter) ListenerError(err error) {
	r.log.Error().Err(err).Msg("server error")
}

// TransportError records an asynchronous transport error after bind.
func (r *Reporter) TransportError(err error) {
	r.log.Error().Err(err).Msg("transport error")
}

// ShuttingDown records the start of a graceful shutdown.
func (r *Reporter) ShuttingDown(reason string) {
	r.log.Info().Str("reason", reason).Msg("shutting down")
}

// ErrorLog adapts the reporter for http.Server.ErrorLog so connection-level
// errors from net/http are reported as transport errors.
func (r *Reporter) ErrorLog() *log.Logger {
	return log.New(transportWriter{r}, "", 0)
}

type transportWriter struct{ r *Reporter }

func (w transportWriter) Write(p []byte) (int, error) {
	w.r.TransportError(transportMessage(strings.TrimSpace(string(p))))
	return len(p), nil
}

type transportMessage string

func (m transportMessage) Error() string { return string(m) }
