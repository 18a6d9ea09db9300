package server

import (
	"net/http"

	"github.com/Tyrowin/docrelay/internal/metrics"
)

const healthBody = "okay"

// Responder answers every non-upgrade request, whatever its path. OPTIONS
// gets an empty 204 preflight response; everything else gets 200 "okay".
// Both carry permissive CORS headers.
type Responder struct {
	metrics *metrics.Metrics
}

// NewResponder creates a Responder. m may be nil.
func NewResponder(m *metrics.Metrics) *Responder {
	return &Responder{metrics: m}
}

func (rs *Responder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rs.metrics.ObserveRequest(r.Method)
	setCORSHeaders(w.Header())

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(healthBody))
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}
