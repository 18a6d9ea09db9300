package server

import (
	"net/http"
	"strings"
)

// NewHandler dispatches upgrade requests to router and everything else to
// responder. Any request asking to switch protocols goes to router, so the
// plain responder never sees one.
func NewHandler(responder, router http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isUpgradeRequest(r) {
			router.ServeHTTP(w, r)
			return
		}
		responder.ServeHTTP(w, r)
	})
}

func isUpgradeRequest(r *http.Request) bool {
	return r.Header.Get("Upgrade") != "" && headerHasToken(r.Header, "Connection", "upgrade")
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
