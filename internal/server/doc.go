// Package server implements the relay's network front door: a single HTTP
// listener that answers plain requests with a liveness/CORS response and
// hands WebSocket upgrades to a session.Handoff.
//
// The implementation is split into the plain responder, the upgrade router
// with its per-request state machine, origin checks, request dispatch and
// the Server type that owns the listener lifecycle.
package server
