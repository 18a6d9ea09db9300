package server

import (
	"log"
	"net/http"
	"time"
)

// CreateServer creates an HTTP server for handler with the relay's timeouts.
// The header timeout also bounds how long an upgrade request may take to arrive.
func CreateServer(handler http.Handler, errorLog *log.Logger) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          errorLog,
	}
}
