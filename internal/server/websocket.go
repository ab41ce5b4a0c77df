// Package server streams measurements to WebSocket clients as JSON.
package server

import (
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// newUpgrader only accepts same-origin, loopback and private-network origins.
func newUpgrader(log zerolog.Logger) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return checkOrigin(r, log)
		},
	}
}

// checkOrigin reports whether the WebSocket connection origin is allowed.
func checkOrigin(r *http.Request, log zerolog.Logger) bool {
	origin := r.Header.Get("Origin")
	// Same-origin requests and non-browser clients omit the Origin header
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		log.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: invalid origin URL")
		return false
	}

	host := u.Hostname()
	if host == "localhost" {
		return true
	}

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}

	ip := net.ParseIP(host)
	if ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	log.Warn().Str("origin", origin).Str("host", host).Msg("Rejected WebSocket connection")
	return false
}
