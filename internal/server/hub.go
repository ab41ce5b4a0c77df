package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petems/spl-tray/internal/meter"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 5 * time.Second
	clientSend = 8
)

// Hub fans measurements out to connected WebSocket clients. A client that
// cannot keep up loses measurements; the meter is never slowed down.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan meter.Measurement
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:      log,
		upgrader: newUpgrader(log),
		clients:  make(map[*client]struct{}),
	}
}

// Publish implements app.Sink
func (h *Hub) Publish(m meter.Measurement) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- m:
		default:
			h.log.Debug().Uint64("seq", m.Seq).Msg("Client lagging, measurement dropped")
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams measurements until the client goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan meter.Measurement, clientSend)}
	h.add(c)
	h.log.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	gone := make(chan struct{})
	go func() {
		// Incoming messages are ignored; reading detects the close
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.remove(c)
		conn.Close()
		h.log.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client disconnected")
	}()

	for {
		select {
		case <-gone:
			return
		case m := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// ListenAndServe serves the hub at /ws on addr until ctx is done
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.log.Info().Str("addr", addr).Msg("Streaming measurements on ws://" + addr + "/ws")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
