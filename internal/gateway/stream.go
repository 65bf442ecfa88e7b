package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"chatgate/internal/domain"
	"chatgate/internal/metrics"
)

const (
	streamBuffer    = 64
	writeWait       = 10 * time.Second
	pingInterval    = 30 * time.Second
	pongWait        = 60 * time.Second
	maxInboundFrame = 512 // clients only send control frames and pings
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleStream upgrades to a websocket and forwards canonical events as
// they are published. Optional query parameters:
//
//	events  comma-separated canonical kinds (default: everything)
//	session filter to a single session name
//	replay  duration of history to send on connect, e.g. "5m"
func (s *Server) handleStream(rw http.ResponseWriter, r *http.Request) {
	kinds := parseKindFilter(r.URL.Query().Get("events"))
	sessionFilter := r.URL.Query().Get("session")

	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	metrics.StreamConnections.Inc()
	defer metrics.StreamConnections.Dec()
	s.logger.Info("stream client connected", "remote", r.RemoteAddr)

	queue := make(chan domain.Event, streamBuffer)
	forward := func(evt domain.Event) {
		if sessionFilter != "" && evt.Session != sessionFilter {
			return
		}
		if len(kinds) > 0 {
			if _, ok := kinds[evt.Kind]; !ok {
				return
			}
		}
		select {
		case queue <- evt:
		default:
			// Slow consumer; the history ring still has the event.
		}
	}

	if replay := r.URL.Query().Get("replay"); replay != "" {
		if d, err := time.ParseDuration(replay); err == nil && d > 0 {
			for _, evt := range s.cfg.Hub.Replay(domain.EventAll, time.Now().Add(-d)) {
				forward(evt)
			}
		}
	}

	handlerID := s.cfg.Hub.On(domain.EventAll, forward)
	defer s.cfg.Hub.Off(domain.EventAll, handlerID)

	// Read loop only detects closure.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(maxInboundFrame)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case evt := <-queue:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				s.logger.Debug("stream write failed", "err", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func parseKindFilter(raw string) map[domain.EventKind]struct{} {
	if raw == "" {
		return nil
	}
	kinds := make(map[domain.EventKind]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == string(domain.EventAll) {
			return nil
		}
		kinds[domain.EventKind(part)] = struct{}{}
	}
	return kinds
}
