// Package gateway is the WebSocket edge: it authenticates the connection's
// player identity, decodes client events and dispatches them to the
// coordinator, and pumps coordinator events back out in order.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/chess-match-server/internal/coord"
	"github.com/park285/chess-match-server/internal/obslog"
	"github.com/park285/chess-match-server/pkg/wire"
)

const writeTimeout = 10 * time.Second

// Server owns the HTTP surface. Credential verification is an upstream
// concern: the identity headers/params arriving here are assumed to have
// been issued by the deployment's auth front.
type Server struct {
	coord      *coord.Coordinator
	sendBuffer int
}

func NewServer(c *coord.Coordinator, sendBuffer int) *Server {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Server{coord: c, sendBuffer: sendBuffer}
}

// Handler returns the HTTP mux with the /ws endpoint and a health probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	playerID := strings.TrimSpace(r.URL.Query().Get("player_id"))
	if playerID == "" {
		http.Error(w, "player_id required", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = playerID
	}
	rating := 0
	if v := strings.TrimSpace(r.URL.Query().Get("rating")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			rating = n
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}

	client := &wsClient{
		id:   playerID,
		conn: conn,
		send: make(chan any, s.sendBuffer),
		done: make(chan struct{}),
	}
	obslog.L().Info("ws_connect", zap.String("player_id", playerID))

	s.coord.Connect(client)
	go client.writePump()
	s.readLoop(r.Context(), client, name, rating)

	// Read loop ended: the connection is gone either way. Teardown is
	// guarded by the coordinator so a replaced connection cannot strip a
	// reconnected player's registration.
	s.coord.Disconnect(client)
	client.close(websocket.StatusNormalClosure)
	obslog.L().Info("ws_disconnect", zap.String("player_id", playerID))
}

func (s *Server) readLoop(ctx context.Context, client *wsClient, name string, rating int) {
	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		var ev wire.ClientEvent
		if jerr := json.Unmarshal(data, &ev); jerr != nil {
			client.Send(wire.Error{Type: wire.TypeError, Code: "bad_event", Message: "cannot decode event"})
			continue
		}
		s.dispatch(ctx, client, &ev, name, rating)
	}
}

func (s *Server) dispatch(ctx context.Context, client *wsClient, ev *wire.ClientEvent, name string, rating int) {
	switch ev.Type {
	case wire.TypeJoinMatchmaking:
		s.coord.JoinMatchmaking(client, name, rating)
	case wire.TypeLeaveMatchmaking:
		s.coord.LeaveMatchmaking(client)
	case wire.TypeJoinSession:
		s.coord.JoinSession(ctx, client, ev.SessionID)
	case wire.TypeSubmitMove:
		s.coord.SubmitMove(ctx, client, ev.SessionID, ev.Move)
	case wire.TypeOfferDraw:
		s.coord.OfferDraw(ctx, client, ev.SessionID)
	case wire.TypeAcceptDraw:
		s.coord.AcceptDraw(ctx, client, ev.SessionID)
	case wire.TypeDeclineDraw:
		s.coord.DeclineDraw(ctx, client, ev.SessionID)
	case wire.TypeResign:
		s.coord.Resign(ctx, client, ev.SessionID)
	default:
		client.Send(wire.Error{Type: wire.TypeError, Code: "bad_event", Message: "unknown event type: " + ev.Type})
	}
}

// wsClient is one live connection. Send never blocks: events queue on a
// buffered channel consumed by a single writer goroutine, which preserves
// delivery order per recipient.
type wsClient struct {
	id        string
	conn      *websocket.Conn
	send      chan any
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsClient) ID() string { return c.id }

// Send queues an event for delivery. Returns false when the buffer is
// full, which the hub treats as a dead/slow client.
func (c *wsClient) Send(event any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *wsClient) writePump() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			data, err := json.Marshal(ev)
			if err != nil {
				obslog.L().Error("ws_encode_error", zap.String("player_id", c.id), zap.Error(err))
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err = c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.close(websocket.StatusAbnormalClosure)
				return
			}
		}
	}
}

func (c *wsClient) close(code websocket.StatusCode) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close(code, "")
	})
}
