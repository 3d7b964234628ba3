package relay

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/danmuck/dps_blobs/src/protocol"
	"github.com/danmuck/dps_blobs/src/transport"
	logs "github.com/danmuck/smplog"
	"github.com/gorilla/websocket"
)

// Server is a websocket relay. Each connected client may publish envelopes
// and register filtered subscriptions; every published envelope is fanned
// out to all matching subscriptions across all connections.
type Server struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*serverConn]struct{}
}

type serverConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]transport.Filter
}

// NewServer returns a relay ready to be mounted as an http.Handler.
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 16,
			WriteBufferSize: 1 << 16,
			// identity is out of scope for the relay; anyone may connect
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*serverConn]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket and services its frames
// until the peer disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Warnf("relay: upgrade failed: %v", err)
		return
	}

	conn := &serverConn{
		ws:   ws,
		subs: make(map[string]transport.Filter),
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	logs.Debugf("relay: client connected from %s", ws.RemoteAddr())
	s.readPump(conn)

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	ws.Close()
	logs.Debugf("relay: client disconnected from %s", ws.RemoteAddr())
}

func (s *Server) readPump(conn *serverConn) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		verb, parts, err := decodeFrame(data)
		if err != nil {
			logs.Warnf("relay: bad frame: %v", err)
			continue
		}

		switch verb {
		case verbEvent:
			if len(parts) != 1 {
				logs.Warnf("relay: EVENT frame has %d parts, want 1", len(parts))
				continue
			}
			var env protocol.Envelope
			if err := json.Unmarshal(parts[0], &env); err != nil {
				logs.Warnf("relay: EVENT frame has bad envelope: %v", err)
				continue
			}
			s.broadcast(&env)

		case verbReq:
			if len(parts) != 2 {
				logs.Warnf("relay: REQ frame has %d parts, want 2", len(parts))
				continue
			}
			var subID string
			var filter transport.Filter
			if err := json.Unmarshal(parts[0], &subID); err != nil {
				logs.Warnf("relay: REQ frame has bad subscription id: %v", err)
				continue
			}
			if err := json.Unmarshal(parts[1], &filter); err != nil {
				logs.Warnf("relay: REQ frame has bad filter: %v", err)
				continue
			}
			s.mu.Lock()
			conn.subs[subID] = filter
			s.mu.Unlock()

			// acknowledge registration; until the subscriber sees this,
			// events published on other connections may not match yet
			ack, err := encodeFrame(verbEose, subID)
			if err != nil {
				logs.Errorf(err, "relay: failed to encode subscription ack")
				continue
			}
			conn.writeMu.Lock()
			err = conn.ws.WriteMessage(websocket.TextMessage, ack)
			conn.writeMu.Unlock()
			if err != nil {
				logs.Warnf("relay: subscription ack to %s failed: %v", conn.ws.RemoteAddr(), err)
			}

		case verbClose:
			if len(parts) != 1 {
				continue
			}
			var subID string
			if err := json.Unmarshal(parts[0], &subID); err != nil {
				continue
			}
			s.mu.Lock()
			delete(conn.subs, subID)
			s.mu.Unlock()

		default:
			logs.Warnf("relay: unknown frame verb %q", verb)
		}
	}
}

// broadcast delivers env to every matching subscription on every connection.
func (s *Server) broadcast(env *protocol.Envelope) {
	type delivery struct {
		conn  *serverConn
		subID string
	}

	s.mu.Lock()
	var deliveries []delivery
	for conn := range s.conns {
		for subID, filter := range conn.subs {
			if filter.Matches(env) {
				deliveries = append(deliveries, delivery{conn: conn, subID: subID})
			}
		}
	}
	s.mu.Unlock()

	for _, d := range deliveries {
		frame, err := encodeFrame(verbEvent, d.subID, env)
		if err != nil {
			logs.Errorf(err, "relay: failed to encode delivery")
			continue
		}
		d.conn.writeMu.Lock()
		err = d.conn.ws.WriteMessage(websocket.TextMessage, frame)
		d.conn.writeMu.Unlock()
		if err != nil {
			logs.Warnf("relay: delivery to %s failed: %v", d.conn.ws.RemoteAddr(), err)
		}
	}
}
