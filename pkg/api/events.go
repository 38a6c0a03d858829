package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ZentaChain/palladium/pkg/errs"
	"github.com/ZentaChain/palladium/pkg/network"
)

const (
	// Time allowed to write an event to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	eventBuffer = 64
)

// Event types sent on /api/v1/events
const (
	EventRoster  = "roster"
	EventMessage = "message"
	EventAck     = "ack"
	EventError   = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is one frame of the events stream.
type Event struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data"`
}

// RosterEventInfo is the payload of a roster event.
type RosterEventInfo struct {
	Change   string    `json:"change"`
	User     UserInfo  `json:"user"`
	Previous *UserInfo `json:"previous,omitempty"`
}

// AckInfo is the payload of an ack event.
type AckInfo struct {
	Ref  string   `json:"ref"`
	From UserInfo `json:"from"`
}

// ErrorInfo is the payload of an error event.
type ErrorInfo struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	PacketID string `json:"packet_id,omitempty"`
}

func rosterEventInfo(e network.RosterEvent) RosterEventInfo {
	info := RosterEventInfo{Change: e.Change.String(), User: userInfo(e.User)}
	if e.Previous != nil {
		prev := userInfo(e.Previous)
		info.Previous = &prev
	}
	return info
}

func errorInfo(err error) ErrorInfo {
	info := ErrorInfo{Kind: errs.KindOf(err).String(), Message: err.Error()}
	if de, ok := err.(*network.DeliveryError); ok && de.Packet != nil {
		info.PacketID = de.Packet.ID().String()
	}
	return info
}

// handleEvents handles GET /api/v1/events by upgrading to a websocket and
// streaming session events until either side goes away.
func (s *Server) handleEvents(c *gin.Context) {
	roster := s.node.SubscribeRoster(eventBuffer)
	defer roster.Unsubscribe()
	inbox := s.node.SubscribeMessages(eventBuffer)
	defer inbox.Unsubscribe()
	acks := s.node.SubscribeAcks(eventBuffer)
	defer acks.Unsubscribe()
	failures := s.node.SubscribeErrors(eventBuffer)
	defer failures.Unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go s.readEvents(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var event Event
		select {
		case e, ok := <-roster.C:
			if !ok {
				s.closeEvents(conn)
				return
			}
			event = Event{Type: EventRoster, Data: rosterEventInfo(e)}
		case m, ok := <-inbox.C:
			if !ok {
				s.closeEvents(conn)
				return
			}
			event = Event{Type: EventMessage, Data: messageInfo(m)}
		case a, ok := <-acks.C:
			if !ok {
				s.closeEvents(conn)
				return
			}
			event = Event{Type: EventAck, Data: AckInfo{Ref: a.Ref.String(), From: userInfo(a.From)}}
		case e, ok := <-failures.C:
			if !ok {
				s.closeEvents(conn)
				return
			}
			event = Event{Type: EventError, Data: errorInfo(e)}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case <-closed:
			return
		}

		event.Time = time.Now().Unix()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(event); err != nil {
			s.log.Debug("event stream write failed", zap.Error(err))
			return
		}
	}
}

// readEvents drains control frames and reports when the peer disconnects.
func (s *Server) readEvents(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("event stream closed", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) closeEvents(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
}
