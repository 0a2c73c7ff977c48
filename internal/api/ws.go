package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// wsMessage is both directions of the /v1/ws protocol. Clients send
// subscribe, unsubscribe and ping; the server answers with ack, pong,
// event and error.
type wsMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Channel string `json:"channel,omitempty"`
	Event   *Event `json:"event,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 20 * time.Second
)

// WSHandler handles GET /v1/ws
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// gorilla connections allow a single concurrent writer
	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	// channel -> subscriber
	subs := map[string]chan Event{}
	defer func() {
		for channel, ch := range subs {
			s.Broker.Unsubscribe(channel, ch)
		}
	}()

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); return nil })

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				wmu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		switch msg.Type {
		case "ping":
			_ = write(wsMessage{Type: "pong", ID: msg.ID})
		case "subscribe":
			if err := s.authorizeChannel(r, msg.Channel); err != nil {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Channel: msg.Channel, Message: err.Error()})
				continue
			}
			if _, ok := subs[msg.Channel]; !ok {
				ch := s.Broker.Subscribe(msg.Channel)
				subs[msg.Channel] = ch
				go func(channel string, c chan Event) {
					for evt := range c {
						evt := evt
						if err := write(wsMessage{Type: "event", Channel: channel, Event: &evt}); err != nil {
							return
						}
					}
				}(msg.Channel, ch)
			}
			_ = write(wsMessage{Type: "ack", ID: msg.ID, Channel: msg.Channel})
		case "unsubscribe":
			if ch, ok := subs[msg.Channel]; ok {
				s.Broker.Unsubscribe(msg.Channel, ch)
				delete(subs, msg.Channel)
			}
			_ = write(wsMessage{Type: "ack", ID: msg.ID, Channel: msg.Channel})
		default:
			_ = write(wsMessage{Type: "error", ID: msg.ID, Message: "unknown message type: " + msg.Type})
		}
	}
}
