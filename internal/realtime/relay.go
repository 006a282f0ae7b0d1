package realtime

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 32
)

// Relay bridges redis pub/sub channels to websocket subscribers. One redis
// subscription is held per board with at least one open socket.
type Relay struct {
	client   *redis.Client
	upgrader websocket.Upgrader

	mu     sync.Mutex
	boards map[string]*boardHub
	closed bool
}

type boardHub struct {
	subs   map[*subscriber]struct{}
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// NewRelay creates a relay over an existing redis client.
func NewRelay(client *redis.Client, checkOrigin func(*http.Request) bool) *Relay {
	return &Relay{
		client: client,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		boards: make(map[string]*boardHub),
	}
}

// ServeBoard upgrades the request and streams the board's events until the
// client disconnects. The caller must have checked read access already.
func (r *Relay) ServeBoard(w http.ResponseWriter, req *http.Request, boardID string) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		log.Printf("realtime: upgrade for board %s: %v", boardID, err)
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	if err := r.join(boardID, sub); err != nil {
		log.Printf("realtime: subscribe board %s: %v", boardID, err)
		conn.Close()
		return
	}

	go sub.writePump()
	sub.readPump()

	r.leave(boardID, sub)
	conn.Close()
}

// join registers a subscriber, lazily opening the redis subscription for the
// board on its first socket.
func (r *Relay) join(boardID string, sub *subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return websocket.ErrCloseSent
	}

	hub, ok := r.boards[boardID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		pubsub := r.client.Subscribe(ctx, channelFor(boardID))
		if _, err := pubsub.Receive(ctx); err != nil {
			cancel()
			pubsub.Close()
			return err
		}

		hub = &boardHub{
			subs:   make(map[*subscriber]struct{}),
			pubsub: pubsub,
			cancel: cancel,
		}
		r.boards[boardID] = hub
		go r.fanout(boardID, hub)
	}

	hub.subs[sub] = struct{}{}
	return nil
}

// leave removes a subscriber and tears down the board's redis subscription
// when the last socket goes away.
func (r *Relay) leave(boardID string, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hub, ok := r.boards[boardID]
	if !ok {
		return
	}
	if _, ok := hub.subs[sub]; !ok {
		return
	}
	delete(hub.subs, sub)
	close(sub.send)

	if len(hub.subs) == 0 {
		hub.cancel()
		hub.pubsub.Close()
		delete(r.boards, boardID)
	}
}

// fanout copies every redis message to every subscriber of the board. A
// subscriber whose send buffer is full misses the message; delivery is at
// most once by design of the transport.
func (r *Relay) fanout(boardID string, hub *boardHub) {
	for msg := range hub.pubsub.Channel() {
		r.mu.Lock()
		for sub := range hub.subs {
			select {
			case sub.send <- []byte(msg.Payload):
			default:
			}
		}
		r.mu.Unlock()
	}
}

// SubscriberCount reports the open sockets for a board.
func (r *Relay) SubscriberCount(boardID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	hub, ok := r.boards[boardID]
	if !ok {
		return 0
	}
	return len(hub.subs)
}

// Close tears down every subscription and closes every socket.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true

	for boardID, hub := range r.boards {
		for sub := range hub.subs {
			close(sub.send)
			sub.conn.Close()
		}
		hub.cancel()
		hub.pubsub.Close()
		delete(r.boards, boardID)
	}
}

// readPump drains the socket until the client goes away. The stream is
// one-way; inbound frames only serve liveness.
func (s *subscriber) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
