// Package push carries events to connected clients.
//
// Hub keeps the live WebSocket sessions of this process, grouped by user: a
// user with three tabs open has three sessions and every push reaches all of
// them. Broker puts Redis pub/sub in front of the Hub so that a push issued
// on one instance reaches sessions held by any instance.
//
// WIRE PROTOCOL:
//
//	client → {"type":"authenticate","data":{"token":"<jwt>"}}
//	server → {"type":"authenticated","data":{"user_id":1,"session_id":"..."}}
//	         {"type":"auth_fail","data":{"message":"..."}}   then close
//	server → {"type":"<event>","data":<payload>}             every push
//
// The token may also be passed as ?token= on the upgrade request, since
// browsers cannot set headers on a WebSocket handshake.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	sendBuffer   = 64
	authTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 25 * time.Second
	pingTimeout  = 5 * time.Second
)

// Control message types.
const (
	TypeAuthenticate  = "authenticate"
	TypeAuthenticated = "authenticated"
	TypeAuthFail      = "auth_fail"
	TypePing          = "ping"
	TypePong          = "pong"
)

// ErrSessionBackedUp is returned by PushToUser when at least one session's
// send buffer was full and the event was dropped for it.
var ErrSessionBackedUp = errors.New("push: session send buffer full")

// Event is the envelope of every frame the server writes.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// inbound is what the hub reads from clients. Data stays raw until the type
// is known.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type authData struct {
	Token string `json:"token"`
}

// TokenValidator turns a bearer token into a user id.
// *auth.TokenService implements it.
type TokenValidator interface {
	Validate(token string) (int64, error)
}

type session struct {
	id     string
	userID int64
	conn   *websocket.Conn
	send   chan Event

	ctx    context.Context
	cancel context.CancelFunc
}

type Hub struct {
	mu       sync.RWMutex
	sessions map[int64]map[*session]struct{}
	closed   bool

	tokens         TokenValidator
	originPatterns []string
	logger         *slog.Logger
}

// NewHub creates an empty hub. originPatterns are host patterns allowed to
// open a socket cross-origin; same-origin requests are always accepted.
func NewHub(tokens TokenValidator, originPatterns []string, logger *slog.Logger) *Hub {
	return &Hub{
		sessions:       map[int64]map[*session]struct{}{},
		tokens:         tokens,
		originPatterns: originPatterns,
		logger:         logger,
	}
}

// PushToUser queues an event for every live session of userID. It never
// blocks: a session whose buffer is full misses the event. A user with no
// sessions is not an error.
func (h *Hub) PushToUser(_ context.Context, userID int64, event string, payload any) error {
	ev := Event{Type: event, Data: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for s := range h.sessions[userID] {
		select {
		case s.send <- ev:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: %d of user %d's sessions missed %s", ErrSessionBackedUp, dropped, userID, event)
	}
	return nil
}

// Close ends every live session with StatusGoingAway so clients reconnect
// to another instance. Sessions that authenticate afterwards are closed the
// same way. It does not wait for the sessions to finish closing.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*session
	for _, set := range h.sessions {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		go s.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	h.logger.Info("push hub closed", slog.Int("sessions", len(all)))
}

// SessionCount returns the number of live sessions of userID.
func (h *Hub) SessionCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// ServeHTTP upgrades the request, authenticates it and keeps the session
// registered until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The server's read/write timeouts would otherwise stay on the hijacked
	// connection and cut every session off after a few seconds.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept has already written the error response.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx := r.Context()
	userID, err := h.authenticate(ctx, conn, r.URL.Query().Get("token"))
	if err != nil {
		h.logger.Info("websocket auth failed", slog.String("error", err.Error()))
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		_ = wsjson.Write(writeCtx, conn, Event{Type: TypeAuthFail, Data: map[string]string{"message": "authentication failed"}})
		cancel()
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	s := h.add(userID, conn)
	defer h.remove(s)

	s.send <- Event{Type: TypeAuthenticated, Data: map[string]any{
		"user_id":    userID,
		"session_id": s.id,
	}}

	h.readLoop(s)
}

// authenticate uses the query token when present, otherwise waits for an
// authenticate message.
func (h *Hub) authenticate(ctx context.Context, conn *websocket.Conn, queryToken string) (int64, error) {
	token := queryToken
	if token == "" {
		readCtx, cancel := context.WithTimeout(ctx, authTimeout)
		defer cancel()

		var msg inbound
		if err := wsjson.Read(readCtx, conn, &msg); err != nil {
			return 0, fmt.Errorf("push: reading authenticate message: %w", err)
		}
		if msg.Type != TypeAuthenticate {
			return 0, fmt.Errorf("push: expected %s, got %q", TypeAuthenticate, msg.Type)
		}
		var data authData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return 0, fmt.Errorf("push: decoding authenticate data: %w", err)
		}
		token = data.Token
	}
	if token == "" {
		return 0, errors.New("push: missing token")
	}
	return h.tokens.Validate(token)
}

func (h *Hub) add(userID int64, conn *websocket.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan Event, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	h.mu.Lock()
	if h.sessions[userID] == nil {
		h.sessions[userID] = map[*session]struct{}{}
	}
	h.sessions[userID][s] = struct{}{}
	closed := h.closed
	h.mu.Unlock()

	if closed {
		// Lost the race with Close: the read loop returns at once.
		go s.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}

	go h.writeLoop(s)
	go h.keepAliveLoop(s)

	h.logger.Info("session opened",
		slog.Int64("userID", userID),
		slog.String("sessionID", s.id),
	)
	return s
}

func (h *Hub) remove(s *session) {
	s.cancel()

	h.mu.Lock()
	if set, ok := h.sessions[s.userID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, s.userID)
		}
	}
	h.mu.Unlock()

	_ = s.conn.Close(websocket.StatusNormalClosure, "bye")

	h.logger.Info("session closed",
		slog.Int64("userID", s.userID),
		slog.String("sessionID", s.id),
	)
}

// readLoop consumes client frames until the connection ends. Reading is
// also what processes close and pong control frames.
func (h *Hub) readLoop(s *session) {
	for {
		var msg inbound
		if err := wsjson.Read(s.ctx, s.conn, &msg); err != nil {
			return
		}
		switch msg.Type {
		case TypePing:
			select {
			case s.send <- Event{Type: TypePong}:
			default:
			}
		default:
			h.logger.Debug("ignoring client message",
				slog.String("sessionID", s.id),
				slog.String("type", msg.Type),
			)
		}
	}
}

// writeLoop is the only writer of data frames on s.conn after authentication.
// The send channel is never closed; the loop ends with the session context.
func (h *Hub) writeLoop(s *session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.send:
			writeCtx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := wsjson.Write(writeCtx, s.conn, ev)
			cancel()
			if err != nil {
				h.logger.Debug("session write failed",
					slog.String("sessionID", s.id),
					slog.String("error", err.Error()),
				)
				s.cancel()
				return
			}
		}
	}
}

func (h *Hub) keepAliveLoop(s *session) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, pingTimeout)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				s.cancel()
				return
			}
		}
	}
}
