// Package notify pushes best-effort updates to connected users over
// websockets. Delivery transport is an external concern; a user without a
// session simply misses the push and reads state over HTTP.
package notify

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Session represents one connected user socket.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) Send(payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNoSession
	}
	return s.conn.WriteJSON(payload)
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// Registry holds user sessions keyed by uid.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry { return &Registry{sessions: make(map[string]*Session)} }

// Add registers a session for uid and returns it. A reconnect displaces the
// previous session, whose socket is closed here; its read loop's cleanup
// then no-ops because Remove checks identity.
func (r *Registry) Add(uid string, conn *websocket.Conn) *Session {
	s := &Session{conn: conn}
	r.mu.Lock()
	old := r.sessions[uid]
	r.sessions[uid] = s
	r.mu.Unlock()
	if old != nil {
		old.close()
	}
	return s
}

// Remove drops the session only if it is still the registered one, so a
// displaced connection's cleanup cannot evict its successor.
func (r *Registry) Remove(uid string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[uid] == s {
		delete(r.sessions, uid)
	}
}

func (r *Registry) Notify(uid string, payload any) error {
	r.mu.RLock()
	s, ok := r.sessions[uid]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(payload); err != nil {
		log.Printf("ws send error: %v", err)
		return err
	}
	return nil
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
