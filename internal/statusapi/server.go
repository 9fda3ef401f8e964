// internal/statusapi/server.go
package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/user/hallmonitor/internal/chat"
	"github.com/user/hallmonitor/internal/inputlock"
)

// Agent is the slice of the session controller the local API exposes.
type Agent interface {
	ClientID() string
	SendMessage(body string) error
}

// ConnectionState reports whether the coordinator link is up.
type ConnectionState interface {
	Connected() bool
}

// LockStatus reads the current input lock state.
type LockStatus interface {
	Status() inputlock.Status
}

// Server is the local HTTP surface for the machine's operator: health,
// agent status, and operator-side chat messages.
type Server struct {
	agent Agent
	conn  ConnectionState
	locks LockStatus
	chats *chat.Store
	mux   *http.ServeMux
}

// NewServer creates the local status API over the given collaborators.
func NewServer(agent Agent, conn ConnectionState, locks LockStatus, chats *chat.Store) *Server {
	s := &Server{
		agent: agent,
		conn:  conn,
		locks: locks,
		chats: chats,
		mux:   http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("POST /message", s.handleMessage)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type statusResponse struct {
	ClientID  string           `json:"client_id"`
	Connected bool             `json:"connected"`
	Locks     inputlock.Status `json:"locks"`
	Unread    map[string]int   `json:"unread"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		ClientID:  s.agent.ClientID(),
		Connected: s.conn.Connected(),
		Locks:     s.locks.Status(),
		Unread:    s.chats.UnreadCount(s.agent.ClientID()),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// messageRequest is the JSON body for POST /message.
type messageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, `{"error":"message is required"}`, http.StatusBadRequest)
		return
	}

	if err := s.agent.SendMessage(req.Message); err != nil {
		slog.Error("operator message failed", "error", err)
		http.Error(w, `{"error":"not connected"}`, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "sent"})
}
