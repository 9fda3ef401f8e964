// internal/chat/store.go
package chat

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/user/hallmonitor/internal/types"
)

// Store holds per-conversation message history and online-user membership.
// Conversations are keyed by the canonical sorted participant pair, so the
// same history is found regardless of argument order. All access goes
// through a single store-level mutex; the display layer only reads via
// accessors and never touches the maps directly.
type Store struct {
	historyLimit int

	mu            sync.Mutex
	conversations map[types.ConversationKey][]*types.ChatMessage
	online        map[string]struct{}
}

// NewStore creates a Store that caps each conversation at historyLimit
// messages, evicting the oldest first.
func NewStore(historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Store{
		historyLimit:  historyLimit,
		conversations: make(map[types.ConversationKey][]*types.ChatMessage),
		online:        make(map[string]struct{}),
	}
}

// AddUser marks a user as online. Tied to connect events.
func (s *Store) AddUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = struct{}{}
}

// RemoveUser marks a user as offline. Tied to disconnect events.
func (s *Store) RemoveUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.online, userID)
}

// IsOnline reports whether the user is currently marked online.
func (s *Store) IsOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[userID]
	return ok
}

// Save appends a message to the canonical conversation and returns it.
// The history cap is applied after insert, strict FIFO.
func (s *Store) Save(from, to, body string, kind types.MessageKind) *types.ChatMessage {
	msg := &types.ChatMessage{
		ID:        types.NewMessageID(),
		From:      from,
		To:        to,
		Body:      body,
		Kind:      kind,
		CreatedAt: time.Now(),
	}

	key := types.NewConversationKey(from, to)

	s.mu.Lock()
	history := append(s.conversations[key], msg)
	if len(history) > s.historyLimit {
		history = history[len(history)-s.historyLimit:]
	}
	s.conversations[key] = history
	s.mu.Unlock()

	slog.Debug("chat message saved", "from", from, "to", to, "kind", string(kind))
	return msg
}

// History returns up to limit of the most recent messages between the two
// users, in chronological order. limit <= 0 returns the whole history.
func (s *Store) History(user1, user2 string, limit int) []*types.ChatMessage {
	key := types.NewConversationKey(user1, user2)

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.conversations[key]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]*types.ChatMessage, len(history))
	copy(out, history)
	return out
}

// MarkRead flips the read flag on one message (by id) or, with an empty
// id, on every message in the conversation.
func (s *Store) MarkRead(user1, user2 string, messageID types.MessageID) {
	key := types.NewConversationKey(user1, user2)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.conversations[key] {
		if messageID == "" {
			msg.Read = true
			continue
		}
		if msg.ID == messageID {
			msg.Read = true
			return
		}
	}
}

// UnreadCount returns the number of unread messages addressed to user,
// keyed by the other participant of each conversation.
func (s *Store) UnreadCount(user string) map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	unread := make(map[string]int)
	for key, history := range s.conversations {
		if !key.Contains(user) {
			continue
		}
		count := 0
		for _, msg := range history {
			if msg.To == user && !msg.Read {
				count++
			}
		}
		if count > 0 {
			unread[key.Other(user)] = count
		}
	}
	return unread
}

// TotalUnread sums UnreadCount across all conversations.
func (s *Store) TotalUnread(user string) int {
	total := 0
	for _, n := range s.UnreadCount(user) {
		total += n
	}
	return total
}

// Broadcast saves a message from the sender to every other online user
// and returns the recipient ids.
func (s *Store) Broadcast(from, body string) []string {
	s.mu.Lock()
	recipients := make([]string, 0, len(s.online))
	for userID := range s.online {
		if userID != from {
			recipients = append(recipients, userID)
		}
	}
	s.mu.Unlock()

	sort.Strings(recipients)
	for _, userID := range recipients {
		s.Save(from, userID, body, types.KindBroadcast)
	}

	slog.Info("broadcast sent", "from", from, "recipients", len(recipients))
	return recipients
}

// ConversationSummary describes one active conversation for a user.
type ConversationSummary struct {
	UserID      string             `json:"user_id"`
	LastMessage *types.ChatMessage `json:"last_message"`
	UnreadCount int                `json:"unread_count"`
	Online      bool               `json:"online"`
}

// ActiveConversations lists the user's non-empty conversations, most
// recent first.
func (s *Store) ActiveConversations(user string) []ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ConversationSummary
	for key, history := range s.conversations {
		if !key.Contains(user) || len(history) == 0 {
			continue
		}
		other := key.Other(user)
		unread := 0
		for _, msg := range history {
			if msg.To == user && !msg.Read {
				unread++
			}
		}
		_, online := s.online[other]
		out = append(out, ConversationSummary{
			UserID:      other,
			LastMessage: history[len(history)-1],
			UnreadCount: unread,
			Online:      online,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out
}

// DeleteConversation removes the whole history between the two users.
// Returns false if there was nothing to delete.
func (s *Store) DeleteConversation(user1, user2 string) bool {
	key := types.NewConversationKey(user1, user2)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[key]; !ok {
		return false
	}
	delete(s.conversations, key)
	return true
}
