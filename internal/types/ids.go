// internal/types/ids.go
package types

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

type MessageID string
type ConversationKey string
type ClientID string

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

// NewConversationKey builds the canonical, order-independent key for a
// two-party conversation. NewConversationKey(a, b) == NewConversationKey(b, a).
func NewConversationKey(user1, user2 string) ConversationKey {
	pair := []string{user1, user2}
	sort.Strings(pair)
	return ConversationKey(strings.Join(pair, "|"))
}

// Participants splits the key back into its sorted participant ids.
func (k ConversationKey) Participants() (string, string) {
	parts := strings.SplitN(string(k), "|", 2)
	if len(parts) < 2 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// Contains reports whether user is one of the key's participants.
func (k ConversationKey) Contains(user string) bool {
	a, b := k.Participants()
	return user == a || user == b
}

// Other returns the participant that is not user, or an empty string if
// user is not part of the conversation.
func (k ConversationKey) Other(user string) string {
	a, b := k.Participants()
	switch user {
	case a:
		return b
	case b:
		return a
	}
	return ""
}
