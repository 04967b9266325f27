package domain

import (
	"sort"
	"strings"
	"time"
)

// Fetch window bounds.
const (
	DefaultFetchLimit = 100
	MaxFetchLimit     = 100
	MaxContentLength  = 4000
)

// Message is an immutable chat message. Sender fields other than SenderID
// are filled at read time by the identity resolver and are never stored.
type Message struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Recipient Recipient `json:"recipient_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	SenderName   string `json:"sender_name,omitempty"`
	SenderRole   Role   `json:"sender_role,omitempty"`
	SenderAvatar string `json:"sender_avatar,omitempty"`
}

// Draft is a message before the store has assigned an id and timestamp.
type Draft struct {
	SenderID  string `validate:"required"`
	Recipient Recipient
	Content   string `validate:"notblank,max=4000"`
}

// NewDraft trims content and builds a draft.
func NewDraft(senderID string, to Recipient, content string) Draft {
	return Draft{
		SenderID:  strings.TrimSpace(senderID),
		Recipient: to,
		Content:   strings.TrimSpace(content),
	}
}

// Validate checks a draft. A missing sender is ErrNotAuthenticated, every
// other problem is ErrValidation.
func (d Draft) Validate() error {
	if d.SenderID == "" {
		return ErrNotAuthenticated
	}
	if err := validatorInstance.Struct(d); err != nil {
		if strings.TrimSpace(d.Content) == "" {
			return Invalid("message content is empty")
		}
		return Invalid("%s", err.Error())
	}
	if !d.Recipient.IsBroadcast() {
		peer := d.Recipient.PeerID()
		if strings.TrimSpace(peer) != peer {
			return Invalid("malformed recipient %q", peer)
		}
		if peer == d.SenderID {
			return Invalid("cannot send a private message to yourself")
		}
	}
	return nil
}

// Between reports whether m is a directed message whose {sender, recipient}
// pair equals {a, b} in either direction.
func (m Message) Between(a, b string) bool {
	if m.Recipient.IsBroadcast() {
		return false
	}
	r := m.Recipient.PeerID()
	return (m.SenderID == a && r == b) || (m.SenderID == b && r == a)
}

// ConversationKey identifies the conversation m belongs to. Both directions
// of a private conversation share one key.
func (m Message) ConversationKey() string {
	if m.Recipient.IsBroadcast() {
		return "global"
	}
	return PairKey(m.SenderID, m.Recipient.PeerID())
}

// PairKey is the order-independent key for a private conversation.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// Before orders messages by (created_at, id).
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// SortMessages sorts in place by (created_at, id) ascending.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
}

// MergeMessages returns the union of a and b without duplicate ids,
// ordered by (created_at, id). Entries from b win on id collisions.
func MergeMessages(a, b []Message) []Message {
	byID := make(map[string]int, len(a)+len(b))
	out := make([]Message, 0, len(a)+len(b))
	for _, list := range [][]Message{a, b} {
		for _, m := range list {
			if i, ok := byID[m.ID]; ok {
				out[i] = m
				continue
			}
			byID[m.ID] = len(out)
			out = append(out, m)
		}
	}
	SortMessages(out)
	return out
}

// ClampLimit applies the fetch window bounds.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > MaxFetchLimit {
		return DefaultFetchLimit
	}
	return limit
}

// Decorate copies profile fields onto the message.
func (m Message) Decorate(p Profile) Message {
	m.SenderName = p.Name
	m.SenderRole = p.Role
	m.SenderAvatar = p.AvatarURL
	return m
}
