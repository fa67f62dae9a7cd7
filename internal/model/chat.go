package model

import "fmt"

// ChatType selects the addressing mode for read-tracking operations.
type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
)

// ParseChatType accepts "private" and "group". "user" is accepted as an
// alias of "private" for older clients.
func ParseChatType(s string) (ChatType, error) {
	switch s {
	case "private", "user":
		return ChatPrivate, nil
	case "group":
		return ChatGroup, nil
	}
	return "", fmt.Errorf("model: unknown chat type %q", s)
}

// UnreadEntry is one line of an unread summary. ChatID is the peer's user id
// for private chats and the group id for group chats.
type UnreadEntry struct {
	ChatType ChatType `json:"chat_type"`
	ChatID   int64    `json:"chat_id"`
	Unread   int      `json:"unread"`
}
