package model

import (
	"fmt"
	"time"
)

type MessageType string

const (
	MessageText MessageType = "text"
	MessageFile MessageType = "file"
)

// Target is where a message is addressed: exactly one of PrivateTarget or
// GroupTarget. The interface is sealed so a message can never be addressed
// to both a user and a group, or to neither.
type Target interface {
	isTarget()
}

// PrivateTarget addresses a one-to-one message to a user.
type PrivateTarget struct {
	ReceiverID int64
}

// GroupTarget addresses a message to every member of a group.
type GroupTarget struct {
	GroupID int64
}

func (PrivateTarget) isTarget() {}
func (GroupTarget) isTarget() {}

// FileRef is an opaque reference produced by the upload step. It is stored
// and returned verbatim, never opened.
type FileRef struct {
	Path string `json:"file_path"`
	Name string `json:"file_name"`
}

// Message is an immutable chat message. ID is assigned at persist time and
// is monotonic, so it doubles as the ordering key and as the group read
// watermark. IsRead is meaningful for private messages only.
type Message struct {
	ID        int64
	SenderID  int64
	Target    Target
	Type      MessageType
	Content   string
	File      *FileRef
	IsRead    bool
	CreatedAt time.Time
}

// TypeFor derives the message type from file presence.
func TypeFor(file *FileRef) MessageType {
	if file != nil {
		return MessageFile
	}
	return MessageText
}

// MessageRecord is the wire shape of a message: the target union flattened
// into the two nullable id columns clients expect.
type MessageRecord struct {
	ID          int64       `json:"id"`
	SenderID    int64       `json:"sender_id"`
	ReceiverID  *int64      `json:"receiver_id"`
	GroupID     *int64      `json:"group_id"`
	MessageType MessageType `json:"message_type"`
	Content     string      `json:"content"`
	FilePath    string      `json:"file_path,omitempty"`
	FileName    string      `json:"file_name,omitempty"`
	IsRead      bool        `json:"is_read"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Record flattens m for transport.
func (m *Message) Record() MessageRecord {
	rec := MessageRecord{
		ID:          m.ID,
		SenderID:    m.SenderID,
		MessageType: m.Type,
		Content:     m.Content,
		IsRead:      m.IsRead,
		CreatedAt:   m.CreatedAt,
	}
	switch t := m.Target.(type) {
	case PrivateTarget:
		id := t.ReceiverID
		rec.ReceiverID = &id
	case GroupTarget:
		id := t.GroupID
		rec.GroupID = &id
	}
	if m.File != nil {
		rec.FilePath = m.File.Path
		rec.FileName = m.File.Name
	}
	return rec
}

// TargetFromColumns rebuilds the target union from the two nullable store
// columns. Exactly one must be set.
func TargetFromColumns(receiverID, groupID *int64) (Target, error) {
	switch {
	case receiverID != nil && groupID == nil:
		return PrivateTarget{ReceiverID: *receiverID}, nil
	case groupID != nil && receiverID == nil:
		return GroupTarget{GroupID: *groupID}, nil
	default:
		return nil, fmt.Errorf("model: message must have exactly one of receiver_id or group_id")
	}
}

// MessageView is a MessageRecord with the sender's display summary attached.
// It is what list responses and new_message pushes carry.
type MessageView struct {
	MessageRecord
	Sender *UserSummary `json:"sender"`
}

// View builds the external shape of m. sender may be nil when the sender
// could not be resolved.
func (m *Message) View(sender *UserSummary) MessageView {
	return MessageView{MessageRecord: m.Record(), Sender: sender}
}
