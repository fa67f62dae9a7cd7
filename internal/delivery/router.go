// Package delivery turns committed state changes into push events.
//
// The Router decides WHO receives an event; a Pusher decides HOW it reaches
// them (the WebSocket hub, or the Redis bridge in front of it). Every method
// runs after the store transaction has committed and never returns an error:
// delivery is at-most-once and best-effort, so a failed push is logged and
// forgotten while the persisted state stands.
package delivery

import (
	"context"
	"log/slog"

	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
)

// Event names as seen by clients.
const (
	EventNewMessage     = "new_message"
	EventFriendAdded    = "friend_added"
	EventFriendRemoved  = "friend_removed"
	EventGroupAdded     = "group_added"
	EventGroupRemoved   = "group_removed"
	EventProfileUpdated = "profile_updated"
)

// Pusher is the push transport boundary: deliver one event to every live
// session of one user. Implementations must not block on slow clients.
type Pusher interface {
	PushToUser(ctx context.Context, userID int64, event string, payload any) error
}

// Directory is the read access the router needs to compute recipients and
// build payloads. repository.Queries satisfies it.
type Directory interface {
	MemberIDs(ctx context.Context, groupID int64) ([]int64, error)
	UserSummaries(ctx context.Context, ids []int64) (map[int64]model.UserSummary, error)
}

// Payload shapes for the relationship and group events.
type (
	FriendAddedPayload struct {
		Friend model.UserSummary `json:"friend"`
	}
	FriendRemovedPayload struct {
		FriendID int64 `json:"friend_id"`
	}
	GroupAddedPayload struct {
		Group   model.Group `json:"group"`
		GroupID int64       `json:"group_id"`
	}
	GroupRemovedPayload struct {
		GroupID int64 `json:"group_id"`
	}
	ProfileUpdatedPayload struct {
		User model.UserSummary `json:"user"`
	}
)

type Router struct {
	dir    Directory
	pusher Pusher
	logger *slog.Logger
}

func NewRouter(dir Directory, pusher Pusher, logger *slog.Logger) *Router {
	return &Router{dir: dir, pusher: pusher, logger: logger}
}

// Recipients computes who must see msg in real time.
//
// Private: the receiver and the sender. The sender is included so their
// other open sessions show the message they just sent.
//
// Group: every member at the moment of delivery, sender included. The roster
// is re-read here rather than cached, so a kick or invite that committed
// before this send is already reflected.
func (r *Router) Recipients(ctx context.Context, msg *model.Message) ([]int64, error) {
	switch t := msg.Target.(type) {
	case model.PrivateTarget:
		return dedupe([]int64{t.ReceiverID, msg.SenderID}), nil
	case model.GroupTarget:
		return r.dir.MemberIDs(ctx, t.GroupID)
	}
	return nil, nil
}

// Message pushes new_message for a freshly persisted message.
func (r *Router) Message(ctx context.Context, msg *model.Message) {
	recipients, err := r.Recipients(ctx, msg)
	if err != nil {
		r.logger.Warn("computing recipients failed",
			slog.Int64("messageID", msg.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	var sender *model.UserSummary
	summaries, err := r.dir.UserSummaries(ctx, []int64{msg.SenderID})
	if err != nil {
		r.logger.Warn("loading sender summary failed",
			slog.Int64("messageID", msg.ID),
			slog.String("error", err.Error()),
		)
	} else if s, ok := summaries[msg.SenderID]; ok {
		sender = &s
	}

	r.fanOut(ctx, recipients, EventNewMessage, msg.View(sender))
}

// FriendAdded tells each side about the other.
func (r *Router) FriendAdded(ctx context.Context, a, b model.UserSummary) {
	r.push(ctx, a.ID, EventFriendAdded, FriendAddedPayload{Friend: b})
	if a.ID != b.ID {
		r.push(ctx, b.ID, EventFriendAdded, FriendAddedPayload{Friend: a})
	}
}

func (r *Router) FriendRemoved(ctx context.Context, a, b int64) {
	r.push(ctx, a, EventFriendRemoved, FriendRemovedPayload{FriendID: b})
	r.push(ctx, b, EventFriendRemoved, FriendRemovedPayload{FriendID: a})
}

// GroupAdded notifies users who just joined group (at creation or invite).
func (r *Router) GroupAdded(ctx context.Context, group *model.Group, userIDs []int64) {
	r.fanOut(ctx, userIDs, EventGroupAdded, GroupAddedPayload{Group: *group, GroupID: group.ID})
}

// GroupRemoved notifies users who just lost access to groupID (kick or
// dissolve). The caller captures the ids before the rows are gone.
func (r *Router) GroupRemoved(ctx context.Context, groupID int64, userIDs []int64) {
	r.fanOut(ctx, userIDs, EventGroupRemoved, GroupRemovedPayload{GroupID: groupID})
}

// ProfileUpdated syncs a profile change to the user's friends and to the
// user's own other sessions.
func (r *Router) ProfileUpdated(ctx context.Context, user model.UserSummary, friendIDs []int64) {
	recipients := append([]int64{user.ID}, friendIDs...)
	r.fanOut(ctx, recipients, EventProfileUpdated, ProfileUpdatedPayload{User: user})
}

// fanOut pushes to each recipient independently. There is no ordering
// between recipients and one failure does not stop the rest.
func (r *Router) fanOut(ctx context.Context, userIDs []int64, event string, payload any) {
	for _, id := range dedupe(userIDs) {
		r.push(ctx, id, event, payload)
	}
}

func (r *Router) push(ctx context.Context, userID int64, event string, payload any) {
	if err := r.pusher.PushToUser(ctx, userID, event, payload); err != nil {
		r.logger.Warn("push failed",
			slog.Int64("userID", userID),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// dedupe drops repeated ids, keeping first-seen order.
func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
