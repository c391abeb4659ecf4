package server

import (
	"context"
	"log/slog"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/Tyrowin/livechat/internal/metrics"
	"github.com/Tyrowin/livechat/internal/protocol"
)

// DeliveryOutcome summarizes one Route call.
type DeliveryOutcome struct {
	Targets   int
	Delivered int
	Offline   int
	Dropped   int
	Acked     bool
	Err       error
}

// Router pushes persisted messages to the live connections of their
// recipients and acknowledges the sender.
type Router struct {
	registry *Registry
	members  chat.RoomMembership
	users    chat.UserDirectory
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewRouter builds a router. users may be nil, in which case notifications
// carry no sender display fields.
func NewRouter(registry *Registry, members chat.RoomMembership, users chat.UserDirectory, collector *metrics.Collector, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		members:  members,
		users:    users,
		metrics:  collector,
		logger:   logger,
	}
}

// Route delivers new_message to every reachable recipient of msg and then
// queues exactly one message_sent ack to origin. Recipients without a live
// connection are skipped. Room membership is read fresh on every call.
func (r *Router) Route(ctx context.Context, origin Conn, msg chat.Message) DeliveryOutcome {
	var out DeliveryOutcome

	targets, err := r.recipients(ctx, msg)
	if err != nil {
		r.logger.Error("resolve recipients", "message", msg.ID, "error", err)
		out.Err = err
	}
	out.Targets = len(targets)

	var frame []byte
	for _, id := range targets {
		conn, ok := r.registry.Lookup(id)
		if !ok {
			out.Offline++
			continue
		}
		if frame == nil {
			frame, err = protocol.EncodeNewMessage(r.notification(ctx, msg))
			if err != nil {
				r.logger.Error("encode notification", "message", msg.ID, "error", err)
				out.Err = err
				break
			}
		}
		if conn.Deliver(frame) {
			out.Delivered++
		} else {
			out.Dropped++
			r.logger.Warn("notification dropped", "message", msg.ID, "user", int64(id), "session", conn.ID())
		}
	}

	r.metrics.RecordDelivery(metrics.DeliveryDelivered, out.Delivered)
	r.metrics.RecordDelivery(metrics.DeliveryOffline, out.Offline)
	r.metrics.RecordDelivery(metrics.DeliveryDropped, out.Dropped)

	if origin != nil {
		ack, err := protocol.EncodeMessageSent(msg)
		if err != nil {
			r.logger.Error("encode ack", "message", msg.ID, "error", err)
			out.Err = err
			return out
		}
		out.Acked = origin.Deliver(ack)
		if out.Acked {
			r.metrics.AckQueued()
		}
	}
	return out
}

func (r *Router) recipients(ctx context.Context, msg chat.Message) ([]chat.Identity, error) {
	if msg.ReceiverID != nil {
		return []chat.Identity{*msg.ReceiverID}, nil
	}
	if msg.ChatRoomID == nil {
		return nil, nil
	}

	members, err := r.members.MembersOf(ctx, *msg.ChatRoomID)
	if err != nil {
		return nil, err
	}

	seen := make(map[chat.Identity]struct{}, len(members))
	targets := make([]chat.Identity, 0, len(members))
	for _, id := range members {
		if id == msg.SenderID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		targets = append(targets, id)
	}
	return targets, nil
}

func (r *Router) notification(ctx context.Context, msg chat.Message) protocol.Notification {
	n := protocol.Notification{Message: msg}
	if r.users == nil {
		return n
	}
	profile, err := r.users.Profile(ctx, msg.SenderID)
	if err != nil {
		r.logger.Warn("sender profile lookup failed", "user", int64(msg.SenderID), "error", err)
		return n
	}
	n.SenderName = profile.DisplayName
	n.SenderAvatar = profile.ProfilePicture
	return n
}
