// ABOUTME: Presence registry mapping each online user to their single live channel
// ABOUTME: Last connection wins; stale unregisters from evicted channels are ignored

package presence

import (
	"log/slog"
	"sort"
	"sync"
)

// Close codes sent when a channel is closed by the server.
const (
	CloseSessionReplaced    = 4001
	CloseAccountDeactivated = 4003
	CloseGoingAway          = 1001
)

// Channel is a live, outbound-capable connection to one user.
type Channel interface {
	ID() string
	Send(payload []byte) error
	Close(code int, reason string)
}

// Registry tracks which user is reachable on which channel.
// It is safe for concurrent use.
type Registry struct {
	channels map[string]Channel // userID -> current channel
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels: make(map[string]Channel),
		logger:   logger.With("component", "presence"),
	}
}

// Register makes ch the user's current channel and returns the channel it
// replaced, if any. The caller is responsible for closing the evicted channel.
func (r *Registry) Register(userID string, ch Channel) Channel {
	r.mu.Lock()
	evicted := r.channels[userID]
	r.channels[userID] = ch
	total := len(r.channels)
	r.mu.Unlock()

	if evicted != nil && evicted.ID() == ch.ID() {
		evicted = nil
	}

	r.logger.Info("user online",
		"user_id", userID,
		"channel_id", ch.ID(),
		"replaced", evicted != nil,
		"total_online", total,
	)
	return evicted
}

// Lookup returns the user's current channel.
func (r *Registry) Lookup(userID string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[userID]
	return ch, ok
}

// Unregister removes the entry only if ch is still the user's current channel.
// It reports whether an entry was removed.
func (r *Registry) Unregister(userID string, ch Channel) bool {
	r.mu.Lock()
	current, ok := r.channels[userID]
	if !ok || current.ID() != ch.ID() {
		r.mu.Unlock()
		return false
	}
	delete(r.channels, userID)
	total := len(r.channels)
	r.mu.Unlock()

	r.logger.Info("user offline",
		"user_id", userID,
		"channel_id", ch.ID(),
		"total_online", total,
	)
	return true
}

// IsOnline reports whether the user has a live channel.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Online returns the IDs of all online users, sorted.
func (r *Registry) Online() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Notify sends payload to the user's current channel, if any.
// Returns false when the user is offline or the send failed.
func (r *Registry) Notify(userID string, payload []byte) bool {
	ch, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	if err := ch.Send(payload); err != nil {
		r.logger.Debug("dropping push", "user_id", userID, "error", err)
		return false
	}
	return true
}

// Close closes every tracked channel and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	channels := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.channels = make(map[string]Channel)
	r.mu.Unlock()

	for _, ch := range channels {
		ch.Close(CloseGoingAway, "server shutdown")
	}
}
