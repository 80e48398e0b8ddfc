// Package history persists chat messages per channel and replays a
// channel's log in timestamp order.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-linechat/internal/database"
	"github.com/npezzotti/go-linechat/internal/types"
)

const (
	Separator = ":"

	// ChatFrame prefixes every chat message delivered to a client.
	ChatFrame = "JSON:"
)

// SerializationError reports a stored record that could not be decoded.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("decode message %q: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// LineWriter delivers one framed line to a client.
type LineWriter interface {
	WriteLine(ctx context.Context, line []byte) error
}

type History struct {
	store database.Store
	clock func() time.Time

	mu   sync.Mutex
	last time.Time
}

func New(store database.Store) *History {
	return &History{
		store: store,
		clock: time.Now,
	}
}

// Now returns the current UTC time, strictly after every value it returned
// before, so messages persisted through one History never share a
// timestamp.
func (h *History) Now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock().UTC().Round(0)
	if !now.After(h.last) {
		now = h.last.Add(time.Nanosecond)
	}
	h.last = now

	return now
}

func Prefix(channel string) string {
	return channel + Separator
}

func Key(channel string, ts time.Time, senderId string) string {
	return Prefix(channel) + ts.UTC().Format(types.TimeLayout) + Separator + senderId
}

// ValidChannelName rejects names a prefix scan could not tell apart from
// another channel's keys.
func ValidChannelName(name string) bool {
	return name != "" && !strings.Contains(name, Separator)
}

// Persist stores msg in channel. It returns once the backend has
// committed the write.
func (h *History) Persist(ctx context.Context, channel string, msg types.Message, senderId string) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	key := Key(channel, msg.Timestamp, senderId)
	if err := h.store.Insert(ctx, key, raw); err != nil {
		return fmt.Errorf("persist %q: %w", key, err)
	}

	return nil
}

// Load returns every message of channel, oldest first. Messages with equal
// timestamps keep key order, i.e. they are ordered by sender id.
func (h *History) Load(ctx context.Context, channel string) ([]types.Message, error) {
	entries, err := h.store.ScanPrefix(ctx, Prefix(channel))
	if err != nil {
		return nil, err
	}

	msgs := make([]types.Message, 0, len(entries))
	for _, e := range entries {
		var msg types.Message
		if err := json.Unmarshal(e.Value, &msg); err != nil {
			return nil, &SerializationError{Key: e.Key, Err: err}
		}
		msgs = append(msgs, msg)
	}

	slices.SortStableFunc(msgs, func(a, b types.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	return msgs, nil
}

// Replay sends the history of channel to w and returns how many messages
// were delivered. Nothing is sent when a record fails to decode.
func (h *History) Replay(ctx context.Context, channel string, w LineWriter) (int, error) {
	msgs, err := h.Load(ctx, channel)
	if err != nil {
		return 0, err
	}

	for i, msg := range msgs {
		line, err := Frame(ChatFrame, msg)
		if err != nil {
			return i, err
		}
		if err := w.WriteLine(ctx, line); err != nil {
			return i, err
		}
	}

	return len(msgs), nil
}

// Frame renders msg as prefix + JSON + "\n".
func Frame(prefix string, msg types.Message) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	line := make([]byte, 0, len(prefix)+len(raw)+1)
	line = append(line, prefix...)
	line = append(line, raw...)
	line = append(line, '\n')

	return line, nil
}
