package history

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/go-linechat/internal/database"
	"github.com/npezzotti/go-linechat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	lines [][]byte
	err   error
}

func (w *recordingWriter) WriteLine(_ context.Context, line []byte) error {
	if w.err != nil {
		return w.err
	}
	w.lines = append(w.lines, line)
	return nil
}

func decodeFrame(t *testing.T, line []byte) types.Message {
	t.Helper()

	s := string(line)
	require.True(t, strings.HasPrefix(s, ChatFrame), "expected frame prefix in %q", s)
	require.True(t, strings.HasSuffix(s, "\n"), "expected trailing newline in %q", s)

	var msg types.Message
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(s, ChatFrame), "\n")), &msg))
	return msg
}

func TestReplayOrdersByTimestamp(t *testing.T) {
	t1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	tcases := []struct {
		name  string
		order []time.Time
	}{
		{name: "inserted in order", order: []time.Time{t1, t2}},
		{name: "inserted reversed", order: []time.Time{t2, t1}},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(database.NewMemoryStore())
			ctx := context.Background()

			for _, ts := range tc.order {
				msg := types.NewMessage(ts, "alice", []byte(ts.Format(time.RFC3339)))
				require.NoError(t, h.Persist(ctx, types.DefaultChannel, msg, "id-alice"))
			}

			w := &recordingWriter{}
			n, err := h.Replay(ctx, types.DefaultChannel, w)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			require.Len(t, w.lines, 2)

			assert.True(t, decodeFrame(t, w.lines[0]).Timestamp.Equal(t1), "expected t1 first")
			assert.True(t, decodeFrame(t, w.lines[1]).Timestamp.Equal(t2), "expected t2 second")
		})
	}
}

func TestLoadEqualTimestampsOrderedBySender(t *testing.T) {
	h := New(database.NewMemoryStore())
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, h.Persist(ctx, "dev", types.NewMessage(ts, "zed", []byte("from zed")), "b-id"))
	require.NoError(t, h.Persist(ctx, "dev", types.NewMessage(ts, "amy", []byte("from amy")), "a-id"))

	msgs, err := h.Load(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "amy", msgs[0].Username, "expected ties to follow sender id order")
	assert.Equal(t, "zed", msgs[1].Username)
}

func TestLoadIsolatesChannels(t *testing.T) {
	h := New(database.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, h.Persist(ctx, "dev", types.NewMessage(h.Now(), "a", []byte("x")), "1"))
	require.NoError(t, h.Persist(ctx, "devops", types.NewMessage(h.Now(), "a", []byte("y")), "1"))

	msgs, err := h.Load(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("x"), []byte(msgs[0].Payload))
}

func TestReplayEmptyChannel(t *testing.T) {
	h := New(database.NewMemoryStore())

	w := &recordingWriter{}
	n, err := h.Replay(context.Background(), types.DefaultChannel, w)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.lines)
}

func TestReplayCorruptRecord(t *testing.T) {
	store := database.NewMemoryStore()
	h := New(store)
	ctx := context.Background()

	require.NoError(t, h.Persist(ctx, "general", types.NewMessage(h.Now(), "a", []byte("ok")), "1"))
	badKey := Key("general", h.Now(), "2")
	require.NoError(t, store.Put(ctx, badKey, []byte("garbage")))

	w := &recordingWriter{}
	n, err := h.Replay(ctx, "general", w)

	var serr *SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, badKey, serr.Key)
	assert.Zero(t, n)
	assert.Empty(t, w.lines, "expected nothing to be sent when a record is corrupt")
}

func TestReplayWriteError(t *testing.T) {
	h := New(database.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, h.Persist(ctx, "general", types.NewMessage(h.Now(), "a", []byte("ok")), "1"))

	writeErr := errors.New("broken pipe")
	_, err := h.Replay(ctx, "general", &recordingWriter{err: writeErr})
	assert.ErrorIs(t, err, writeErr)
}

func TestPersistStoreError(t *testing.T) {
	store := &database.MockStore{}
	defer store.AssertExpectations(t)

	storeErr := &database.StoreError{Op: "insert", Err: errors.New("disk full")}
	store.On("Insert", mock.Anything, mock.MatchedBy(func(k string) bool {
		return strings.HasPrefix(k, "dev:")
	}), mock.Anything).Return(storeErr)

	h := New(store)
	err := h.Persist(context.Background(), "dev", types.NewMessage(h.Now(), "a", []byte("x")), "1")
	assert.ErrorIs(t, err, storeErr)
	assert.Contains(t, err.Error(), `persist "dev:`, "expected the key in the error")
}

func TestPersistDuplicateKey(t *testing.T) {
	h := New(database.NewMemoryStore())
	ctx := context.Background()
	msg := types.NewMessage(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), "a", []byte("x"))

	require.NoError(t, h.Persist(ctx, "dev", msg, "1"))
	err := h.Persist(ctx, "dev", msg, "1")
	assert.ErrorIs(t, err, database.ErrKeyExists)
	assert.Contains(t, err.Error(), "dev:2024-03-01T10:00:00.000000000Z:1")
}

func TestPersistWritesCompositeKey(t *testing.T) {
	store := database.NewMemoryStore()
	h := New(store)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 10, 0, 0, 5, time.UTC)

	require.NoError(t, h.Persist(ctx, "dev", types.NewMessage(ts, "a", []byte("x")), "sender-1"))

	raw, err := store.Get(ctx, "dev:2024-03-01T10:00:00.000000005Z:sender-1")
	require.NoError(t, err, "expected message under channel:timestamp:sender key")

	var msg types.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "a", msg.Username)
}

func TestNowIsStrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	h := New(database.NewMemoryStore())
	h.clock = func() time.Time { return fixed }

	a := h.Now()
	b := h.Now()
	c := h.Now()

	assert.True(t, a.Equal(fixed))
	assert.True(t, b.After(a))
	assert.True(t, c.After(b))
	assert.Equal(t, time.UTC, c.Location())
}

func TestKey(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	assert.Equal(t, "general:2024-03-01T09:00:00.000000000Z:abc", Key("general", ts, "abc"))
}

func TestValidChannelName(t *testing.T) {
	tcases := []struct {
		name  string
		valid bool
	}{
		{name: "general", valid: true},
		{name: "dev-ops", valid: true},
		{name: "", valid: false},
		{name: "a:b", valid: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.valid, ValidChannelName(tc.name))
		})
	}
}

func TestFrame(t *testing.T) {
	msg := types.NewMessage(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "bob", []byte("hi"))

	line, err := Frame(ChatFrame, msg)
	require.NoError(t, err)
	assert.Equal(t, `JSON:{"timestamp":"2024-01-02T03:04:05.000000000Z","username":"bob","message":[104,105]}`+"\n", string(line))
}
