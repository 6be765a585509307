package changefeed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubRoutesByTableAndPredicate(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	var messages, cursors atomic.Int32
	unsubMsg := hub.Subscribe(TableMessages, func(c Change) bool {
		return c.Row.Uint64("sender_id") != 1
	}, func(context.Context, Change) { messages.Add(1) })
	hub.Subscribe(TableReadCursors, nil, func(context.Context, Change) { cursors.Add(1) })

	hub.Publish(ctx, Change{Table: TableMessages, Op: OpInsert, Row: Row{"sender_id": uint64(2)}})
	hub.Publish(ctx, Change{Table: TableMessages, Op: OpInsert, Row: Row{"sender_id": "1"}})
	hub.Publish(ctx, Change{Table: TableReadCursors, Op: OpUpdate, Row: Row{"user_id": "1"}})

	assert.EqualValues(t, 1, messages.Load())
	assert.EqualValues(t, 1, cursors.Load())

	unsubMsg()
	unsubMsg()
	hub.Publish(ctx, Change{Table: TableMessages, Op: OpInsert, Row: Row{"sender_id": uint64(2)}})
	assert.EqualValues(t, 1, messages.Load())
}

func TestHubRecoversFromHandlerPanic(t *testing.T) {
	hub := NewHub()
	var delivered atomic.Int32
	hub.Subscribe(TableMessages, nil, func(context.Context, Change) { panic("boom") })
	hub.Subscribe(TableMessages, nil, func(context.Context, Change) { delivered.Add(1) })

	assert.NotPanics(t, func() {
		hub.Publish(context.Background(), Change{Table: TableMessages, Op: OpInsert})
	})
	assert.EqualValues(t, 1, delivered.Load())
}

func TestHubReconnectNotifiesOnlyAfterDisconnect(t *testing.T) {
	hub := NewHub()
	var calls atomic.Int32
	cancel := hub.OnReconnect(func(source string) {
		assert.Equal(t, "mongo", source)
		calls.Add(1)
	})

	hub.SetConnected("mongo", true)
	assert.EqualValues(t, 0, calls.Load())
	assert.True(t, hub.Connected())

	hub.SetConnected("mongo", false)
	hub.SetConnected("mongo", false)
	assert.False(t, hub.Connected())

	hub.SetConnected("mongo", true)
	assert.EqualValues(t, 1, calls.Load())
	assert.True(t, hub.Connected())

	cancel()
	hub.SetConnected("mongo", false)
	hub.SetConnected("mongo", true)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRowAccessors(t *testing.T) {
	row := Row{
		"id":      "42",
		"neg":     int64(-1),
		"name":    "abc",
		"read_at": "2024-01-02 03:04:05",
	}
	assert.EqualValues(t, 42, row.Uint64("id"))
	assert.EqualValues(t, 0, row.Uint64("neg"))
	assert.EqualValues(t, 0, row.Uint64("absent"))
	assert.Equal(t, "abc", row.String("name"))
	assert.Equal(t, "", row.String("absent"))
	ts := row.Time("read_at")
	assert.Equal(t, 2024, ts.Year())
	assert.Equal(t, 5, ts.Second())
	assert.True(t, row.Time("absent").IsZero())
}
