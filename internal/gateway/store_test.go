package gateway

import (
	"Murmur/internal/model"
	"Murmur/internal/pkg/changefeed"
	"Murmur/internal/pkg/mongo"
	"Murmur/internal/repository"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// memMessages 内存版消息仓储
type memMessages struct {
	mu   sync.Mutex
	msgs []*mongo.Message
}

func (m *memMessages) add(msg *mongo.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
}

func (m *memMessages) byRoomDesc(roomID uint64) []*mongo.Message {
	var out []*mongo.Message
	for _, msg := range m.msgs {
		if msg.RoomID == roomID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	return out
}

func (m *memMessages) GetPage(_ context.Context, roomID uint64, offset, limit int) ([]*mongo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc := m.byRoomDesc(roomID)
	if offset >= len(desc) {
		return []*mongo.Message{}, nil
	}
	end := min(offset+limit, len(desc))
	page := append([]*mongo.Message(nil), desc[offset:end]...)
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

func (m *memMessages) GetLatest(_ context.Context, roomID uint64) (*mongo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc := m.byRoomDesc(roomID)
	if len(desc) == 0 {
		return nil, nil
	}
	return desc[0], nil
}

func (m *memMessages) GetLatestByRooms(ctx context.Context, roomIDs []uint64) (map[uint64]*mongo.Message, error) {
	out := make(map[uint64]*mongo.Message)
	for _, id := range roomIDs {
		if msg, _ := m.GetLatest(ctx, id); msg != nil {
			out[id] = msg
		}
	}
	return out, nil
}

func (m *memMessages) CountUnread(_ context.Context, roomID, userID uint64, after time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.msgs {
		if msg.RoomID == roomID && msg.SenderID != userID && (after.IsZero() || msg.SentAt.After(after)) {
			n++
		}
	}
	return n, nil
}

type fixture struct {
	store *Store
	rooms repository.RoomRepo
	msgs  *memMessages
	hub   *changefeed.Hub
	db    *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Room{}, &model.RoomMember{}, &model.ReadCursor{}, &model.PresenceSession{}))

	f := &fixture{
		rooms: repository.NewRoomRepo(db),
		msgs:  &memMessages{},
		hub:   changefeed.NewHub(),
		db:    db,
	}
	f.store = NewStore(f.rooms, repository.NewReadCursorRepo(db), repository.NewPresenceRepo(db), f.msgs, f.hub)
	return f
}

func (f *fixture) room(t *testing.T, users ...uint64) uint64 {
	t.Helper()
	room := &model.Room{Name: "r", CreatedBy: users[0]}
	members := make([]*model.RoomMember, 0, len(users))
	for _, u := range users {
		members = append(members, &model.RoomMember{UserID: u})
	}
	require.NoError(t, f.rooms.CreateRoom(context.Background(), room, members))
	return room.ID
}

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func TestUnreadCountsIncludeEveryRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	busy := f.room(t, 1, 2)
	quiet := f.room(t, 1, 3)

	f.msgs.add(&mongo.Message{ID: "a", RoomID: busy, SenderID: 2, SentAt: t0})
	f.msgs.add(&mongo.Message{ID: "b", RoomID: busy, SenderID: 1, SentAt: t0.Add(time.Second)})
	f.msgs.add(&mongo.Message{ID: "c", RoomID: busy, SenderID: 2, SentAt: t0.Add(2 * time.Second)})

	counts, err := f.store.GetUnreadCountsForUser(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []UnreadCount{{RoomID: busy, Count: 2}, {RoomID: quiet, Count: 0}}, counts)

	require.NoError(t, f.store.UpsertReadCursor(ctx, 1, busy, "a", t0.Add(500*time.Millisecond)))
	n, err := f.store.GetUnreadCountForRoom(ctx, 1, busy)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.store.GetUnreadCountForRoom(ctx, 99, busy)
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestUnreadCountsForMessagesExcludeSender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.room(t, 1, 2, 3)

	f.msgs.add(&mongo.Message{ID: "m1", RoomID: room, SenderID: 1, SentAt: t0})
	f.msgs.add(&mongo.Message{ID: "m2", RoomID: room, SenderID: 2, SentAt: t0.Add(time.Minute)})

	// 用户 2 读到了 m1 之后，用户 3 没有游标
	require.NoError(t, f.store.UpsertReadCursor(ctx, 2, room, "m1", t0.Add(time.Second)))

	got, err := f.store.GetUnreadCountsForMessages(ctx, room, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []MessageUnread{
		{MessageID: "m1", Count: 1},
		{MessageID: "m2", Count: 2},
	}, got)
}

// arrivingMessages 每次读取一页后房间里又到达一条新消息
type arrivingMessages struct {
	*memMessages
	reads atomic.Int32
}

func (m *arrivingMessages) GetPage(ctx context.Context, roomID uint64, offset, limit int) ([]*mongo.Message, error) {
	page, err := m.memMessages.GetPage(ctx, roomID, offset, limit)
	n := m.reads.Add(1)
	m.add(&mongo.Message{ID: fmt.Sprintf("late%d", n), RoomID: roomID, SenderID: 2, SentAt: t0.Add(time.Duration(n) * time.Hour)})
	return page, err
}

func TestMessagesPageUnreadMatchesFetchedMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.room(t, 1, 2, 3)
	f.msgs.add(&mongo.Message{ID: "m1", RoomID: room, SenderID: 1, SentAt: t0})
	f.msgs.add(&mongo.Message{ID: "m2", RoomID: room, SenderID: 2, SentAt: t0.Add(time.Minute)})

	msgs := &arrivingMessages{memMessages: f.msgs}
	store := NewStore(f.rooms, repository.NewReadCursorRepo(f.db), repository.NewPresenceRepo(f.db), msgs, f.hub)

	page, unread, err := store.GetMessagesPageWithUnread(ctx, room, 0, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, msgs.reads.Load(), "the page is queried once")
	require.Len(t, page, 2)
	assert.Equal(t, "m1", page[0].ID)
	assert.Equal(t, "m2", page[1].ID)
	assert.Equal(t, []MessageUnread{
		{MessageID: "m1", Count: 2},
		{MessageID: "m2", Count: 2},
	}, unread)

	// 新消息把页窗口推后，标注仍只对应本次返回的消息
	page, unread, err = store.GetMessagesPageWithUnread(ctx, room, 0, 2)
	require.NoError(t, err)
	require.Len(t, unread, len(page))
	for i := range page {
		assert.Equal(t, page[i].ID, unread[i].MessageID)
	}
	assert.Equal(t, "late1", page[1].ID)
}

func TestRoomsCarryLastMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.room(t, 1, 2)
	empty := f.room(t, 1, 3)
	f.msgs.add(&mongo.Message{ID: "old", RoomID: room, SenderID: 2, SentAt: t0})
	f.msgs.add(&mongo.Message{ID: "new", RoomID: room, SenderID: 2, SentAt: t0.Add(time.Hour)})

	rooms, err := f.store.GetRoomsForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	for _, r := range rooms {
		switch r.Room.ID {
		case room:
			require.NotNil(t, r.LastMessage)
			assert.Equal(t, "new", r.LastMessage.ID)
		case empty:
			assert.Nil(t, r.LastMessage)
		}
	}

	latest, err := f.store.GetLatestMessage(ctx, empty)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestSubscribeToChangesUsesHub(t *testing.T) {
	f := newFixture(t)
	got := make(chan changefeed.Change, 1)
	unsub := f.store.SubscribeToChanges(changefeed.TableMessages, nil, func(_ context.Context, c changefeed.Change) {
		got <- c
	})
	defer unsub()

	f.hub.Publish(context.Background(), changefeed.Change{Table: changefeed.TableMessages, Op: changefeed.OpInsert})
	select {
	case c := <-got:
		assert.Equal(t, changefeed.OpInsert, c.Op)
	default:
		t.Fatal("change not delivered")
	}
}
