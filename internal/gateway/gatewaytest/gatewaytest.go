// Package gatewaytest 提供基于 sqlite 内存库与内存消息仓储的网关，供上层测试使用
package gatewaytest

import (
	"Murmur/internal/gateway"
	"Murmur/internal/model"
	"Murmur/internal/pkg/changefeed"
	"Murmur/internal/pkg/mongo"
	"Murmur/internal/repository"
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Epoch 测试消息的基准发送时间
var Epoch = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

// Fixture 真实的 gateway.Store，MySQL 换成 sqlite，MongoDB 换成内存仓储
type Fixture struct {
	DB       *gorm.DB
	Rooms    repository.RoomRepo
	Messages *MemMessages
	Hub      *changefeed.Hub
	Store    *gateway.Store
}

func New(t *testing.T) *Fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Room{}, &model.RoomMember{}, &model.ReadCursor{}, &model.PresenceSession{}))

	f := &Fixture{
		DB:       db,
		Rooms:    repository.NewRoomRepo(db),
		Messages: &MemMessages{},
		Hub:      changefeed.NewHub(),
	}
	f.Store = gateway.NewStore(f.Rooms, repository.NewReadCursorRepo(db), repository.NewPresenceRepo(db), f.Messages, f.Hub)
	return f
}

// Room 创建会话，第一个用户为群主
func (f *Fixture) Room(t *testing.T, users ...uint64) uint64 {
	t.Helper()
	room := &model.Room{Name: "room", CreatedBy: users[0]}
	members := make([]*model.RoomMember, 0, len(users))
	for i, u := range users {
		role := model.RoleMember
		if i == 0 {
			role = model.RoleOwner
		}
		members = append(members, &model.RoomMember{UserID: u, Role: role})
	}
	require.NoError(t, f.Rooms.CreateRoom(context.Background(), room, members))
	return room.ID
}

// Send 写入一条消息，发送时间为 Epoch + offset
func (f *Fixture) Send(roomID, senderID uint64, id string, offset time.Duration) *mongo.Message {
	msg := &mongo.Message{ID: id, RoomID: roomID, SenderID: senderID, Type: mongo.MessageTypeText, SentAt: Epoch.Add(offset)}
	f.Messages.Add(msg)
	return msg
}

// PresenceRows 用户在会话中的在线记录数
func (f *Fixture) PresenceRows(t *testing.T, userID, roomID uint64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.DB.Model(&model.PresenceSession{}).
		Where("user_id = ? AND room_id = ?", userID, roomID).Count(&n).Error)
	return n
}

// MemMessages 内存版消息仓储
type MemMessages struct {
	mu   sync.Mutex
	msgs []*mongo.Message
}

func (m *MemMessages) Add(msg *mongo.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
}

func (m *MemMessages) descLocked(roomID uint64) []*mongo.Message {
	var out []*mongo.Message
	for _, msg := range m.msgs {
		if msg.RoomID == roomID {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	return out
}

func (m *MemMessages) GetPage(_ context.Context, roomID uint64, offset, limit int) ([]*mongo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc := m.descLocked(roomID)
	if offset >= len(desc) {
		return []*mongo.Message{}, nil
	}
	page := append([]*mongo.Message(nil), desc[offset:min(offset+limit, len(desc))]...)
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

func (m *MemMessages) GetLatest(_ context.Context, roomID uint64) (*mongo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc := m.descLocked(roomID)
	if len(desc) == 0 {
		return nil, nil
	}
	return desc[0], nil
}

func (m *MemMessages) GetLatestByRooms(ctx context.Context, roomIDs []uint64) (map[uint64]*mongo.Message, error) {
	out := make(map[uint64]*mongo.Message)
	for _, id := range roomIDs {
		if msg, _ := m.GetLatest(ctx, id); msg != nil {
			out[id] = msg
		}
	}
	return out, nil
}

func (m *MemMessages) CountUnread(_ context.Context, roomID, userID uint64, after time.Time) (int64, error) {
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
