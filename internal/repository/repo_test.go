package repository

import (
	"Murmur/internal/model"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// :memory: 每个连接是独立的库
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.Room{},
		&model.RoomMember{},
		&model.ReadCursor{},
		&model.PresenceSession{},
	))
	return db
}

func seedRoom(t *testing.T, repo RoomRepo, name string, users ...uint64) *model.Room {
	t.Helper()
	room := &model.Room{Name: name, CreatedBy: users[0]}
	members := make([]*model.RoomMember, 0, len(users))
	for i, uid := range users {
		role := model.RoleMember
		if i == 0 {
			role = model.RoleOwner
		}
		members = append(members, &model.RoomMember{UserID: uid, Role: role})
	}
	require.NoError(t, repo.CreateRoom(context.Background(), room, members))
	return room
}

func TestRoomRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewRoomRepo(newTestDB(t))

	direct := seedRoom(t, repo, "direct", 1, 2)
	group := seedRoom(t, repo, "group", 1, 2, 3)
	other := seedRoom(t, repo, "other", 2, 3)

	rooms, err := repo.GetRoomsForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rooms, 2)

	byID := map[uint64]*model.Room{}
	for _, r := range rooms {
		byID[r.ID] = r
	}
	require.Contains(t, byID, direct.ID)
	require.Contains(t, byID, group.ID)
	assert.NotContains(t, byID, other.ID)
	assert.True(t, byID[direct.ID].IsDirect())
	assert.False(t, byID[group.ID].IsDirect())

	ids, err := repo.GetRoomIDsForUser(ctx, 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{group.ID, other.ID}, ids)

	members, err := repo.GetRoomMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Len(t, members, 3)

	ok, err := repo.IsMember(ctx, other.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = repo.IsMember(ctx, other.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReadCursorRepoUpsertKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewReadCursorRepo(db)

	missing, err := repo.Get(ctx, 1, 10)
	require.NoError(t, err)
	assert.Nil(t, missing)

	first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Minute)

	require.NoError(t, repo.Upsert(ctx, &model.ReadCursor{UserID: 1, RoomID: 10, LastReadMessageID: "m1", LastReadAt: first}))
	require.NoError(t, repo.Upsert(ctx, &model.ReadCursor{UserID: 1, RoomID: 10, LastReadMessageID: "m2", LastReadAt: second}))
	require.NoError(t, repo.Upsert(ctx, &model.ReadCursor{UserID: 2, RoomID: 10, LastReadMessageID: "m1", LastReadAt: first}))

	var count int64
	require.NoError(t, db.Model(&model.ReadCursor{}).Where("user_id = ? AND room_id = ?", 1, 10).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	cursor, err := repo.Get(ctx, 1, 10)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, "m2", cursor.LastReadMessageID)
	assert.True(t, cursor.LastReadAt.Equal(second))

	byRoom, err := repo.ListByRoom(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, byRoom, 2)

	byUser, err := repo.ListByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, byUser, 1)
}

func TestReadCursorRepoUpsertNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	repo := NewReadCursorRepo(newTestDB(t))

	newer := time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)
	older := newer.Add(-3 * time.Minute)

	require.NoError(t, repo.Upsert(ctx, &model.ReadCursor{UserID: 1, RoomID: 10, LastReadMessageID: "m5", LastReadAt: newer}))
	// a stale write from another instance arrives late
	require.NoError(t, repo.Upsert(ctx, &model.ReadCursor{UserID: 1, RoomID: 10, LastReadMessageID: "m2", LastReadAt: older}))

	cursor, err := repo.Get(ctx, 1, 10)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, "m5", cursor.LastReadMessageID)
	assert.True(t, cursor.LastReadAt.Equal(newer))

	// local time zones are compared as instants
	later := newer.Add(time.Minute).In(time.FixedZone("UTC+8", 8*3600))
	require.NoError(t, repo.Upsert(ctx, &model.ReadCursor{UserID: 1, RoomID: 10, LastReadMessageID: "m6", LastReadAt: later}))

	cursor, err = repo.Get(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "m6", cursor.LastReadMessageID)
	assert.True(t, cursor.LastReadAt.Equal(later))
}

func TestPresenceRepoLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewPresenceRepo(db)

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	countRows := func() int64 {
		var n int64
		require.NoError(t, db.Model(&model.PresenceSession{}).Count(&n).Error)
		return n
	}

	require.NoError(t, repo.Upsert(ctx, 1, 10, base))
	require.NoError(t, repo.Upsert(ctx, 1, 10, base.Add(time.Second)))
	assert.EqualValues(t, 1, countRows())

	require.NoError(t, repo.Heartbeat(ctx, 1, 10, base.Add(30*time.Second)))
	var session model.PresenceSession
	require.NoError(t, db.Where("user_id = ? AND room_id = ?", 1, 10).First(&session).Error)
	assert.True(t, session.LastHeartbeatAt.Equal(base.Add(30*time.Second)))

	require.NoError(t, repo.Delete(ctx, 1, 10))
	assert.EqualValues(t, 0, countRows())

	// 被清理后的心跳会重新写入
	require.NoError(t, repo.Heartbeat(ctx, 1, 10, base.Add(time.Minute)))
	assert.EqualValues(t, 1, countRows())

	require.NoError(t, repo.Upsert(ctx, 2, 10, base))
	removed, err := repo.DeleteStale(ctx, base.Add(10*time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
	assert.EqualValues(t, 1, countRows())
}
