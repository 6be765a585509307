package service

import (
	"Murmur/internal/api/config"
	"Murmur/internal/gateway"
	"Murmur/internal/gateway/gatewaytest"
	"Murmur/internal/model"
	"Murmur/internal/pkg/changefeed"
	"Murmur/internal/pkg/mongo"
	"Murmur/internal/pkg/task"
	"Murmur/internal/pkg/util"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

// mockGateway testify 版网关，订阅类方法直接转给内存 Hub
type mockGateway struct {
	mock.Mock
	hub *changefeed.Hub
}

func newMockGateway() *mockGateway {
	return &mockGateway{hub: changefeed.NewHub()}
}

func (m *mockGateway) GetRoomsForUser(ctx context.Context, userID uint64) ([]*gateway.RoomSummary, error) {
	args := m.Called(ctx, userID)
	rooms, _ := args.Get(0).([]*gateway.RoomSummary)
	return rooms, args.Error(1)
}

func (m *mockGateway) IsMember(ctx context.Context, roomID, userID uint64) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockGateway) GetUnreadCountsForUser(ctx context.Context, userID uint64) ([]gateway.UnreadCount, error) {
	args := m.Called(ctx, userID)
	counts, _ := args.Get(0).([]gateway.UnreadCount)
	return counts, args.Error(1)
}

func (m *mockGateway) GetUnreadCountForRoom(ctx context.Context, userID, roomID uint64) (int, error) {
	args := m.Called(ctx, userID, roomID)
	return args.Int(0), args.Error(1)
}

func (m *mockGateway) GetUnreadCountsForMessages(ctx context.Context, roomID uint64, limit, offset int) ([]gateway.MessageUnread, error) {
	args := m.Called(ctx, roomID, limit, offset)
	counts, _ := args.Get(0).([]gateway.MessageUnread)
	return counts, args.Error(1)
}

func (m *mockGateway) GetMessagesPage(ctx context.Context, roomID uint64, offset, limit int) ([]*mongo.Message, error) {
	args := m.Called(ctx, roomID, offset, limit)
	msgs, _ := args.Get(0).([]*mongo.Message)
	return msgs, args.Error(1)
}

func (m *mockGateway) GetMessagesPageWithUnread(ctx context.Context, roomID uint64, offset, limit int) ([]*mongo.Message, []gateway.MessageUnread, error) {
	args := m.Called(ctx, roomID, offset, limit)
	msgs, _ := args.Get(0).([]*mongo.Message)
	unread, _ := args.Get(1).([]gateway.MessageUnread)
	return msgs, unread, args.Error(2)
}

func (m *mockGateway) GetLatestMessage(ctx context.Context, roomID uint64) (*mongo.Message, error) {
	args := m.Called(ctx, roomID)
	msg, _ := args.Get(0).(*mongo.Message)
	return msg, args.Error(1)
}

func (m *mockGateway) UpsertPresence(ctx context.Context, userID, roomID uint64, at time.Time) error {
	return m.Called(ctx, userID, roomID, at).Error(0)
}

func (m *mockGateway) DeletePresence(ctx context.Context, userID, roomID uint64) error {
	return m.Called(ctx, userID, roomID).Error(0)
}

func (m *mockGateway) UpdatePresenceHeartbeat(ctx context.Context, userID, roomID uint64, at time.Time) error {
	return m.Called(ctx, userID, roomID, at).Error(0)
}

func (m *mockGateway) DeleteStalePresence(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockGateway) GetReadCursor(ctx context.Context, userID, roomID uint64) (*model.ReadCursor, error) {
	args := m.Called(ctx, userID, roomID)
	c, _ := args.Get(0).(*model.ReadCursor)
	return c, args.Error(1)
}

func (m *mockGateway) UpsertReadCursor(ctx context.Context, userID, roomID uint64, lastMessageID string, at time.Time) error {
	return m.Called(ctx, userID, roomID, lastMessageID, at).Error(0)
}

func (m *mockGateway) SubscribeToChanges(table string, predicate changefeed.Predicate, handler changefeed.Handler) changefeed.Unsubscribe {
	return m.hub.Subscribe(table, predicate, handler)
}

func (m *mockGateway) OnReconnect(cb func(source string)) changefeed.Unsubscribe {
	return m.hub.OnReconnect(cb)
}

// memCache 内存版查询缓存
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets atomic.Int32
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	raw, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *memCache) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = raw
	c.mu.Unlock()
	c.sets.Add(1)
	return nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *memCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		HeartbeatInterval:  20 * time.Millisecond,
		PresenceTTL:        time.Minute,
		ReconcileDelay:     time.Hour,
		SyncThreshold:      5 * time.Minute,
		SyncCheckInterval:  time.Hour,
		PageSize:           3,
		RetryAttempts:      1,
		RetryBaseDelay:     time.Millisecond,
		QueryCacheTTL:      time.Minute,
		SessionIdleTimeout: time.Minute,
	}
}

func testRetry() util.RetryPolicy {
	return util.RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond}
}

// harness 基于 sqlite 与内存消息仓储的真实网关
type harness struct {
	fx    *gatewaytest.Fixture
	db    *gorm.DB
	hub   *changefeed.Hub
	gw    *gateway.Store
	cache *memCache

	arena    *task.Arena
	unread   *UnreadService
	cursors  *ReadCursorManager
	feed     *Feed
	presence *PresenceTracker
	router   *EventRouter
	resyncs  atomic.Int32
}

func newHarness(t *testing.T, userID uint64, cfg config.SyncConfig) *harness {
	t.Helper()
	fx := gatewaytest.New(t)
	h := &harness{fx: fx, db: fx.DB, hub: fx.Hub, gw: fx.Store, cache: newMemCache()}

	retry := util.RetryPolicy{Attempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay}
	h.arena = task.NewArena(context.Background())
	t.Cleanup(h.arena.Close)

	h.unread = NewUnreadService(userID, h.gw, NewUnreadStore(cfg.SyncThreshold, nil), h.arena, retry, cfg.ReconcileDelay)
	h.cursors = NewReadCursorManager(h.gw, h.unread, nil)
	h.feed = NewFeed(userID, h.gw, h.cache, cfg.PageSize, retry)
	h.presence = NewPresenceTracker(userID, h.gw, h.cursors, h.unread, h.feed, h.cache, h.arena, cfg.HeartbeatInterval, nil)
	h.router = NewEventRouter(userID, h.gw, h.unread, h.presence, h.arena, func(ctx context.Context, reason string) error {
		h.resyncs.Add(1)
		return h.unread.Refresh(ctx, reason)
	})
	return h
}

func (h *harness) room(t *testing.T, users ...uint64) uint64 {
	t.Helper()
	return h.fx.Room(t, users...)
}

func (h *harness) presenceRows(t *testing.T, userID, roomID uint64) int64 {
	t.Helper()
	return h.fx.PresenceRows(t, userID, roomID)
}

var past = gatewaytest.Epoch

func (h *harness) send(roomID, senderID uint64, id string, offset time.Duration) *mongo.Message {
	return h.fx.Send(roomID, senderID, id, offset)
}

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
