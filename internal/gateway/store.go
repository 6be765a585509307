package gateway

import (
	"Murmur/internal/model"
	"Murmur/internal/pkg/changefeed"
	"Murmur/internal/pkg/mongo"
	"Murmur/internal/repository"
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const countConcurrency = 8

// Store 由 MySQL 仓储、Mongo 消息仓储与变更中心组合而成
type Store struct {
	rooms    repository.RoomRepo
	cursors  repository.ReadCursorRepo
	presence repository.PresenceRepo
	messages mongo.MessageRepo
	hub      *changefeed.Hub
}

func NewStore(
	rooms repository.RoomRepo,
	cursors repository.ReadCursorRepo,
	presence repository.PresenceRepo,
	messages mongo.MessageRepo,
	hub *changefeed.Hub,
) *Store {
	return &Store{
		rooms:    rooms,
		cursors:  cursors,
		presence: presence,
		messages: messages,
		hub:      hub,
	}
}

// GetRoomsForUser 会话列表，附带每个会话的最新消息
func (s *Store) GetRoomsForUser(ctx context.Context, userID uint64) ([]*RoomSummary, error) {
	rooms, err := s.rooms.GetRoomsForUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get rooms for user")
	}

	ids := make([]uint64, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	latest, err := s.messages.GetLatestByRooms(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get latest messages")
	}

	summaries := make([]*RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		summaries = append(summaries, &RoomSummary{Room: r, LastMessage: latest[r.ID]})
	}
	return summaries, nil
}

func (s *Store) IsMember(ctx context.Context, roomID, userID uint64) (bool, error) {
	ok, err := s.rooms.IsMember(ctx, roomID, userID)
	return ok, errors.Wrap(err, "check membership")
}

// GetUnreadCountsForUser 用户所有会话的未读数，未读为 0 的会话也会返回
func (s *Store) GetUnreadCountsForUser(ctx context.Context, userID uint64) ([]UnreadCount, error) {
	roomIDs, err := s.rooms.GetRoomIDsForUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get room ids")
	}
	cursors, err := s.cursors.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list read cursors")
	}
	readAt := make(map[uint64]time.Time, len(cursors))
	for _, c := range cursors {
		readAt[c.RoomID] = c.LastReadAt
	}

	counts := make([]UnreadCount, len(roomIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(countConcurrency)
	for i, roomID := range roomIDs {
		g.Go(func() error {
			n, err := s.messages.CountUnread(gctx, roomID, userID, readAt[roomID])
			if err != nil {
				return errors.Wrapf(err, "count unread for room %d", roomID)
			}
			counts[i] = UnreadCount{RoomID: roomID, Count: int(n)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}

// GetUnreadCountForRoom 单个会话的未读数；没有游标时视为全部未读
func (s *Store) GetUnreadCountForRoom(ctx context.Context, userID, roomID uint64) (int, error) {
	ok, err := s.rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		return 0, errors.Wrap(err, "check membership")
	}
	if !ok {
		return 0, ErrNotMember
	}

	cursor, err := s.cursors.Get(ctx, userID, roomID)
	if err != nil {
		return 0, errors.Wrap(err, "get read cursor")
	}
	var after time.Time
	if cursor != nil {
		after = cursor.LastReadAt
	}

	n, err := s.messages.CountUnread(ctx, roomID, userID, after)
	if err != nil {
		return 0, errors.Wrap(err, "count unread")
	}
	return int(n), nil
}

// GetUnreadCountsForMessages 统计该页每条消息有多少其他成员尚未读到
func (s *Store) GetUnreadCountsForMessages(ctx context.Context, roomID uint64, limit, offset int) ([]MessageUnread, error) {
	_, unread, err := s.GetMessagesPageWithUnread(ctx, roomID, offset, limit)
	return unread, err
}

// GetMessagesPageWithUnread 返回一页消息及逐条未读人数，标注只针对本次查到的消息
func (s *Store) GetMessagesPageWithUnread(ctx context.Context, roomID uint64, offset, limit int) ([]*mongo.Message, []MessageUnread, error) {
	var (
		page    []*mongo.Message
		members []*model.RoomMember
		cursors []*model.ReadCursor
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page, err = s.messages.GetPage(gctx, roomID, offset, limit)
		return errors.Wrap(err, "get message page")
	})
	g.Go(func() error {
		var err error
		members, err = s.rooms.GetRoomMembers(gctx, roomID)
		return errors.Wrap(err, "get room members")
	})
	g.Go(func() error {
		var err error
		cursors, err = s.cursors.ListByRoom(gctx, roomID)
		return errors.Wrap(err, "list room cursors")
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return page, annotateUnread(page, members, cursors), nil
}

// annotateUnread 除发送者外，游标早于消息发送时间或没有游标的成员都算未读
func annotateUnread(page []*mongo.Message, members []*model.RoomMember, cursors []*model.ReadCursor) []MessageUnread {
	readAt := make(map[uint64]time.Time, len(cursors))
	for _, c := range cursors {
		readAt[c.UserID] = c.LastReadAt
	}

	result := make([]MessageUnread, 0, len(page))
	for _, msg := range page {
		n := 0
		for _, m := range members {
			if m.UserID == msg.SenderID {
				continue
			}
			at, ok := readAt[m.UserID]
			if !ok || at.Before(msg.SentAt) {
				n++
			}
		}
		result = append(result, MessageUnread{MessageID: msg.ID, Count: n})
	}
	return result
}

// GetMessagesPage 按发送时间升序返回一页消息
func (s *Store) GetMessagesPage(ctx context.Context, roomID uint64, offset, limit int) ([]*mongo.Message, error) {
	msgs, err := s.messages.GetPage(ctx, roomID, offset, limit)
	return msgs, errors.Wrap(err, "get messages page")
}

func (s *Store) GetLatestMessage(ctx context.Context, roomID uint64) (*mongo.Message, error) {
	msg, err := s.messages.GetLatest(ctx, roomID)
	return msg, errors.Wrap(err, "get latest message")
}

func (s *Store) UpsertPresence(ctx context.Context, userID, roomID uint64, at time.Time) error {
	return errors.Wrap(s.presence.Upsert(ctx, userID, roomID, at), "upsert presence")
}

func (s *Store) DeletePresence(ctx context.Context, userID, roomID uint64) error {
	return errors.Wrap(s.presence.Delete(ctx, userID, roomID), "delete presence")
}

func (s *Store) UpdatePresenceHeartbeat(ctx context.Context, userID, roomID uint64, at time.Time) error {
	return errors.Wrap(s.presence.Heartbeat(ctx, userID, roomID, at), "update presence heartbeat")
}

func (s *Store) DeleteStalePresence(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.presence.DeleteStale(ctx, before)
	return n, errors.Wrap(err, "delete stale presence")
}

func (s *Store) GetReadCursor(ctx context.Context, userID, roomID uint64) (*model.ReadCursor, error) {
	c, err := s.cursors.Get(ctx, userID, roomID)
	return c, errors.Wrap(err, "get read cursor")
}

func (s *Store) UpsertReadCursor(ctx context.Context, userID, roomID uint64, lastMessageID string, at time.Time) error {
	err := s.cursors.Upsert(ctx, &model.ReadCursor{
		UserID:            userID,
		RoomID:            roomID,
		LastReadMessageID: lastMessageID,
		LastReadAt:        at,
	})
	return errors.Wrap(err, "upsert read cursor")
}

func (s *Store) SubscribeToChanges(table string, predicate changefeed.Predicate, handler changefeed.Handler) changefeed.Unsubscribe {
	return s.hub.Subscribe(table, predicate, handler)
}

func (s *Store) OnReconnect(cb func(source string)) changefeed.Unsubscribe {
	return s.hub.OnReconnect(cb)
}

var _ Gateway = (*Store)(nil)

