package service

import (
	"Murmur/internal/gateway"
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/mongo"
	"Murmur/internal/pkg/util"
	"context"
	log "log/slog"
	"sync"
)

// FeedMessage 带有"多少成员未读"标注的消息
type FeedMessage struct {
	mongo.Message
	UnreadCount int `json:"unreadCount"`
}

// MessagePage 一页消息，页内按发送时间升序
type MessagePage struct {
	Index       int           `json:"page"`
	Messages    []FeedMessage `json:"messages"`
	HasNextPage bool          `json:"hasNextPage"`
}

type roomPages struct {
	pages      [][]FeedMessage
	generation uint64
}

// Feed 按页向前加载会话消息，第 0 页为最新的一页
type Feed struct {
	userID   uint64
	gw       gateway.Gateway
	cache    QueryCache
	pageSize int
	retry    util.RetryPolicy

	mu    sync.Mutex
	rooms map[uint64]*roomPages
}

func NewFeed(userID uint64, gw gateway.Gateway, cache QueryCache, pageSize int, retry util.RetryPolicy) *Feed {
	if cache == nil {
		cache = NopQueryCache{}
	}
	return &Feed{
		userID:   userID,
		gw:       gw,
		cache:    cache,
		pageSize: pageSize,
		retry:    retry,
		rooms:    make(map[uint64]*roomPages),
	}
}

func (f *Feed) roomLocked(roomID uint64) *roomPages {
	rp, ok := f.rooms[roomID]
	if !ok {
		rp = &roomPages{}
		f.rooms[roomID] = rp
	}
	return rp
}

// FetchPage 拉取第 pageIndex 页。只能重新拉取已有的页或紧接着的下一页
func (f *Feed) FetchPage(ctx context.Context, roomID uint64, pageIndex int) (*MessagePage, error) {
	if pageIndex < 0 {
		return nil, ErrParamInvalid
	}

	f.mu.Lock()
	rp := f.roomLocked(roomID)
	if pageIndex > len(rp.pages) {
		f.mu.Unlock()
		return nil, ErrPageOutOfOrder
	}
	generation := rp.generation
	f.mu.Unlock()

	messages, err := f.loadPage(ctx, roomID, pageIndex)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	rp = f.roomLocked(roomID)
	// Reset 之后返回的旧请求不再写入
	if rp.generation == generation {
		switch {
		case pageIndex < len(rp.pages):
			rp.pages[pageIndex] = messages
		case pageIndex == len(rp.pages):
			rp.pages = append(rp.pages, messages)
		}
	}
	f.mu.Unlock()

	return &MessagePage{
		Index:       pageIndex,
		Messages:    messages,
		HasNextPage: len(messages) == f.pageSize,
	}, nil
}

func (f *Feed) loadPage(ctx context.Context, roomID uint64, pageIndex int) ([]FeedMessage, error) {
	key := consts.MessagePageCacheKey(f.userID, roomID, pageIndex)

	var cached []FeedMessage
	hit, err := f.cache.Get(ctx, key, &cached)
	if err != nil {
		log.WarnContext(ctx, "page cache read failed", "key", key, "err", err)
	}
	if hit {
		return cached, nil
	}

	offset := pageIndex * f.pageSize
	var (
		msgs   []*mongo.Message
		unread []gateway.MessageUnread
	)
	err = util.Retry(ctx, f.retry, "get messages page", func(ctx context.Context) error {
		var err error
		msgs, unread, err = f.gw.GetMessagesPageWithUnread(ctx, roomID, offset, f.pageSize)
		return err
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(unread))
	for _, u := range unread {
		counts[u.MessageID] = u.Count
	}
	page := make([]FeedMessage, 0, len(msgs))
	for _, m := range msgs {
		page = append(page, FeedMessage{Message: *m, UnreadCount: counts[m.ID]})
	}

	if err := f.cache.Set(ctx, key, page); err != nil {
		log.WarnContext(ctx, "page cache write failed", "key", key, "err", err)
	}
	return page, nil
}

// HasNextPage 最后一页是否装满，尚未拉取时为 true
func (f *Feed) HasNextPage(roomID uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	rp, ok := f.rooms[roomID]
	if !ok || len(rp.pages) == 0 {
		return true
	}
	return len(rp.pages[len(rp.pages)-1]) == f.pageSize
}

// Pages 已加载的页，按拉取顺序
func (f *Feed) Pages(roomID uint64) [][]FeedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	rp, ok := f.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([][]FeedMessage, len(rp.pages))
	copy(out, rp.pages)
	return out
}

// Flatten 从最旧的一页开始拼接，得到整体按发送时间升序的序列。跨页重复的消息不去重
func (f *Feed) Flatten(roomID uint64) []FeedMessage {
	pages := f.Pages(roomID)
	total := 0
	for _, p := range pages {
		total += len(p)
	}
	out := make([]FeedMessage, 0, total)
	for i := len(pages) - 1; i >= 0; i-- {
		out = append(out, pages[i]...)
	}
	return out
}

// Reset 丢弃会话已加载的页
func (f *Feed) Reset(roomID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rp := f.roomLocked(roomID)
	rp.pages = nil
	rp.generation++
}
