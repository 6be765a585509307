package changefeed

import (
	"context"
	log "log/slog"
	"sync"
)

// Predicate 订阅过滤条件
type Predicate func(Change) bool

// Handler 变更回调
type Handler func(context.Context, Change)

// Unsubscribe 取消订阅，可重复调用
type Unsubscribe func()

type subscription struct {
	id        uint64
	predicate Predicate
	handler   Handler
}

// Hub 进程内的变更分发中心，按表名路由
type Hub struct {
	mu          sync.RWMutex
	nextID      uint64
	subs        map[string]map[uint64]*subscription
	reconnects  map[uint64]func(source string)
	disconnects map[string]bool
}

func NewHub() *Hub {
	return &Hub{
		subs:        make(map[string]map[uint64]*subscription),
		reconnects:  make(map[uint64]func(string)),
		disconnects: make(map[string]bool),
	}
}

// Subscribe 订阅某张表的变更，predicate 为 nil 时接收全部
func (h *Hub) Subscribe(table string, predicate Predicate, handler Handler) Unsubscribe {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[table] == nil {
		h.subs[table] = make(map[uint64]*subscription)
	}
	h.subs[table][id] = &subscription{id: id, predicate: predicate, handler: handler}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[table], id)
			if len(h.subs[table]) == 0 {
				delete(h.subs, table)
			}
			h.mu.Unlock()
		})
	}
}

// OnReconnect 注册推送通道恢复时的回调
func (h *Hub) OnReconnect(cb func(source string)) Unsubscribe {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.reconnects[id] = cb
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.reconnects, id)
			h.mu.Unlock()
		})
	}
}

// Publish 分发变更，回调在锁外执行
func (h *Hub) Publish(ctx context.Context, c Change) {
	h.mu.RLock()
	targets := make([]*subscription, 0, len(h.subs[c.Table]))
	for _, s := range h.subs[c.Table] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if s.predicate != nil && !s.predicate(c) {
			continue
		}
		h.dispatch(ctx, c, s)
	}
}

func (h *Hub) dispatch(ctx context.Context, c Change, s *subscription) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "change handler panicked", "table", c.Table, "op", c.Op, "panic", r)
		}
	}()
	s.handler(ctx, c)
}

// SetConnected 由生产者上报通道状态，断开后恢复时通知所有重连回调
func (h *Hub) SetConnected(source string, connected bool) {
	h.mu.Lock()
	wasDown := h.disconnects[source]
	if connected {
		delete(h.disconnects, source)
	} else {
		h.disconnects[source] = true
	}
	var callbacks []func(string)
	if connected && wasDown {
		callbacks = make([]func(string), 0, len(h.reconnects))
		for _, cb := range h.reconnects {
			callbacks = append(callbacks, cb)
		}
	}
	h.mu.Unlock()

	if !connected {
		if !wasDown {
			log.Warn("change feed disconnected", "source", source)
		}
		return
	}
	if !wasDown {
		return
	}

	log.Info("change feed reconnected", "source", source, "listeners", len(callbacks))
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("reconnect callback panicked", "source", source, "panic", r)
				}
			}()
			cb(source)
		}()
	}
}

// Connected 所有生产者是否在线
func (h *Hub) Connected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.disconnects) == 0
}
