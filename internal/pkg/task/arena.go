package task

import (
	"context"
	"sync"
)

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Arena 持有一组可取消的后台任务，随所属组件一起释放
type Arena struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	named  map[string]*handle
	closed bool
	wg     sync.WaitGroup
}

func NewArena(parent context.Context) *Arena {
	ctx, cancel := context.WithCancel(parent)
	return &Arena{
		ctx:    ctx,
		cancel: cancel,
		named:  make(map[string]*handle),
	}
}

// Start 启动具名任务，同名任务已存在时先取消旧任务
func (a *Arena) Start(name string, fn func(ctx context.Context)) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	if old, ok := a.named[name]; ok {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(a.ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	a.named[name] = h
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		defer close(h.done)
		defer func() {
			a.mu.Lock()
			if a.named[name] == h {
				delete(a.named, name)
			}
			a.mu.Unlock()
			cancel()
		}()
		fn(ctx)
	}()
	return true
}

// Go 启动匿名任务
func (a *Arena) Go(fn func(ctx context.Context)) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		fn(a.ctx)
	}()
	return true
}

// Cancel 取消具名任务并等待其退出，不能在该任务内部调用
func (a *Arena) Cancel(name string) {
	a.mu.Lock()
	h, ok := a.named[name]
	if ok {
		delete(a.named, name)
	}
	a.mu.Unlock()

	if ok {
		h.cancel()
		<-h.done
	}
}

// Running 具名任务是否在运行
func (a *Arena) Running(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.named[name]
	return ok
}

// Len 在运行的具名任务数
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.named)
}

// Close 取消全部任务并等待退出，可重复调用
func (a *Arena) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
}
