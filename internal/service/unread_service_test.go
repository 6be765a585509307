package service

import (
	"Murmur/internal/gateway"
	"Murmur/internal/pkg/task"
	"Murmur/internal/pkg/util"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestUnreadService(t *testing.T, gw gateway.Gateway, store *UnreadStore, retry util.RetryPolicy, delay time.Duration) *UnreadService {
	t.Helper()
	arena := task.NewArena(context.Background())
	t.Cleanup(arena.Close)
	return NewUnreadService(1, gw, store, arena, retry, delay)
}

func TestRefreshCoalescesConcurrentCalls(t *testing.T) {
	gw := newMockGateway()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	gw.On("GetUnreadCountsForUser", mock.Anything, uint64(1)).
		Run(func(mock.Arguments) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
		}).
		Return([]gateway.UnreadCount{{RoomID: 10, Count: 2}}, nil)

	svc := newTestUnreadService(t, gw, NewUnreadStore(time.Minute, nil), testRetry(), time.Hour)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, svc.Refresh(context.Background(), "first"))
	}()
	<-entered
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Refresh(context.Background(), "joined"))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// requests made during the first fetch share one follow-up fetch
	gw.AssertNumberOfCalls(t, "GetUnreadCountsForUser", 2)
	assert.EqualValues(t, 2, svc.FetchCount())
	assert.Equal(t, 2, svc.Count(10))
}

func TestRefreshConcurrentCallsAfterStartShareOneFetch(t *testing.T) {
	gw := newMockGateway()
	gw.On("GetUnreadCountsForUser", mock.Anything, uint64(1)).
		Return([]gateway.UnreadCount{{RoomID: 10, Count: 2}}, nil)

	svc := newTestUnreadService(t, gw, NewUnreadStore(time.Minute, nil), testRetry(), time.Hour)
	require.NoError(t, svc.Refresh(context.Background(), "first"))
	require.NoError(t, svc.Refresh(context.Background(), "second"))
	assert.EqualValues(t, 2, svc.FetchCount(), "sequential calls each fetch")
}

// blockedFirstFetch 第一次拉取阻塞到 release 关闭并返回 first，之后返回 then
func blockedFirstFetch(gw *mockGateway, first, then []gateway.UnreadCount) (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	gw.On("GetUnreadCountsForUser", mock.Anything, uint64(1)).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(first, nil).Once()
	gw.On("GetUnreadCountsForUser", mock.Anything, uint64(1)).
		Return(then, nil)
	return entered, release
}

func TestRefreshDuringStaleFetchRefetches(t *testing.T) {
	gw := newMockGateway()
	entered, release := blockedFirstFetch(gw,
		[]gateway.UnreadCount{{RoomID: 10, Count: 3}},
		[]gateway.UnreadCount{{RoomID: 10, Count: 2}})

	svc := newTestUnreadService(t, gw, NewUnreadStore(time.Minute, nil), testRetry(), time.Hour)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, svc.Refresh(context.Background(), "open"))
	}()
	<-entered

	// room entered while the open fetch is still running
	svc.ResetOptimistic(10)
	assert.Equal(t, 0, svc.Count(10))
	go func() {
		defer wg.Done()
		assert.NoError(t, svc.Refresh(context.Background(), "invalidate"))
	}()
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 2, svc.Count(10), "hydrated from a fetch that started after the reset")
	assert.EqualValues(t, 2, svc.FetchCount())
}

func TestReconcileDuringStaleFetchRefetches(t *testing.T) {
	gw := newMockGateway()
	entered, release := blockedFirstFetch(gw,
		[]gateway.UnreadCount{{RoomID: 10, Count: 0}},
		[]gateway.UnreadCount{{RoomID: 10, Count: 1}})

	svc := newTestUnreadService(t, gw, NewUnreadStore(time.Minute, nil), testRetry(), 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, svc.Refresh(context.Background(), "open"))
	}()
	<-entered

	svc.IncrementOptimistic(10)
	time.Sleep(40 * time.Millisecond)
	close(release)
	<-done

	assert.Eventually(t, func() bool {
		return svc.Count(10) == 1 && svc.FetchCount() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestCheckSyncFetchesOncePerThreshold(t *testing.T) {
	gw := newMockGateway()
	gw.On("GetUnreadCountsForUser", mock.Anything, uint64(1)).
		Return([]gateway.UnreadCount{{RoomID: 10, Count: 1}}, nil)

	clock := newFakeClock()
	svc := newTestUnreadService(t, gw, NewUnreadStore(5*time.Minute, clock.Now), testRetry(), time.Hour)

	svc.CheckSync(context.Background())
	assert.EqualValues(t, 1, svc.FetchCount())

	svc.CheckSync(context.Background())
	assert.EqualValues(t, 1, svc.FetchCount(), "fresh data needs no fetch")

	clock.Advance(5*time.Minute + time.Second)
	svc.CheckSync(context.Background())
	assert.EqualValues(t, 2, svc.FetchCount())
	gw.AssertNumberOfCalls(t, "GetUnreadCountsForUser", 2)
}

func TestRefreshFailureKeepsSyncPending(t *testing.T) {
	gw := newMockGateway()
	gw.On("GetUnreadCountsForUser", mock.Anything, uint64(1)).
		Return(nil, errors.New("db down"))

	store := NewUnreadStore(time.Minute, nil)
	svc := newTestUnreadService(t, gw, store, util.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond}, time.Hour)

	err := svc.Refresh(context.Background(), "test")
	require.Error(t, err)
	gw.AssertNumberOfCalls(t, "GetUnreadCountsForUser", 2)

	snap := svc.Snapshot()
	assert.Contains(t, snap.SyncError, "db down")
	assert.False(t, snap.IsSyncing)
	assert.True(t, store.NeedsSync())
}

func TestOptimisticIncrementsConvergeToAuthoritative(t *testing.T) {
	gw := newMockGateway()
	gw.On("GetUnreadCountsForUser", mock.Anything, uint64(1)).
		Return([]gateway.UnreadCount{{RoomID: 10, Count: 1}}, nil).Once()
	gw.On("GetUnreadCountsForUser", mock.Anything, uint64(1)).
		Return([]gateway.UnreadCount{{RoomID: 10, Count: 7}}, nil)

	svc := newTestUnreadService(t, gw, NewUnreadStore(time.Minute, nil), testRetry(), 20*time.Millisecond)
	require.NoError(t, svc.Refresh(context.Background(), "open"))

	svc.IncrementOptimistic(10)
	svc.IncrementOptimistic(10)
	svc.IncrementOptimistic(10)
	assert.Equal(t, 4, svc.Count(10))

	assert.Eventually(t, func() bool {
		return svc.Count(10) == 7
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, svc.FetchCount(), "a burst schedules a single reconcile")
}

func TestResetThenAuthoritativeRoomCount(t *testing.T) {
	gw := newMockGateway()
	gw.On("GetUnreadCountsForUser", mock.Anything, uint64(1)).
		Return([]gateway.UnreadCount{{RoomID: 10, Count: 3}}, nil)
	gw.On("GetUnreadCountForRoom", mock.Anything, uint64(1), uint64(10)).
		Return(2, nil)

	svc := newTestUnreadService(t, gw, NewUnreadStore(time.Minute, nil), testRetry(), time.Hour)
	require.NoError(t, svc.Refresh(context.Background(), "open"))
	require.Equal(t, 3, svc.Count(10))

	svc.ResetOptimistic(10)
	assert.Equal(t, 0, svc.Count(10))

	require.NoError(t, svc.RefreshRoom(context.Background(), 10))
	assert.Equal(t, 2, svc.Count(10))
}

func TestRefreshRoomForgetsNonMember(t *testing.T) {
	gw := newMockGateway()
	gw.On("GetUnreadCountsForUser", mock.Anything, uint64(1)).
		Return([]gateway.UnreadCount{{RoomID: 10, Count: 3}}, nil)
	gw.On("GetUnreadCountForRoom", mock.Anything, uint64(1), uint64(10)).
		Return(0, gateway.ErrNotMember)

	svc := newTestUnreadService(t, gw, NewUnreadStore(time.Minute, nil), testRetry(), time.Hour)
	require.NoError(t, svc.Refresh(context.Background(), "open"))

	require.NoError(t, svc.RefreshRoom(context.Background(), 10))
	assert.False(t, svc.KnowsRoom(10))
	assert.Equal(t, 0, svc.Snapshot().Total)
}

func TestRefreshRoomPropagatesErrors(t *testing.T) {
	gw := newMockGateway()
	gw.On("GetUnreadCountForRoom", mock.Anything, uint64(1), uint64(10)).
		Return(0, errors.New("timeout"))

	svc := newTestUnreadService(t, gw, NewUnreadStore(time.Minute, nil), util.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}, time.Hour)
	assert.Error(t, svc.RefreshRoom(context.Background(), 10))
	gw.AssertNumberOfCalls(t, "GetUnreadCountForRoom", 3)
}

func TestScheduleReconcileAfterArenaClosed(t *testing.T) {
	gw := newMockGateway()
	arena := task.NewArena(context.Background())
	svc := NewUnreadService(1, gw, NewUnreadStore(time.Minute, nil), arena, testRetry(), time.Millisecond)
	arena.Close()

	assert.NotPanics(t, func() {
		svc.ScheduleReconcile("late")
		svc.ScheduleReconcile("late")
	})
	gw.AssertNotCalled(t, "GetUnreadCountsForUser", mock.Anything, mock.Anything)
}
