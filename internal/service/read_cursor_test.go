package service

import (
	"Murmur/internal/pkg/mongo"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type invalidatorSpy struct {
	rooms []uint64
}

func (s *invalidatorSpy) InvalidateRoom(roomID uint64) {
	s.rooms = append(s.rooms, roomID)
}

func TestAdvanceCursorToLatestMessage(t *testing.T) {
	clock := newFakeClock()
	gw := newMockGateway()
	gw.On("GetLatestMessage", mock.Anything, uint64(10)).
		Return(&mongo.Message{ID: "m3", RoomID: 10, SentAt: clock.Now().Add(-time.Minute)}, nil)
	gw.On("UpsertReadCursor", mock.Anything, uint64(1), uint64(10), "m3", clock.Now()).Return(nil)

	spy := &invalidatorSpy{}
	NewReadCursorManager(gw, spy, clock.Now).AdvanceCursor(context.Background(), 1, 10)

	gw.AssertExpectations(t)
	assert.Equal(t, []uint64{10}, spy.rooms)
}

func TestAdvanceCursorNeverBehindLatest(t *testing.T) {
	clock := newFakeClock()
	ahead := clock.Now().Add(2 * time.Second)
	gw := newMockGateway()
	gw.On("GetLatestMessage", mock.Anything, uint64(10)).
		Return(&mongo.Message{ID: "m9", RoomID: 10, SentAt: ahead}, nil)
	gw.On("UpsertReadCursor", mock.Anything, uint64(1), uint64(10), "m9", ahead).Return(nil)

	NewReadCursorManager(gw, &invalidatorSpy{}, clock.Now).AdvanceCursor(context.Background(), 1, 10)
	gw.AssertExpectations(t)
}

func TestAdvanceCursorEmptyRoom(t *testing.T) {
	clock := newFakeClock()
	gw := newMockGateway()
	gw.On("GetLatestMessage", mock.Anything, uint64(10)).Return(nil, nil)
	gw.On("UpsertReadCursor", mock.Anything, uint64(1), uint64(10), "", clock.Now()).Return(nil)

	NewReadCursorManager(gw, &invalidatorSpy{}, clock.Now).AdvanceCursor(context.Background(), 1, 10)
	gw.AssertExpectations(t)
}

func TestAdvanceCursorFailureStillInvalidates(t *testing.T) {
	gw := newMockGateway()
	gw.On("GetLatestMessage", mock.Anything, uint64(10)).Return(nil, errors.New("mongo down"))

	spy := &invalidatorSpy{}
	assert.NotPanics(t, func() {
		NewReadCursorManager(gw, spy, nil).AdvanceCursor(context.Background(), 1, 10)
	})
	gw.AssertNotCalled(t, "UpsertReadCursor", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, []uint64{10}, spy.rooms)

	gw2 := newMockGateway()
	gw2.On("GetLatestMessage", mock.Anything, uint64(10)).Return(&mongo.Message{ID: "m1"}, nil)
	gw2.On("UpsertReadCursor", mock.Anything, uint64(1), uint64(10), "m1", mock.Anything).Return(errors.New("mysql down"))

	spy2 := &invalidatorSpy{}
	NewReadCursorManager(gw2, spy2, nil).AdvanceCursor(context.Background(), 1, 10)
	assert.Equal(t, []uint64{10}, spy2.rooms)
}
