package handler

import (
	"Murmur/internal/api/dto"
	"Murmur/internal/gateway"
	"Murmur/internal/pkg/mongo"
	"Murmur/internal/service"

	"github.com/jinzhu/copier"
)

func toMessageDTO(m *mongo.Message, unread int) *dto.MessageDTO {
	out := &dto.MessageDTO{}
	_ = copier.Copy(out, m)
	out.UnreadCount = unread
	return out
}

func toRoomDTO(summary *gateway.RoomSummary, counts map[uint64]int) *dto.RoomDTO {
	out := &dto.RoomDTO{}
	_ = copier.Copy(out, summary.Room)
	out.IsDirect = summary.Room.IsDirect()
	out.MemberIDs = make([]uint64, 0, len(summary.Room.Members))
	for _, m := range summary.Room.Members {
		out.MemberIDs = append(out.MemberIDs, m.UserID)
	}
	if summary.LastMessage != nil {
		out.LastMessage = toMessageDTO(summary.LastMessage, 0)
	}
	out.UnreadCount = counts[summary.Room.ID]
	return out
}

func toPageDTO(roomID uint64, page *service.MessagePage) *dto.MessagePageDTO {
	out := &dto.MessagePageDTO{
		RoomID:      roomID,
		Page:        page.Index,
		Messages:    make([]*dto.MessageDTO, 0, len(page.Messages)),
		HasNextPage: page.HasNextPage,
	}
	for i := range page.Messages {
		out.Messages = append(out.Messages, toMessageDTO(&page.Messages[i].Message, page.Messages[i].UnreadCount))
	}
	return out
}

func toUnreadDTO(snap service.UnreadSnapshot) *dto.UnreadDTO {
	out := &dto.UnreadDTO{}
	_ = copier.CopyWithOption(out, &snap, copier.Option{DeepCopy: true})
	return out
}
