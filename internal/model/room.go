package model

import "time"

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Room 会话主表，成员数为 2 时视为单聊
type Room struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(128)" json:"name"`
	CreatedBy uint64    `gorm:"not null;default:0" json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Members []RoomMember `gorm:"foreignKey:RoomID;references:ID" json:"members"`
}

func (Room) TableName() string { return "rooms" }

// IsDirect 是否为单聊
func (r *Room) IsDirect() bool {
	return len(r.Members) == 2
}

// RoomMember 会话成员表
type RoomMember struct {
	ID        uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID    uint64     `gorm:"uniqueIndex:idx_room_user" json:"roomId"`
	UserID    uint64     `gorm:"uniqueIndex:idx_room_user;index" json:"userId"`
	Role      string     `gorm:"type:varchar(16);not null;default:'member'" json:"role"`
	InvitedBy *uint64    `json:"invitedBy,omitempty"`
	InvitedAt *time.Time `json:"invitedAt,omitempty"`
	JoinedAt  time.Time  `json:"joinedAt"`
}

func (RoomMember) TableName() string { return "room_members" }
