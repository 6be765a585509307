package dto

// 客户端帧类型
const (
	WSEnterRoom = "enter_room"
	WSLeaveRoom = "leave_room"
	WSFetchPage = "fetch_page"
	WSResync    = "resync"
)

// 服务端帧类型
const (
	WSUnread = "unread"
	WSPage   = "page"
	WSAck    = "ack"
	WSError  = "error"
)

// WSClientFrame 客户端发来的指令
type WSClientFrame struct {
	Type      string `json:"type" validate:"required,oneof=enter_room leave_room fetch_page resync"`
	RequestID string `json:"requestId" validate:"max=64"`
	RoomID    uint64 `json:"roomId" validate:"required_unless=Type resync"`
	Page      int    `json:"page" validate:"min=0"`
}

// WSServerFrame 推送给客户端的帧
type WSServerFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Code      int    `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	Data      any    `json:"data,omitempty"`
}
