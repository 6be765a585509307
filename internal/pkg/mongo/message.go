package mongo

import (
	"Murmur/internal/pkg/changefeed"
	"time"
)

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeFile  = "file"
)

// Message MongoDB 消息明细模型
type Message struct {
	ID       string    `bson:"_id,omitempty" json:"id"`         // MongoDB 自动生成的 ObjectID
	RoomID   uint64    `bson:"room_id" json:"roomId"`           // 关联 MySQL 的会话 ID
	SenderID uint64    `bson:"sender_id" json:"senderId"`       // 发送者 UID
	Type     string    `bson:"type" json:"type"`                // text / image / video / file
	Content  string    `bson:"content" json:"content"`          // 文本内容或消息预览
	FileID   string    `bson:"file_id,omitempty" json:"fileId"` // 附件引用
	SentAt   time.Time `bson:"sent_at" json:"sentAt"`           // 消息发送时间
}

// ToChange 转为变更事件的行数据
func (m *Message) ToChange(op changefeed.Op) changefeed.Change {
	return changefeed.Change{
		Table: changefeed.TableMessages,
		Op:    op,
		Row: changefeed.Row{
			"id":        m.ID,
			"room_id":   m.RoomID,
			"sender_id": m.SenderID,
			"type":      m.Type,
			"sent_at":   m.SentAt,
		},
		TS: m.SentAt,
	}
}
