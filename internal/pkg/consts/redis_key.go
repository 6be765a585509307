package consts

import "fmt"

const (
	TokenBlacklistKey = "auth:blacklist:"
	RoomListKey       = "query:rooms:"
	MessagePageKey    = "query:pages:"
)

// RoomListCacheKey 用户会话列表的缓存键
func RoomListCacheKey(userID uint64) string {
	return fmt.Sprintf("%s%d", RoomListKey, userID)
}

// MessagePagePrefix 某用户某会话所有分页的键前缀
func MessagePagePrefix(userID, roomID uint64) string {
	return fmt.Sprintf("%s%d:", UserPagesPrefix(userID), roomID)
}

// MessagePageCacheKey 单页消息的缓存键
func MessagePageCacheKey(userID, roomID uint64, page int) string {
	return fmt.Sprintf("%s%d", MessagePagePrefix(userID, roomID), page)
}

// UserPagesPrefix 某用户所有会话分页的键前缀
func UserPagesPrefix(userID uint64) string {
	return fmt.Sprintf("%s%d:", MessagePageKey, userID)
}
