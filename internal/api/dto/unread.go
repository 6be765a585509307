package dto

import "time"

// UnreadDTO 未读数快照
type UnreadDTO struct {
	Counts       map[uint64]int `json:"counts"`
	Total        int            `json:"total"`
	LastSyncTime time.Time      `json:"lastSyncTime"`
	IsSyncing    bool           `json:"isSyncing"`
	SyncError    string         `json:"syncError,omitempty"`
	Version      uint64         `json:"version"`
}

// ResyncReq 客户端回到前台或网络恢复后请求整体重新同步
type ResyncReq struct {
	Reason string `json:"reason" validate:"omitempty,max=64"`
}
