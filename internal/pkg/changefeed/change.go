package changefeed

import (
	"fmt"
	"strconv"
	"time"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

const (
	TableMessages    = "messages"
	TableReadCursors = "read_cursors"
)

// Change 一条行级变更
type Change struct {
	Table string
	Op    Op
	Row   Row
	TS    time.Time
}

// Row 变更后的行数据，Canal 推送的字段值均为字符串
type Row map[string]any

// Uint64 读取整型字段
func (r Row) Uint64(key string) uint64 {
	switch v := r[key].(type) {
	case uint64:
		return v
	case int64:
		if v < 0 {
			return 0
		}
		return uint64(v)
	case int:
		if v < 0 {
			return 0
		}
		return uint64(v)
	case float64:
		if v < 0 {
			return 0
		}
		return uint64(v)
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// String 读取字符串字段
func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Time 读取时间字段
func (r Row) Time(key string) time.Time {
	switch v := r[key].(type) {
	case time.Time:
		return v
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
