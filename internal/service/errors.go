package service

import (
	"Murmur/internal/gateway"
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	InternalServerError = 500
)

var (
	ErrParamInvalid   = errors.New("参数错误")
	ErrPageOutOfOrder = errors.New("分页必须按顺序请求")
	ErrSessionClosed  = errors.New("会话已关闭，请重新连接")
	ErrNotRoomMember  = gateway.ErrNotMember
	UnauthorizedError = errors.New("权限不足")
	UnExpectedError   = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:   BadRequest,
	ErrPageOutOfOrder: BadRequest,
	ErrSessionClosed:  Unauthorized,
	ErrNotRoomMember:  Forbidden,
	UnauthorizedError: Unauthorized,
	UnExpectedError:   InternalServerError,
}

// ErrorCode 按 errors.Is 查找业务码，包装过的错误同样适用
func ErrorCode(err error) (int, bool) {
	if code, ok := ErrorMap[err]; ok {
		return code, true
	}
	for target, code := range ErrorMap {
		if errors.Is(err, target) {
			return code, true
		}
	}
	return 0, false
}
