package handler

import (
	"Murmur/internal/api/dto"
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/response"
	"Murmur/internal/pkg/util"
	"Murmur/internal/service"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	sessions *service.SessionManager
}

func NewRoomHandler(sessions *service.SessionManager) *RoomHandler {
	return &RoomHandler{sessions: sessions}
}

func currentSession(c *gin.Context, sessions *service.SessionManager) (*service.Session, bool) {
	sess, err := sessions.Get(c.GetUint64(consts.UserIDKey))
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return sess, true
}

func bindRoomURI(c *gin.Context) (uint64, bool) {
	var uri dto.RoomURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return 0, false
	}
	if err := util.ValidateDTO(&uri); err != nil {
		response.Fail(c, response.BadRequest, err.Error())
		return 0, false
	}
	return uri.RoomID, true
}

// GetRooms 会话列表，附带最新消息与未读数
func (s *RoomHandler) GetRooms(c *gin.Context) {
	sess, ok := currentSession(c, s.sessions)
	if !ok {
		return
	}
	rooms, err := sess.Rooms(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	counts := sess.Snapshot().Counts
	res := make([]*dto.RoomDTO, 0, len(rooms))
	for _, r := range rooms {
		res = append(res, toRoomDTO(r, counts))
	}
	response.Success(c, res)
}

// EnterRoom 进入会话
func (s *RoomHandler) EnterRoom(c *gin.Context) {
	roomID, ok := bindRoomURI(c)
	if !ok {
		return
	}
	sess, ok := currentSession(c, s.sessions)
	if !ok {
		return
	}
	if err := sess.EnterRoom(c.Request.Context(), roomID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// LeaveRoom 离开会话
func (s *RoomHandler) LeaveRoom(c *gin.Context) {
	roomID, ok := bindRoomURI(c)
	if !ok {
		return
	}
	sess, ok := currentSession(c, s.sessions)
	if !ok {
		return
	}
	if err := sess.LeaveRoom(c.Request.Context(), roomID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetMessages 按页拉取消息，page 从 0 开始且必须依次请求
func (s *RoomHandler) GetMessages(c *gin.Context) {
	roomID, ok := bindRoomURI(c)
	if !ok {
		return
	}
	var q dto.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if err := util.ValidateDTO(&q); err != nil {
		response.Fail(c, response.BadRequest, err.Error())
		return
	}
	sess, ok := currentSession(c, s.sessions)
	if !ok {
		return
	}
	page, err := sess.FetchPage(c.Request.Context(), roomID, q.Page)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toPageDTO(roomID, page))
}
