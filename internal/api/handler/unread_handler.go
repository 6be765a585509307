package handler

import (
	"Murmur/internal/api/dto"
	"Murmur/internal/pkg/response"
	"Murmur/internal/pkg/util"
	"Murmur/internal/service"

	"github.com/gin-gonic/gin"
)

type UnreadHandler struct {
	sessions *service.SessionManager
}

func NewUnreadHandler(sessions *service.SessionManager) *UnreadHandler {
	return &UnreadHandler{sessions: sessions}
}

// GetUnread 当前的未读数快照
func (s *UnreadHandler) GetUnread(c *gin.Context) {
	sess, ok := currentSession(c, s.sessions)
	if !ok {
		return
	}
	response.Success(c, toUnreadDTO(sess.Snapshot()))
}

// Resync 清掉查询缓存并整体重新同步未读数
func (s *UnreadHandler) Resync(c *gin.Context) {
	var req dto.ResyncReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, err)
			return
		}
	}
	if err := util.ValidateDTO(&req); err != nil {
		response.Fail(c, response.BadRequest, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	sess, ok := currentSession(c, s.sessions)
	if !ok {
		return
	}
	if err := sess.Resync(c.Request.Context(), req.Reason); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toUnreadDTO(sess.Snapshot()))
}
