package response

import (
	"Murmur/internal/api/dto"
	"Murmur/internal/service"
	"errors"
	log "log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

const (
	Ok                  = 200
	BadRequest          = service.BadRequest
	Unauthorized        = service.Unauthorized
	Forbidden           = service.Forbidden
	NotFound            = service.NotFound
	InternalServerError = service.InternalServerError
)

// Success 成功返回封装
func Success(ctx *gin.Context, data any) {
	ctx.JSON(http.StatusOK, dto.Response{
		Code:    Ok,
		Message: "success",
		Data:    data,
	})
}

// Fail 失败返回封装
func Fail(c *gin.Context, businessCode int, message string) {
	c.JSON(http.StatusOK, dto.Response{
		Code:    businessCode,
		Message: message,
		Data:    nil,
	})
}

// Error 处理错误
func Error(c *gin.Context, err error) {
	code, msg := Classify(err)
	if code == InternalServerError {
		log.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "err", err)
	}
	Fail(c, code, msg)
}

// Classify 把错误映射为业务码与对外提示，HTTP 与 WebSocket 共用
func Classify(err error) (int, string) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return BadRequest, service.ErrParamInvalid.Error()
	}

	var unmarshalTypeError *json.UnmarshalTypeError
	if errors.As(err, &unmarshalTypeError) {
		return BadRequest, "Json错误"
	}

	if code, ok := service.ErrorCode(err); ok {
		return code, err.Error()
	}
	return InternalServerError, service.UnExpectedError.Error()
}
