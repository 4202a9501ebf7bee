package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"pushgate.com/pkg/logger"
	"pushgate.com/pkg/xerr"
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailFromErr 按 xerr 的业务码映射 http 状态；对外只回 code + message，内部错误写日志
func FailFromErr(c *gin.Context, err error) {
	code := xerr.CodeOf(err)
	httpStatus, msg := mapCode(code, err)
	if httpStatus >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "http error",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("biz_code", code),
			zap.Error(err),
		)
	}
	Fail(c, httpStatus, code, msg)
}

func mapCode(code int, err error) (int, string) {
	var ce *xerr.CodeError
	msg := xerr.MapErrMsg(code)
	if errors.As(err, &ce) && ce.Msg != "" {
		msg = ce.Msg
	}
	switch code {
	case xerr.RequestParamsError:
		return http.StatusBadRequest, msg
	case xerr.RecordNotFound, xerr.ClientNotConnected:
		return http.StatusNotFound, msg
	case xerr.RateLimited:
		return http.StatusTooManyRequests, msg
	case xerr.DbError:
		return http.StatusInternalServerError, msg
	default:
		// 未知错误不透出内部信息
		return http.StatusInternalServerError, "internal error"
	}
}
