package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/docflow-gin/internal/types"
)

// APIError API 错误
type APIError struct {
	Code    int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	return e.Message
}

// ErrorHandlerMiddleware 错误处理中间件
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			Error(c, apiErr.Code, apiErr.Message, apiErr.Detail)
			return
		}
		HandleError(c, err)
	}
}

// WrapError 包装错误
func WrapError(err error, code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Detail:  err.Error(),
	}
}

// StatusForKind 领域错误类别对应的 HTTP 状态码
func StatusForKind(kind types.ErrorKind) int {
	switch kind {
	case types.KindAuthorization, types.KindNotEligible:
		return http.StatusForbidden
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindStateConflict:
		return http.StatusConflict
	case types.KindSignature:
		return http.StatusUnprocessableEntity
	case types.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// HandleError 将领域错误写为响应
// 非领域错误不向客户端暴露细节
func HandleError(c *gin.Context, err error) {
	var domainErr *types.Error
	if !errors.As(err, &domainErr) {
		GetLogger().WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
		Error(c, http.StatusInternalServerError, "internal server error", "")
		return
	}

	status := StatusForKind(domainErr.Kind)
	if status == http.StatusInternalServerError {
		GetLogger().WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
	}
	c.JSON(status, ErrorResponse{
		Code:    status,
		Message: domainErr.Message,
		Error:   domainErr.Code,
	})
}
