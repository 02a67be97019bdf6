package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"VoiceForge/pkg/errors"
)

type Body struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: http.StatusOK, Msg: msg, Data: data})
}

func Fail(c *gin.Context, msg string, data interface{}) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Body{Code: http.StatusBadRequest, Msg: msg, Data: data})
}

// AbortWithError 按错误分类返回状态码，未分类错误不向外暴露细节
func AbortWithError(c *gin.Context, err error) {
	kind := errors.KindOf(err)
	status := kind.HTTPStatus()
	msg := errors.GetMessage(err)
	if kind == errors.KindUnknown || kind == errors.KindInternal {
		msg = "Internal Server Error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, Body{Code: status, Msg: msg, Data: gin.H{"kind": kind}})
}
