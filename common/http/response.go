package http

import "net/http"

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	CodeSuccess     = 0     // 成功
	CodeServerError = 10005 // 服务器内部错误
)

// Success 成功响应
func (c *Context) Success(data interface{}) {
	c.JSON(http.StatusOK, &Response{Code: CodeSuccess, Message: "success", Data: data})
}

// InternalServerError 服务器内部错误响应
func (c *Context) InternalServerError(message string) {
	c.JSON(http.StatusInternalServerError, &Response{Code: CodeServerError, Message: message})
}
