// Package response 统一 gin 接口的 JSON 返回结构
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body 返回体
type Body struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Success 200 返回数据
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Body{Code: 0, Message: "ok", Data: data})
}

// Created 201 返回数据
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Body{Code: 0, Message: "ok", Data: data})
}

// ErrorWithStatus 以指定状态码返回错误，detail 仅用于客户端可以看到的校验信息
func ErrorWithStatus(c *gin.Context, status int, message, detail string) {
	c.AbortWithStatusJSON(status, Body{Code: status, Message: message, Detail: detail})
}
