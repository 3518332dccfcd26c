package common

import (
	"github.com/gin-gonic/gin"
)

// OK writes data as the response body with the given status.
func OK(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

// Fail writes {"error": msg, "code": code}. code is a finer-grained
// application code (e.g. 40401) next to the HTTP status.
func Fail(c *gin.Context, status int, code int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": msg,
		"code":  code,
	})
}
