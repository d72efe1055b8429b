package router

import (
	"log"
	"net/http"

	"storefront/internal/apperr"

	"github.com/gin-gonic/gin"
)

// fail 按错误类别输出 {code, msg}。内部错误只记日志，不把细节返回给客户端。
func fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{
		"code":      status,
		"msg":       apperr.PublicMessage(err),
		"retryable": apperr.Retryable(err),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "msg": msg})
}
