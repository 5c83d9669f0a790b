package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"tasknest-ai-server/src/core/auth"
	"tasknest-ai-server/src/core/utils"

	"github.com/gin-gonic/gin"
)

// 上下文键
const (
	CtxUserID        = "user_id"
	CtxCorrelationID = "correlation_id"
)

// CORS 返回一个统一的跨域中间件
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
		} else {
			c.Header("Access-Control-Allow-Origin", "*")
		}

		c.Header("Access-Control-Allow-Headers", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400") // 24小时

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// timingWriter 在首次写出前填入X-Response-Time
// 响应体一旦开始写出header就无法再修改，耗时必须在此之前落盘
type timingWriter struct {
	gin.ResponseWriter
	start  time.Time
	marked bool
}

func (w *timingWriter) mark() {
	if !w.marked {
		w.marked = true
		w.Header().Set("X-Response-Time", fmt.Sprintf("%dms", time.Since(w.start).Milliseconds()))
	}
}

func (w *timingWriter) WriteHeader(code int) {
	w.mark()
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) WriteHeaderNow() {
	w.mark()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *timingWriter) Write(b []byte) (int, error) {
	w.mark()
	return w.ResponseWriter.Write(b)
}

func (w *timingWriter) WriteString(s string) (int, error) {
	w.mark()
	return w.ResponseWriter.WriteString(s)
}

// CorrelationID 为每个请求分配追踪ID，并记录响应耗时
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = utils.GenerateCorrelationID()
		}
		c.Set(CtxCorrelationID, correlationID)
		c.Header("X-Correlation-ID", correlationID)

		c.Writer = &timingWriter{ResponseWriter: c.Writer, start: time.Now()}
		c.Next()
	}
}

// UserJWTAuth 使用用户JWT进行认证，设置 user_id 到上下文
// 路径中携带 :user_id 时必须与token一致，防止跨用户访问
func UserJWTAuth(authToken *auth.AuthToken, logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的认证token或token已过期"})
			c.Abort()
			return
		}

		token := authHeader[7:]
		claims, err := authToken.ParseToken(token)
		if err != nil {
			if logger != nil {
				logger.Warn("token验证失败: %v", err)
			}
			c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "token验证失败"})
			c.Abort()
			return
		}

		if pathUserID := c.Param("user_id"); pathUserID != "" && pathUserID != claims.UserID {
			if logger != nil {
				logger.Warn("路径用户与token不匹配: 路径=%s, token=%s", pathUserID, claims.UserID)
			}
			c.JSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "无权访问该用户资源"})
			c.Abort()
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Next()
	}
}

// GetCorrelationID 从上下文读取追踪ID
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(CtxCorrelationID)
}
