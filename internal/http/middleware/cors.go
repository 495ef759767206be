package middleware

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS applies cfg to requests from allowed origins only. A request from an
// origin outside cfg.AllowOrigins is served as if it carried no Origin, so
// it gets a normal response without Access-Control-* headers instead of 403.
func CORS(cfg cors.Config) gin.HandlerFunc {
	handler := cors.New(cfg)
	if cfg.AllowAllOrigins {
		return handler
	}
	allowed := make(map[string]struct{}, len(cfg.AllowOrigins))
	for _, o := range cfg.AllowOrigins {
		allowed[strings.ToLower(o)] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if _, ok := allowed[strings.ToLower(origin)]; !ok {
			c.Next()
			return
		}
		handler(c)
	}
}
