package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// authRoutes 认证服务透传接口，路径与认证服务 /auth 下的路径一一对应
var authRoutes = []struct {
	method string
	path   string
}{
	{http.MethodPost, "/login"},
	{http.MethodPost, "/register"},
	{http.MethodPost, "/logout"},
	{http.MethodPost, "/refresh"},
	{http.MethodPost, "/forgot"},
	{http.MethodGet, "/me"},
	{http.MethodPost, "/password-reset/request"},
	{http.MethodPost, "/password-reset/confirm"},
	{http.MethodGet, "/google"},
}

// identityPaths 需要提取调用者身份的路由前缀，其余路由不访问认证服务
var identityPaths = []string{"/bff/app/", "/bff/aggregate/"}

func (s *Server) routes() {
	r := s.engine

	r.GET("/", s.root)
	r.GET("/health", s.health)
	r.GET("/health/liveness", s.liveness)
	r.GET("/health/readiness", s.readiness)
	r.GET("/health/deep", s.deepHealth)
	r.GET(s.cfg.MetricsPath, gin.WrapH(s.meter.Handler()))

	authGroup := r.Group("/bff/auth")
	for _, rt := range authRoutes {
		authGroup.Handle(rt.method, rt.path, s.authPassthrough("/auth"+rt.path))
	}

	r.Any("/bff/app/*path", s.appPassthrough)
	r.GET("/bff/aggregate/:plan", s.aggregate)
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": s.cfg.Service,
		"version": s.cfg.Version,
		"status":  "running",
		"endpoints": gin.H{
			"health":    "/health",
			"auth":      "/bff/auth/*",
			"app":       "/bff/app/*",
			"aggregate": "/bff/aggregate/*",
			"metrics":   s.cfg.MetricsPath,
		},
	})
}

// aggregate 成功时返回 {"data": ..., "partial": [...]}
func (s *Server) aggregate(c *gin.Context) {
	resp, err := s.deps.Aggregator.Execute(c.Request.Context(), c.Param("plan"), c.Request)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
