package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/ceyewan/bff/clog"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDegraded  = "degraded"
)

// ProbeResult 单个依赖的探测结果
type ProbeResult struct {
	Status    string `json:"status"`
	Breaker   string `json:"breaker,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// DeepHealth /health/deep 的响应体
type DeepHealth struct {
	BFF          map[string]string      `json:"bff"`
	Services     map[string]ProbeResult `json:"services"`
	Dependencies map[string]ProbeResult `json:"dependencies,omitempty"`
	Overall      string                 `json:"overall"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": statusHealthy, "service": s.cfg.Service, "version": s.cfg.Version})
}

func (s *Server) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive", "service": s.cfg.Service})
}

func (s *Server) readiness(c *gin.Context) {
	switch {
	case s.draining.Load():
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "draining", "service": s.cfg.Service})
	case !s.ready.Load():
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting", "service": s.cfg.Service})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ready", "service": s.cfg.Service})
	}
}

// deepHealth 并发探测每个后端的健康路径（绕过熔断，不执行业务计划）以及缓存等依赖
func (s *Server) deepHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.DeepHealthTimeout)
	defer cancel()

	report := DeepHealth{
		BFF:          map[string]string{"status": statusHealthy, "version": s.cfg.Version},
		Services:     make(map[string]ProbeResult, len(s.deps.Backends)),
		Dependencies: make(map[string]ProbeResult, len(s.deps.Checks)),
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for id, d := range s.deps.Backends {
		g.Go(func() error {
			res := probe(gctx, func(ctx context.Context) error { return s.deps.Backend.Probe(ctx, d) })
			res.Breaker = s.deps.Breakers.State(id).String()
			mu.Lock()
			report.Services[id] = res
			mu.Unlock()
			return nil
		})
	}
	for name, check := range s.deps.Checks {
		g.Go(func() error {
			res := probe(gctx, check)
			mu.Lock()
			report.Dependencies[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Overall = statusHealthy
	for name, res := range merged(report.Services, report.Dependencies) {
		if res.Status != statusHealthy {
			report.Overall = statusDegraded
			s.logger.WarnContext(ctx, "dependency unhealthy",
				clog.String("dependency", name),
				clog.String("error", res.Error))
		}
	}
	c.JSON(http.StatusOK, report)
}

func probe(ctx context.Context, check Check) ProbeResult {
	start := time.Now()
	err := check(ctx)
	res := ProbeResult{Status: statusHealthy, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = statusUnhealthy
		res.Error = err.Error()
	}
	return res
}

func merged(maps ...map[string]ProbeResult) map[string]ProbeResult {
	out := make(map[string]ProbeResult)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
