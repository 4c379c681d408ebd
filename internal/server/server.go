// Package server builds the HTTP router and server around the modules.
package server

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/loopforge/internal/config"
	"github.com/mantonx/loopforge/internal/middleware"
)

// RouteRegistrar is implemented by modules exposing HTTP routes
type RouteRegistrar interface {
	RegisterRoutes(router *gin.Engine)
}

// RouteInfo describes one registered route
type RouteInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// SetupRouter configures and returns the main router
func SetupRouter(cfg config.ServerConfig, logger hclog.Logger, modules ...RouteRegistrar) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.CORS(), middleware.RequestLogger(logger), middleware.ErrorLogger(logger))

	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	if cfg.Auth.Secret != "" {
		r.Use(middleware.Auth(middleware.AuthConfig{
			Secret:    []byte(cfg.Auth.Secret),
			Issuer:    cfg.Auth.Issuer,
			ClockSkew: cfg.Auth.ClockSkew,
			Public:    []string{"/api/v1/render/health"},
		}, logger.Named("auth")))
		logger.Info("API token authentication enabled", "issuer", cfg.Auth.Issuer)
	}

	for _, m := range modules {
		m.RegisterRoutes(r)
	}

	r.GET("/api", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"routes": listRoutes(r)})
	})

	return r, nil
}

// New wraps handler in an http.Server configured from cfg
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

func listRoutes(r *gin.Engine) []RouteInfo {
	routes := r.Routes()
	out := make([]RouteInfo, 0, len(routes))
	for _, rt := range routes {
		out = append(out, RouteInfo{Method: rt.Method, Path: rt.Path})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path == out[j].Path {
			return out[i].Method < out[j].Method
		}
		return out[i].Path < out[j].Path
	})
	return out
}
