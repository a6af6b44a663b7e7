// Package server wires the admin HTTP transport.
package server

import (
	"context"
	nethttp "net/http"

	"EgressGate/internal/conf"
	"EgressGate/internal/server/middleware"
	"EgressGate/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer new an HTTP server exposing the fetch and admin surfaces.
func NewHTTPServer(c *conf.Server, gateway *service.GatewayService, admin *service.AdminService, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logger),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerGatewayRoutes(srv, gateway)
	registerAdminRoutes(srv, admin)

	return srv
}

func registerGatewayRoutes(srv *http.Server, gateway *service.GatewayService) {
	r := srv.Route("/v1")

	r.POST("/fetch", func(ctx http.Context) error {
		var in service.FetchRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		clientIP := middleware.ClientIP(ctx.Request())
		h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
			return gateway.Fetch(c, req.(*service.FetchRequest), clientIP)
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, out)
	})
}

func registerAdminRoutes(srv *http.Server, admin *service.AdminService) {
	r := srv.Route("/admin")

	r.GET("/proxies", func(ctx http.Context) error {
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return admin.ProxyStats(c), nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, out)
	})

	r.GET("/ratelimit", func(ctx http.Context) error {
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return admin.RateLimitStats(c), nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, out)
	})

	r.GET("/cache/stats", func(ctx http.Context) error {
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return admin.CacheStats(c), nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, out)
	})

	r.DELETE("/cache/tos", func(ctx http.Context) error {
		host := ctx.Query().Get("host")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			admin.ClearTosCache(c, host)
			return map[string]string{"status": "ok"}, nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, out)
	})

	r.POST("/policy/reload", func(ctx http.Context) error {
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			if err := admin.ReloadPolicy(c); err != nil {
				return nil, err
			}
			return map[string]string{"status": "reloaded"}, nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, out)
	})
}
