package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-eventual/pkg/metrics"
)

// opsServer serves /metrics and /healthz next to a running processor.
type opsServer struct {
	e   *echo.Echo
	log *zap.Logger
}

func newOpsServer(reg *prometheus.Registry, log *zap.Logger) *opsServer {
	metrics.MustRegister(reg)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMid.Recover())

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	return &opsServer{e: e, log: log}
}

// start serves addr in the background; errors other than a clean close are logged.
func (s *opsServer) start(addr string) {
	go func() {
		s.log.Info("Serving metrics", zap.String("addr", addr))
		if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Metrics server exited", zap.Error(err))
		}
	}()
}

func (s *opsServer) shutdown(ctx context.Context) {
	if err := s.e.Shutdown(ctx); err != nil {
		s.log.Warn("Failed to stop metrics server", zap.Error(err))
	}
}
