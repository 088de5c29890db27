package bootstrap

import (
	"context"
	"net/http"

	"github.com/eleven-am/voice-client/internal/observability"
	"github.com/eleven-am/voice-client/internal/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
)

// NewDebugServer exposes the client's health and metrics endpoints.
func NewDebugServer(c *session.Coordinator) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/health", func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, map[string]any{
			"connected":  c.IsConnected(),
			"streaming":  c.IsVoiceStreaming(),
			"session_id": c.SessionID(),
		})
	})
	e.GET("/metrics", echo.WrapHandler(observability.MetricsHandler()))

	return e
}

func StartDebugServer(lc fx.Lifecycle, e *echo.Echo, cfg *Config) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := e.Start(cfg.DebugAddr); err != nil && err != http.ErrServerClosed {
					e.Logger.Fatal(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}

var DebugModule = fx.Options(
	fx.Provide(NewDebugServer),
	fx.Invoke(StartDebugServer),
)
