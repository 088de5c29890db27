package bootstrap

import (
	"context"
	"log/slog"
	"os"

	"github.com/eleven-am/voice-client/internal/audio"
	"github.com/eleven-am/voice-client/internal/connection"
	"github.com/eleven-am/voice-client/internal/events"
	"github.com/eleven-am/voice-client/internal/observability"
	"github.com/eleven-am/voice-client/internal/session"
	"github.com/eleven-am/voice-client/internal/shared"
	"github.com/eleven-am/voice-client/internal/transport"
	"go.uber.org/fx"
)

func NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func NewMetrics() *observability.Metrics {
	return observability.NewMetrics("voiceclient")
}

func NewDialer(log *slog.Logger) transport.Dialer {
	return transport.NewWebSocketDialer(log)
}

// NewDevice provides the no-op duplex device. Deployments with real audio
// hardware replace this provider with their own engine.
func NewDevice() audio.Device {
	return audio.NewNopDevice()
}

func NewCoordinator(cfg *Config, dialer transport.Dialer, device audio.Device, metrics *observability.Metrics, log *slog.Logger) *session.Coordinator {
	return session.New(session.Config{
		Connection: connection.Config{
			URL:               cfg.ServerURL,
			Token:             cfg.Token,
			DeviceID:          cfg.DeviceID,
			HeartbeatInterval: cfg.HeartbeatInterval,
			Backoff: shared.BackoffConfig{
				Initial:  cfg.ReconnectInitial,
				MaxDelay: cfg.ReconnectMax,
			},
		},
		RequestTimeout: cfg.RequestTimeout,
	}, dialer, device, metrics, log)
}

func StartCoordinator(lc fx.Lifecycle, c *session.Coordinator, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := c.Connect(ctx); err != nil {
				// Non-fatal: session operations re-attempt the connect.
				log.Warn("initial connect failed", "error", err)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			c.Dispose()
			return nil
		},
	})
}

// LogConversation subscribes a sink that mirrors routed chat traffic into
// the log, standing in for the external conversation store.
func LogConversation(c *session.Coordinator, log *slog.Logger) {
	c.Subscribe(func(evt events.Event) {
		switch evt.Kind {
		case events.KindUserMessage:
			log.Info("chat turn", "role", "user", "text", evt.Text)
		case events.KindTextMessage:
			log.Info("chat turn", "role", "assistant", "text", evt.Text)
		case events.KindSTTResult:
			log.Info("chat turn", "role", "user", "source", "voice", "text", evt.Text)
		case events.KindError:
			log.Warn("assistant error", "error", evt.Text)
		}
	})
}

var ClientModule = fx.Options(
	fx.Provide(
		NewLogger,
		NewMetrics,
		NewDialer,
		NewDevice,
		NewCoordinator,
	),
	fx.Invoke(StartCoordinator, LogConversation),
)

func Run() {
	fx.New(
		fx.Provide(LoadConfig),
		ClientModule,
		DebugModule,
	).Run()
}
