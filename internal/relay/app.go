package relay

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pokar-monil/kharchakitab-sub000/internal/logging"
	"github.com/pokar-monil/kharchakitab-sub000/internal/relay/config"
)

// App ties the relay server to process lifecycle: structured logging and
// signal-driven graceful shutdown.
type App struct {
	config *config.Config
	logger logging.Logger
	server *Server
}

func NewRelayApp(c *config.Config) *App {
	logger := logging.NewJSON(os.Stdout, slog.LevelInfo)

	return &App{
		config: c,
		logger: logger,
		server: NewServer(c, logger),
	}
}

// Run starts the relay and blocks until SIGINT, SIGTERM or SIGQUIT.
func (app *App) Run() error {
	ctx := context.Background()
	if err := app.server.Start(); err != nil {
		return err
	}
	app.logger.Info(ctx, "relay started", "addr", app.server.Addr())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-sigs

	app.logger.Info(ctx, "shutting down")
	return app.server.Stop()
}
