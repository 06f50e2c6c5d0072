package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/markdave123-py/Groundwise/internal/app"
	"github.com/markdave123-py/Groundwise/internal/config"
	"github.com/markdave123-py/Groundwise/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	logging.Setup(cfg.LogLevel, cfg.LogJSON)

	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("startup failed")
	}
	defer application.Close()

	logrus.Info("Groundwise is running; DB connected and bootstrapped.")
	if err := application.Run(ctx); err != nil {
		logrus.WithError(err).Error("server stopped")
		return
	}
	logrus.Info("shut down cleanly")
}
