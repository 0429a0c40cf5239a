package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Brownie44l1/waste-api/internal/app"
	"github.com/Brownie44l1/waste-api/internal/config"
	"github.com/Brownie44l1/waste-api/internal/logger"
	"github.com/Brownie44l1/waste-api/internal/telegram"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Bot.Token == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is not set")
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	svc, err := app.NewService(cfg, zl, nil)
	if err != nil {
		zl.Fatal("failed to initialize classifier", zap.Error(err))
	}
	defer svc.Close()

	api, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		zl.Fatal("failed to connect to telegram", zap.Error(err))
	}
	api.Debug = cfg.Bot.Debug
	zl.Info("telegram bot authorized", zap.String("username", api.Self.UserName))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telegram.New(api, svc, cfg.MaxUploadBytes, zl).Run(ctx, cfg.Bot.Timeout); err != nil {
		zl.Error("bot stopped", zap.Error(err))
	}
}
