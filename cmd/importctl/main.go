package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/stockimport/cmd/importctl/commands"
	"github.com/JonMunkholm/stockimport/internal/logging"
	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Values already in the environment win over .env.
	_ = godotenv.Load()

	slog.SetDefault(logging.New(os.Stderr, os.Getenv("IMPORTCTL_LOG_LEVEL"), "text"))

	if err := commands.App().Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
