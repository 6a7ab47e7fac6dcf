package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/xiaot623/gogo/mgmt/cmd"
	"github.com/xiaot623/gogo/mgmt/internal/logutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	logger := logutil.New(os.Getenv("LOG_LEVEL"), os.Stderr)
	slog.SetDefault(logger)

	code := cmd.Execute(ctx, cmd.NewCLI(), logger)
	stop()
	os.Exit(code)
}
