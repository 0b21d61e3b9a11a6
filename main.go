package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/duongtuanvn/Amazon-Review-Scraper/cmd"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil && ctx.Err() == nil {
		os.Exit(1)
	}
}
