package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"pushgate.com/internal/gateway/app"
)

func main() {
	// Ctrl+C / kubernetes 停止信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := app.New("pushgate")
	if err != nil {
		log.Fatalf("init pushgate error: %v", err)
	}
	if err := gw.Run(ctx); err != nil {
		log.Fatalf("pushgate exit with error: %v", err)
	}
	log.Println("pushgate exit")
}
