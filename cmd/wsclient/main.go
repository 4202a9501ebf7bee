package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"pushgate.com/internal/gateway/wsclient"
	"pushgate.com/pkg/logger"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8000/ws/cli-1", "gateway websocket url, including client id")
	topics := flag.String("topics", "chat:room1", "comma separated type:id list")
	level := flag.String("log", "info", "log level")
	flag.Parse()

	ts, err := wsclient.ParseTopics(*topics)
	if err != nil {
		log.Fatalf("parse topics: %v", err)
	}
	logger.Init("wsclient", *level)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &wsclient.Client{
		URL:          *url,
		Topics:       ts,
		StableReset:  30 * time.Second,
		OnRawMessage: func(b []byte) { fmt.Println(string(b)) },
	}
	_ = c.Run(ctx)
}
