package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"webcamd/internal/app"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	flag.Parse()

	application, err := app.NewApp(*configPath)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Printf("Server stopped with error: %v", err)
		application.Close()
		os.Exit(1)
	}
}
