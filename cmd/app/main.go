package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	appcmd "github.com/datarivers-io/alohomora/internal/cmd/app"
)

func main() {
	cfg, err := appcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[APP] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := appcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
