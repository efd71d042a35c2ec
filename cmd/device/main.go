package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pokar-monil/kharchakitab-sub000/internal/device/cli"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/config"
)

func main() {

	cmd := ""
	args := []string{}
	if len(os.Args) > 1 {
		cmd = os.Args[1]
		args = os.Args[2:]
	}

	cfg := config.LoadConfig(args)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	app, err := cli.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	if err := app.Run(ctx, cmd, args); err != nil {
		log.Fatalf("%v", err)
	}

}
