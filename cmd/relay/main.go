package main

import (
	"log"

	"github.com/pokar-monil/kharchakitab-sub000/internal/relay"
	"github.com/pokar-monil/kharchakitab-sub000/internal/relay/config"
)

func main() {

	cfg := config.LoadConfig()
	app := relay.NewRelayApp(cfg)

	if err := app.Run(); err != nil {
		log.Printf("%v", err)
	}

}
