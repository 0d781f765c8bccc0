package main

import (
	"log"

	"github.com/relabs-tech/optical_flow/internal/app"
	"github.com/relabs-tech/optical_flow/internal/config"
)

func main() {
	log.Println("starting optical-flow display (MQTT subscriber)")

	if err := config.InitGlobal("flow_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunDisplay(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
