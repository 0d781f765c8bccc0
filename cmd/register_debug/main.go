// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"

	"github.com/relabs-tech/optical_flow/internal/app"
	"github.com/relabs-tech/optical_flow/internal/config"
)

func main() {
	log.Println("starting flow sensor register debug tool (standalone)")

	if err := config.InitGlobal("flow_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunRegisterDebug(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
