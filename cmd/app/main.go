package main

import (
	"flag"
	"log"
	"os"

	"FuturesPilot/internal/di"
	"FuturesPilot/pkg/config"
)

func main() {
	defaultPath := "config/config.yaml"
	if p := os.Getenv("FUTURESPILOT_CONFIG"); p != "" {
		defaultPath = p
	}
	configPath := flag.String("config", defaultPath, "path to the YAML config (env FUTURESPILOT_CONFIG)")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("load config %s: %v", *configPath, err)
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("initialize futures pilot: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Printf("futures pilot exited: %v", err)
		os.Exit(1)
	}
}
