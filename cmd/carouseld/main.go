// Command carouseld runs the carousel conversion daemon in the foreground.
// It is normally launched by `carousel daemon start` but can be run directly
// under a process supervisor.
package main

import (
	"context"
	"flag"
	"log"

	"carousel/internal/config"
	"carousel/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	dev := flag.Bool("dev", false, "verbose development logging")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	opts := daemonrun.Options{
		LogLevel:    *logLevel,
		Development: *dev,
	}
	if err := daemonrun.Run(context.Background(), cfg, opts); err != nil {
		log.Fatalf("carouseld: %v", err)
	}
}
