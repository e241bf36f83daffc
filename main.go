package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/Fetcharr/internal"
	"github.com/hbomb79/Fetcharr/pkg/logger"
)

var log = logger.Get("Main")

// main is the entry point to the program. It loads the user configuration
// (from the YAML file if one was provided, otherwise from the environment),
// constructs Fetcharr and runs it until an interrupt is received.
func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	logLevel := flag.Int("log-level", 2, "minimum log level to output (0 and below is most verbose)")
	flag.Parse()

	logger.SetMinLoggingLevel(*logLevel)

	config := internal.FetcharrConfig{}
	if *configPath != "" {
		if err := config.LoadFromFile(*configPath); err != nil {
			log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	} else if err := config.LoadFromEnv(); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Fetcharr exited with error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Fetcharr shutdown complete\n")
}
