package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lefinal/vr-arbiter/app"
	"github.com/lefinal/vr-arbiter/config"
	"github.com/lefinal/vr-arbiter/errors"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"_CONFIG"), "path to the config file")
	flag.Parse()
	source, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(errors.Prettify(err))
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = app.Boot(ctx, source)
	if err != nil {
		stop()
		log.Fatal(errors.Prettify(err))
	}
}
