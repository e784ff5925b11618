package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := NewCLI().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("kspacegan failed")
		cancel()
		os.Exit(1)
	}
}
