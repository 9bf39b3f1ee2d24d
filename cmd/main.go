package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"quiz-room-service/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Error().Err(err).Msg("quiz-room-service failed")
		os.Exit(1)
	}
}
