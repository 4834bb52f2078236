package main

import (
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/sheenhq/runhub/pkg/runhub"
)

func main() {

	// .env is optional, real deployments set the environment directly
	_ = godotenv.Load()

	runhub.SetupLogger()

	if err := runhub.Start(nil); err != nil {
		slog.Error("Engine exited with error", "error", err)
	}
}
