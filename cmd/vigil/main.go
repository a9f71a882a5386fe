package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/vigilguard/vigil/internal/cmd"
)

func main() {
	// Optional .env for local development, real deployments set the
	// environment directly.
	_ = godotenv.Load()

	os.Exit(cmd.Execute())
}
