// Command prepai indexes a candidate's resume and job description, retrieves
// the sections most relevant to a topic query, and serves the retrieval index
// over HTTP for interview question generation.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/54b3r/prepai-go/cmd/prepai/commands"
)

func main() {
	// A missing .env is normal; real env vars always win over it.
	_ = godotenv.Load()

	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
