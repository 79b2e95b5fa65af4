package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/statlake/statlake/cmd"
)

func main() {
	// A .env is a convenience for local runs; not having one is fine.
	_ = godotenv.Load()

	rootCmd := cmd.NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
