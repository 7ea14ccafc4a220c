package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/tillberg/autorestart"

	"github.com/hardspoon/chatsemble/internal/cli"
)

func main() {
	godotenv.Load()
	go autorestart.RestartOnChange()

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
